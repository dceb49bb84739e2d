package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"
)

func TestPoolRunsJobs(t *testing.T) {
	pool := NewPool(4, 16, zap.NewNop(), nil)
	pool.Start(context.Background())

	var wg sync.WaitGroup
	var ran int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		if !pool.Submit("", func(ctx context.Context) {
			defer wg.Done()
			atomic.AddInt32(&ran, 1)
		}) {
			t.Fatalf("job %d rejected", i)
		}
	}
	wg.Wait()
	pool.Stop()

	if got := atomic.LoadInt32(&ran); got != 10 {
		t.Errorf("ran = %d, want 10", got)
	}
}

func TestPoolDropsWhenFull(t *testing.T) {
	pool := NewPool(1, 1, zap.NewNop(), nil)
	release := make(chan struct{})
	started := make(chan struct{})
	pool.Start(context.Background())

	pool.Submit("", func(ctx context.Context) {
		close(started)
		<-release
	})
	<-started
	if !pool.Submit("", func(ctx context.Context) {}) {
		t.Fatal("queued job rejected")
	}
	if pool.Submit("", func(ctx context.Context) {}) {
		t.Error("job accepted beyond queue capacity")
	}
	close(release)
	pool.Stop()

	if pool.Submit("", func(ctx context.Context) {}) {
		t.Error("job accepted after Stop")
	}
}

func TestPoolKeepsOrderPerKey(t *testing.T) {
	pool := NewPool(4, 1024, zap.NewNop(), nil)
	pool.Start(context.Background())

	var mu sync.Mutex
	seen := map[string][]int{}
	keys := []string{"issue-a", "issue-b", "issue-c"}
	for i := 0; i < 50; i++ {
		for _, key := range keys {
			if !pool.Submit(key, func(ctx context.Context) {
				mu.Lock()
				seen[key] = append(seen[key], i)
				mu.Unlock()
			}) {
				t.Fatalf("job %s/%d rejected", key, i)
			}
		}
	}
	pool.Stop()

	for _, key := range keys {
		got := seen[key]
		if len(got) != 50 {
			t.Fatalf("%s ran %d jobs, want 50", key, len(got))
		}
		for i, v := range got {
			if v != i {
				t.Fatalf("%s order = %v", key, got)
			}
		}
	}
}

func TestPoolSurvivesPanics(t *testing.T) {
	pool := NewPool(1, 4, zap.NewNop(), nil)
	pool.Start(context.Background())

	done := make(chan struct{})
	pool.Submit("", func(ctx context.Context) { panic("boom") })
	pool.Submit("", func(ctx context.Context) { close(done) })
	<-done
	pool.Stop()
}
