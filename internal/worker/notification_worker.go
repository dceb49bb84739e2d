// Package worker runs notification fanout off the request path.
package worker

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/civicworks/civic-issues/internal/observability"
)

// Job is a unit of background work.
type Job func(ctx context.Context)

// Pool is a fixed set of goroutines, each draining its own bounded queue.
// Jobs submitted under the same key always land on the same worker, so they
// run in submission order. Submission never blocks: when the chosen queue is
// full the job is dropped and counted.
type Pool struct {
	logger  *zap.Logger
	metrics *observability.Metrics

	mu      sync.RWMutex
	queues  []chan Job
	next    atomic.Uint32
	stopped bool
	wg      sync.WaitGroup
}

// NewPool creates a pool; call Start before submitting. queueSize is spread
// across the workers.
func NewPool(workers, queueSize int, logger *zap.Logger, metrics *observability.Metrics) *Pool {
	if workers <= 0 {
		workers = 1
	}
	perWorker := (queueSize + workers - 1) / workers
	if perWorker <= 0 {
		perWorker = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	queues := make([]chan Job, workers)
	for i := range queues {
		queues[i] = make(chan Job, perWorker)
	}
	return &Pool{
		logger:  logger,
		metrics: metrics,
		queues:  queues,
	}
}

// Start launches the workers. Jobs receive ctx.
func (p *Pool) Start(ctx context.Context) {
	for i, queue := range p.queues {
		p.wg.Add(1)
		go p.run(ctx, i, queue)
	}
	p.logger.Info("notification workers started",
		zap.Int("workers", len(p.queues)),
		zap.Int("queue_per_worker", cap(p.queues[0])))
}

func (p *Pool) run(ctx context.Context, id int, queue <-chan Job) {
	defer p.wg.Done()
	for job := range queue {
		p.execute(ctx, id, job)
	}
}

func (p *Pool) execute(ctx context.Context, id int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("notification job panicked", zap.Int("worker", id), zap.Any("panic", r))
		}
	}()
	job(ctx)
}

// Submit enqueues job and reports whether it was accepted. Jobs sharing a
// non-empty key run in order on one worker; an empty key spreads jobs
// round-robin.
func (p *Pool) Submit(key string, job Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return false
	}
	select {
	case p.queues[p.shard(key)] <- job:
		return true
	default:
		p.metrics.RecordDroppedJob()
		p.logger.Warn("notification queue full; dropping job", zap.String("key", key))
		return false
	}
}

func (p *Pool) shard(key string) int {
	if key == "" {
		return int(p.next.Add(1)-1) % len(p.queues)
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(p.queues)))
}

// Stop rejects new jobs, lets queued ones finish and waits for the workers.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	for _, queue := range p.queues {
		close(queue)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
