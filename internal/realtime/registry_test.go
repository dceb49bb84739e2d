package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/civicworks/civic-issues/internal/domain"
	"github.com/civicworks/civic-issues/internal/notification"
	"github.com/civicworks/civic-issues/internal/observability"
	apperrors "github.com/civicworks/civic-issues/pkg/util/errorutil"
)

type fakeChannel struct {
	mu          sync.Mutex
	sent        []notification.Payload
	failSend    bool
	closed      bool
	closeCode   int
	closeReason string
}

func (f *fakeChannel) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend || f.closed {
		return errors.New("send failed")
	}
	var p notification.Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	f.sent = append(f.sent, p)
	return nil
}

func (f *fakeChannel) Close(code int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		f.closeCode = code
		f.closeReason = reason
	}
	return nil
}

func (f *fakeChannel) payloads() []notification.Payload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notification.Payload(nil), f.sent...)
}

type fakeVerifier map[string]domain.Identity

func (v fakeVerifier) VerifyCredential(_ context.Context, credential string) (domain.Identity, error) {
	if credential == "tok-db-down" {
		return domain.Identity{}, errors.New("connection refused")
	}
	identity, ok := v[credential]
	if !ok {
		return domain.Identity{}, apperrors.NewAuthError("unknown credential", nil)
	}
	return identity, nil
}

func newTestRegistry() *Registry {
	verifier := fakeVerifier{
		"tok-citizen": {UserID: "citizen-1", Role: domain.RoleCitizen},
		"tok-sup":     {UserID: "sup-1", Role: domain.RoleSupervisor},
	}
	return NewRegistry(verifier, zap.NewNop(), observability.NewMetrics(prometheus.NewRegistry()))
}

func TestRegisterChannel(t *testing.T) {
	tests := []struct {
		name       string
		credential string
		wantCode   string
		wantErr    bool
		wantClose  int
	}{
		{name: "missing credential", credential: "  ", wantCode: apperrors.CodeUnauthorized, wantClose: CloseNoCredential},
		{name: "unknown credential", credential: "bogus", wantCode: apperrors.CodeAuth, wantClose: CloseInvalidCredential},
		{name: "verifier unavailable", credential: "tok-db-down", wantErr: true, wantClose: CloseUnavailable},
		{name: "valid credential", credential: "tok-citizen"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := newTestRegistry()
			ch := &fakeChannel{}
			identity, err := registry.RegisterChannel(context.Background(), ch, tt.credential)

			if tt.wantCode != "" || tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				if tt.wantCode != "" && !apperrors.HasCode(err, tt.wantCode) {
					t.Fatalf("err = %v, want code %s", err, tt.wantCode)
				}
				if tt.wantErr && apperrors.HasCode(err, apperrors.CodeAuth) {
					t.Errorf("err = %v, outage reported as AUTH_ERROR", err)
				}
				if !ch.closed || ch.closeCode != tt.wantClose {
					t.Errorf("close = %v/%d, want %d", ch.closed, ch.closeCode, tt.wantClose)
				}
				if registry.Len() != 0 {
					t.Errorf("registry size = %d, want 0", registry.Len())
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if identity.UserID != "citizen-1" {
				t.Errorf("identity = %+v", identity)
			}
			got := ch.payloads()
			if len(got) != 1 || got[0].Type != notification.TypeConnected {
				t.Errorf("welcome = %+v", got)
			}
		})
	}
}

func TestRegister_SupersedesPriorChannel(t *testing.T) {
	registry := newTestRegistry()
	identity := domain.Identity{UserID: "u1", Role: domain.RoleOfficer}
	first, second := &fakeChannel{}, &fakeChannel{}

	registry.Register(identity, first)
	registry.Register(identity, second)

	if !first.closed || first.closeReason != "superseded" || first.closeCode != CloseSuperseded {
		t.Errorf("first channel close = %v %d %q", first.closed, first.closeCode, first.closeReason)
	}
	if second.closed {
		t.Error("second channel closed")
	}
	if registry.Len() != 1 {
		t.Errorf("registry size = %d, want 1", registry.Len())
	}

	if registry.Unregister("u1", first) {
		t.Error("stale channel unregistered the live one")
	}
	if !registry.DeliverToUser("u1", notification.Payload{Type: "x"}) {
		t.Error("delivery to live channel failed")
	}
	if !registry.Unregister("u1", second) {
		t.Error("live channel not unregistered")
	}
	if registry.DeliverToUser("u1", notification.Payload{Type: "x"}) {
		t.Error("delivery after unregister succeeded")
	}
}

func TestDeliverToRole(t *testing.T) {
	registry := newTestRegistry()
	sup1, sup2, admin, officer := &fakeChannel{}, &fakeChannel{}, &fakeChannel{}, &fakeChannel{}
	registry.Register(domain.Identity{UserID: "sup-1", Role: domain.RoleSupervisor}, sup1)
	registry.Register(domain.Identity{UserID: "sup-2", Role: domain.RoleSupervisor}, sup2)
	registry.Register(domain.Identity{UserID: "admin-1", Role: domain.RoleAdmin}, admin)
	registry.Register(domain.Identity{UserID: "off-1", Role: domain.RoleOfficer}, officer)

	sent := registry.DeliverToRole(domain.RoleSupervisor, notification.Payload{Type: notification.TypeIssueStatusChange}, "sup-2")
	if sent != 1 {
		t.Errorf("sent = %d, want 1", sent)
	}
	if len(sup1.payloads()) != 1 || len(sup2.payloads()) != 0 {
		t.Errorf("supervisor payloads = %d/%d", len(sup1.payloads()), len(sup2.payloads()))
	}
	if len(admin.payloads()) != 0 || len(officer.payloads()) != 0 {
		t.Error("other roles received a supervisor broadcast")
	}
}

func TestDeliver_FailedSendIsIsolated(t *testing.T) {
	registry := newTestRegistry()
	broken := &fakeChannel{failSend: true}
	healthy := &fakeChannel{}
	registry.Register(domain.Identity{UserID: "a1", Role: domain.RoleAdmin}, broken)
	registry.Register(domain.Identity{UserID: "a2", Role: domain.RoleAdmin}, healthy)

	sent := registry.DeliverToRole(domain.RoleAdmin, notification.Payload{Type: notification.TypeNewIssue})
	if sent != 1 {
		t.Errorf("sent = %d, want 1", sent)
	}
	if !broken.closed {
		t.Error("broken channel left open")
	}
	if healthy.closed || len(healthy.payloads()) != 1 {
		t.Error("healthy channel affected by failure")
	}
	if registry.Len() != 1 {
		t.Errorf("registry size = %d, want 1", registry.Len())
	}
}

func TestDeliver_OfflineRecipientIsNoop(t *testing.T) {
	registry := newTestRegistry()
	registry.Deliver([]notification.Delivery{
		{Target: notification.Target{UserID: "nobody"}, Payload: notification.Payload{Type: "x"}},
		{Target: notification.Target{Role: domain.RoleAdmin}, Payload: notification.Payload{Type: "x"}},
	})
}

func TestLocalBusPublish(t *testing.T) {
	registry := newTestRegistry()
	reporter, sup := &fakeChannel{}, &fakeChannel{}
	registry.Register(domain.Identity{UserID: "citizen-1", Role: domain.RoleCitizen}, reporter)
	registry.Register(domain.Identity{UserID: "sup-1", Role: domain.RoleSupervisor}, sup)

	issue := domain.Issue{ID: "I1", Title: "Pothole", ReporterID: "citizen-1", Status: domain.IssueStatusTriaged}
	event := domain.IssueEvent{
		IssueID: "I1",
		ActorID: "sup-1",
		Type:    domain.EventTypeStatusChange,
		Payload: domain.StatusChangePayload(domain.IssueStatusSubmitted, domain.IssueStatusTriaged, ""),
	}
	deliveries := notification.NewRouter().Route(event, issue)
	if err := NewLocalBus(registry).Publish(context.Background(), deliveries); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got := reporter.payloads()
	if len(got) != 1 || got[0].Type != notification.TypeIssueUpdated {
		t.Errorf("reporter payloads = %+v", got)
	}
	// The acting supervisor still sees the role broadcast.
	if got := sup.payloads(); len(got) != 1 || got[0].Type != notification.TypeIssueStatusChange {
		t.Errorf("supervisor payloads = %+v", got)
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	in := []notification.Delivery{
		{Target: notification.Target{UserID: "u1"}, Payload: notification.Payload{Type: notification.TypeIssueAssigned, Message: "m"}},
		{Target: notification.Target{Role: domain.RoleAdmin}, Payload: notification.Payload{Type: notification.TypeNewIssue}, Exclude: []string{"u1"}},
	}
	data, err := encodeEnvelope(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := decodeEnvelope(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("decoded %d deliveries", len(out))
	}
	if out[0].Target.UserID != "u1" || out[0].Target.IsRole() {
		t.Errorf("out[0] = %+v", out[0])
	}
	if !out[1].Target.IsRole() || out[1].Target.Role != domain.RoleAdmin || len(out[1].Exclude) != 1 {
		t.Errorf("out[1] = %+v", out[1])
	}
}

func TestRegistryConcurrentUse(t *testing.T) {
	registry := newTestRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ch := &fakeChannel{}
			identity := domain.Identity{UserID: "shared", Role: domain.RoleOfficer}
			registry.Register(identity, ch)
			registry.DeliverToRole(domain.RoleOfficer, notification.Payload{Type: "x"})
			if i%2 == 0 {
				registry.Unregister("shared", ch)
			}
		}(i)
	}
	wg.Wait()
	if registry.Len() > 1 {
		t.Errorf("registry size = %d, want at most 1", registry.Len())
	}
}
