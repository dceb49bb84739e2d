// Package realtime keeps the live notification channels of connected users
// and moves payloads to them, locally or across instances.
package realtime

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/civicworks/civic-issues/internal/domain"
	"github.com/civicworks/civic-issues/internal/notification"
	"github.com/civicworks/civic-issues/internal/observability"
	apperrors "github.com/civicworks/civic-issues/pkg/util/errorutil"
)

// Close codes sent to clients.
const (
	CloseNormal            = 1000
	CloseUnavailable       = 1011
	CloseSuperseded        = 4000
	CloseNoCredential      = 4401
	CloseInvalidCredential = 4403
)

// Channel is one live, push-capable connection. Send must not block.
type Channel interface {
	Send(payload []byte) error
	Close(code int, reason string) error
}

// CredentialVerifier resolves a bearer credential to an identity.
type CredentialVerifier interface {
	VerifyCredential(ctx context.Context, credential string) (domain.Identity, error)
}

type client struct {
	identity domain.Identity
	ch       Channel
}

// Registry maps each user to at most one live channel.
type Registry struct {
	mu       sync.Mutex
	clients  map[string]client
	verifier CredentialVerifier
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// NewRegistry creates an empty registry.
func NewRegistry(verifier CredentialVerifier, logger *zap.Logger, metrics *observability.Metrics) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		clients:  make(map[string]client),
		verifier: verifier,
		logger:   logger,
		metrics:  metrics,
	}
}

// RegisterChannel authenticates credential and registers ch under the
// resulting identity. A missing or rejected credential closes ch with 4401
// or 4403; a verifier outage closes it with 1011.
func (r *Registry) RegisterChannel(ctx context.Context, ch Channel, credential string) (domain.Identity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		_ = ch.Close(CloseNoCredential, "credential required")
		return domain.Identity{}, apperrors.NewUnauthorized("credential required")
	}
	if r.verifier == nil {
		_ = ch.Close(CloseInvalidCredential, "invalid credential")
		return domain.Identity{}, apperrors.NewAuthError("no credential verifier configured", nil)
	}
	identity, err := r.verifier.VerifyCredential(ctx, credential)
	if err != nil {
		if apperrors.HasCode(err, apperrors.CodeAuth) {
			_ = ch.Close(CloseInvalidCredential, "invalid credential")
			return domain.Identity{}, err
		}
		// Not a verdict on the credential; the client may retry.
		r.logger.Warn("credential verification failed", zap.Error(err))
		_ = ch.Close(CloseUnavailable, "credential check unavailable")
		return domain.Identity{}, err
	}

	r.Register(identity, ch)

	welcome, err := json.Marshal(notification.Connected())
	if err == nil {
		if sendErr := ch.Send(welcome); sendErr != nil {
			r.drop(identity.UserID, ch, sendErr)
		}
	}
	return identity, nil
}

// Register stores ch for identity, closing any channel it replaces.
func (r *Registry) Register(identity domain.Identity, ch Channel) {
	r.mu.Lock()
	prior, hadPrior := r.clients[identity.UserID]
	r.clients[identity.UserID] = client{identity: identity, ch: ch}
	size := len(r.clients)
	r.mu.Unlock()

	r.metrics.SetLiveChannels(size)
	r.logger.Info("channel registered",
		zap.String("user_id", identity.UserID),
		zap.String("role", string(identity.Role)),
		zap.Bool("replaced", hadPrior))

	if hadPrior && prior.ch != ch {
		_ = prior.ch.Close(CloseSuperseded, "superseded")
	}
}

// Unregister removes userID's channel only when it is still ch.
func (r *Registry) Unregister(userID string, ch Channel) bool {
	r.mu.Lock()
	current, ok := r.clients[userID]
	if !ok || current.ch != ch {
		r.mu.Unlock()
		return false
	}
	delete(r.clients, userID)
	size := len(r.clients)
	r.mu.Unlock()

	r.metrics.SetLiveChannels(size)
	r.logger.Info("channel unregistered", zap.String("user_id", userID))
	return true
}

// Len returns the number of registered channels.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// DeliverToUser sends payload to userID if a channel is registered.
// It reports whether the send succeeded.
func (r *Registry) DeliverToUser(userID string, payload notification.Payload) bool {
	r.mu.Lock()
	c, ok := r.clients[userID]
	r.mu.Unlock()
	if !ok {
		return false
	}

	data, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error("encode payload", zap.Error(err))
		return false
	}
	return r.send(c, data, "user")
}

// DeliverToRole sends payload to every channel whose identity holds role,
// skipping the users in exclude. It returns the number of successful sends.
func (r *Registry) DeliverToRole(role domain.Role, payload notification.Payload, exclude ...string) int {
	skip := make(map[string]struct{}, len(exclude))
	for _, userID := range exclude {
		skip[userID] = struct{}{}
	}

	r.mu.Lock()
	targets := make([]client, 0, len(r.clients))
	for userID, c := range r.clients {
		if c.identity.Role != role {
			continue
		}
		if _, skipped := skip[userID]; skipped {
			continue
		}
		targets = append(targets, c)
	}
	r.mu.Unlock()
	if len(targets) == 0 {
		return 0
	}

	data, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error("encode payload", zap.Error(err))
		return 0
	}
	sent := 0
	for _, c := range targets {
		if r.send(c, data, "role") {
			sent++
		}
	}
	return sent
}

// Deliver hands each delivery to the matching channels on this instance.
func (r *Registry) Deliver(deliveries []notification.Delivery) {
	for _, d := range deliveries {
		if d.Target.IsRole() {
			r.DeliverToRole(d.Target.Role, d.Payload, d.Exclude...)
			continue
		}
		if d.Target.UserID != "" {
			r.DeliverToUser(d.Target.UserID, d.Payload)
		}
	}
}

// Shutdown closes every channel.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	clients := r.clients
	r.clients = make(map[string]client)
	r.mu.Unlock()

	for _, c := range clients {
		_ = c.ch.Close(CloseNormal, "server shutting down")
	}
	r.metrics.SetLiveChannels(0)
}

func (r *Registry) send(c client, data []byte, target string) bool {
	if err := c.ch.Send(data); err != nil {
		r.metrics.RecordDelivery(target, false)
		r.drop(c.identity.UserID, c.ch, err)
		return false
	}
	r.metrics.RecordDelivery(target, true)
	return true
}

func (r *Registry) drop(userID string, ch Channel, cause error) {
	r.logger.Warn("dropping channel after failed send", zap.String("user_id", userID), zap.Error(cause))
	r.Unregister(userID, ch)
	_ = ch.Close(CloseNormal, "send failed")
}
