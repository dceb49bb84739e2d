package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/civicworks/civic-issues/internal/notification"
)

var (
	// ErrCredentialRejected means the server closed with 4401 or 4403.
	ErrCredentialRejected = errors.New("realtime: credential rejected")
	// ErrSuperseded means another connection for the same user replaced
	// this one (close code 4000).
	ErrSuperseded = errors.New("realtime: superseded by a newer connection")
	// ErrGaveUp means MaxAttempts consecutive connection attempts failed.
	ErrGaveUp = errors.New("realtime: reconnect attempts exhausted")
)

// ListenerConfig configures a notification listener.
type ListenerConfig struct {
	URL         string
	Credential  string
	BaseDelay   time.Duration
	MaxAttempts int
}

// Listener subscribes to the notification endpoint and reconnects with
// linear backoff.
type Listener struct {
	cfg     ListenerConfig
	handle  func(notification.Payload)
	dialer  *websocket.Dialer
	logger  *zap.Logger
	sleeper func(ctx context.Context, d time.Duration) error
}

// NewListener creates a listener calling handle for each payload received.
func NewListener(cfg ListenerConfig, handle func(notification.Payload), logger *zap.Logger) *Listener {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{
		cfg:     cfg,
		handle:  handle,
		dialer:  websocket.DefaultDialer,
		logger:  logger,
		sleeper: sleepCtx,
	}
}

// Run blocks until ctx is cancelled, the credential is rejected, a newer
// connection supersedes this one, or reconnection gives up. Cancellation
// returns nil.
func (l *Listener) Run(ctx context.Context) error {
	target, err := l.endpoint()
	if err != nil {
		return err
	}

	attempt := 0
	for {
		connected, err := l.session(ctx, target)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrCredentialRejected) || errors.Is(err, ErrSuperseded) {
			return err
		}
		if connected {
			attempt = 0
		}
		attempt++
		if attempt > l.cfg.MaxAttempts {
			return fmt.Errorf("%w: last error: %v", ErrGaveUp, err)
		}

		delay := l.cfg.BaseDelay * time.Duration(attempt)
		l.logger.Warn("notification connection lost; reconnecting",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay))
		if err := l.sleeper(ctx, delay); err != nil {
			return nil
		}
	}
}

func (l *Listener) endpoint() (string, error) {
	u, err := url.Parse(l.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse listener url: %w", err)
	}
	q := u.Query()
	q.Set("token", l.cfg.Credential)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// session reports whether the dial succeeded along with the error that ended it.
func (l *Listener) session(ctx context.Context, target string) (bool, error) {
	conn, _, err := l.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	l.logger.Info("notification listener connected")
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, CloseNoCredential, CloseInvalidCredential) {
				return true, ErrCredentialRejected
			}
			if websocket.IsCloseError(err, CloseSuperseded) {
				return true, ErrSuperseded
			}
			return true, err
		}
		var payload notification.Payload
		if err := json.Unmarshal(data, &payload); err != nil {
			l.logger.Warn("ignoring malformed payload", zap.Error(err))
			continue
		}
		if l.handle != nil {
			l.handle(payload)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
