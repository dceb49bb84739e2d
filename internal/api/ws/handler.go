package ws

import (
	"context"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/civicworks/civic-issues/internal/realtime"
)

const verifyTimeout = 5 * time.Second

// HandlerConfig tunes per-connection behavior.
type HandlerConfig struct {
	SendBuffer   int
	WriteTimeout time.Duration
}

// Handler upgrades /ws requests and registers them with the registry.
type Handler struct {
	registry *realtime.Registry
	cfg      HandlerConfig
	logger   *zap.Logger
}

// NewHandler constructs the handler.
func NewHandler(registry *realtime.Registry, cfg HandlerConfig, logger *zap.Logger) *Handler {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{registry: registry, cfg: cfg, logger: logger}
}

// RequireUpgrade rejects plain HTTP requests on the socket path.
func (h *Handler) RequireUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// Serve returns the fiber handler performing the upgrade.
func (h *Handler) Serve() fiber.Handler {
	return websocket.New(h.serve)
}

func (h *Handler) serve(conn *websocket.Conn) {
	ch := newChannel(conn, h.cfg.SendBuffer, h.cfg.WriteTimeout)
	go ch.writeLoop()

	ctx, cancel := context.WithTimeout(context.Background(), verifyTimeout)
	identity, err := h.registry.RegisterChannel(ctx, ch, conn.Query("token"))
	cancel()
	if err != nil {
		h.logger.Info("websocket rejected", zap.String("remote_ip", conn.IP()), zap.Error(err))
		ch.wait()
		return
	}

	// Clients never send anything meaningful; reading only detects closure.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket read ended", zap.String("user_id", identity.UserID), zap.Error(err))
			}
			break
		}
	}

	h.registry.Unregister(identity.UserID, ch)
	_ = ch.Close(realtime.CloseNormal, "")
	ch.wait()
}
