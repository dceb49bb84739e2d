package cli

import (
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/civicworks/civic-issues/internal/notification"
	"github.com/civicworks/civic-issues/internal/realtime"
)

var (
	listenURL   string
	listenToken string
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Connect to a server and print pushed notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := cfg.Realtime.ListenerURL
		if listenURL != "" {
			target = listenURL
		}
		token := cfg.Realtime.ListenerToken
		if listenToken != "" {
			token = listenToken
		}
		if token == "" {
			return errors.New("a token is required (--token or LISTEN_TOKEN)")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		listener := realtime.NewListener(realtime.ListenerConfig{
			URL:         target,
			Credential:  token,
			BaseDelay:   cfg.Realtime.ListenerBaseDelay(),
			MaxAttempts: cfg.Realtime.ListenerMaxAttempts,
		}, printPayload, logger)
		return listener.Run(ctx)
	},
}

func printPayload(payload notification.Payload) {
	fields := []zap.Field{
		zap.String("type", payload.Type),
		zap.String("message", payload.Message),
	}
	if payload.Data != nil {
		fields = append(fields,
			zap.String("ticket_no", payload.Data.TicketNo),
			zap.String("status", string(payload.Data.Status)))
	}
	logger.Info("notification", fields...)
}

func init() {
	listenCmd.Flags().StringVar(&listenURL, "url", "", "WebSocket endpoint (defaults to LISTEN_URL)")
	listenCmd.Flags().StringVar(&listenToken, "token", "", "bearer token used as the channel credential")
}
