package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httptransport "github.com/civicworks/civic-issues/internal/api/http"
	"github.com/civicworks/civic-issues/internal/api/http/handlers"
	"github.com/civicworks/civic-issues/internal/api/ws"
	"github.com/civicworks/civic-issues/internal/auth"
	"github.com/civicworks/civic-issues/internal/config"
	"github.com/civicworks/civic-issues/internal/events"
	"github.com/civicworks/civic-issues/internal/observability"
	"github.com/civicworks/civic-issues/internal/persistence"
	"github.com/civicworks/civic-issues/internal/realtime"
	"github.com/civicworks/civic-issues/internal/repository"
	"github.com/civicworks/civic-issues/internal/service"
	"github.com/civicworks/civic-issues/internal/worker"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the notification endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logger)
	},
}

type repositories struct {
	issues  repository.IssueRepository
	users   repository.UserRepository
	catalog repository.CatalogRepository
}

func openRepositories(ctx context.Context, cfg *config.Config, pg *persistence.Postgres, logger *zap.Logger) (repositories, error) {
	if !pg.Enabled() {
		departments, categories := repository.DefaultCatalog()
		return repositories{
			issues:  repository.NewMemoryIssueRepository(),
			users:   repository.NewMemoryUserRepository(),
			catalog: repository.NewMemoryCatalog(departments, categories),
		}, nil
	}
	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			return repositories{}, fmt.Errorf("run migrations: %w", err)
		}
	}
	pool := pg.PoolHandle()
	return repositories{
		issues:  repository.NewIssueRepository(pool),
		users:   repository.NewUserRepository(pool),
		catalog: repository.NewCatalogRepository(pool),
	}, nil
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pg.Close()

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	repos, err := openRepositories(ctx, cfg, pg, logger)
	if err != nil {
		return err
	}

	authService := service.NewAuthService(cfg.Auth, service.AuthDependencies{
		UserRepo: repos.users,
		Logger:   logger,
	})
	if err := authService.EnsureAdmin(ctx, cfg.Auth.BootstrapAdminName, cfg.Auth.BootstrapAdminEmail, cfg.Auth.BootstrapAdminPassword); err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}

	registry := realtime.NewRegistry(authService, logger, metrics)

	var bus realtime.Bus = realtime.NewLocalBus(registry)
	if cfg.Notification.FanoutMode == config.FanoutRedis {
		redisBus := realtime.NewRedisBus(redis.Client, cfg.Notification.RedisChannel, registry, logger)
		go func() {
			if err := redisBus.Run(ctx); err != nil {
				logger.Error("notification bus stopped", zap.Error(err))
			}
		}()
		bus = redisBus
	}

	pool := worker.NewPool(cfg.Notification.Workers, cfg.Notification.QueueSize, logger, metrics)
	pool.Start(context.WithoutCancel(ctx))
	defer pool.Stop()

	dispatcher := events.NewInMemoryDispatcher()
	service.NewNotificationService(service.NotificationDependencies{
		Dispatcher: dispatcher,
		Bus:        bus,
		Jobs:       pool,
		Logger:     logger,
	}).RegisterHandlers()

	issueService := service.NewIssueService(service.IssueDependencies{
		IssueRepo:  repos.issues,
		Catalog:    repos.catalog,
		UserRepo:   repos.users,
		Dispatcher: dispatcher,
		Logger:     logger,
		Metrics:    metrics,
	})

	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		DisableStartupMessage: true,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:      handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis, registry),
		Auth:        handlers.NewAuthHandler(authService),
		Issues:      handlers.NewIssuesHandler(issueService, repos.catalog),
		AdminIssues: handlers.NewAdminIssuesHandler(issueService),
		Socket: ws.NewHandler(registry, ws.HandlerConfig{
			SendBuffer:   cfg.Realtime.SendBuffer,
			WriteTimeout: cfg.Realtime.WriteTimeout(),
		}, logger),
		AuthMiddleware: auth.NewAuthMiddleware(authService.TokenManager(), repos.users),
		Gatherer:       reg,
	})

	listenErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.App.Addr()))
		listenErr <- app.Listen(cfg.App.Addr())
	}()

	select {
	case err := <-listenErr:
		return fmt.Errorf("fiber listen: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	// Close live channels first; fiber waits for open connections otherwise.
	registry.Shutdown()
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	return nil
}
