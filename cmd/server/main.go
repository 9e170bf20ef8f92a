package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"admitflow/backend/internal/api"
	"admitflow/backend/internal/auth"
	"admitflow/backend/internal/config"
	"admitflow/backend/internal/engine"
	"admitflow/backend/internal/logging"
	"admitflow/backend/internal/mcp"
	"admitflow/backend/internal/repository"
	"admitflow/backend/internal/services"
	"admitflow/backend/internal/tls"
)

func main() {
	root := &cobra.Command{
		Use:   "admitflow",
		Short: "AdmitFlow pipeline automation service",
	}
	root.AddCommand(serveCmd(), sweepCmd())

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

// deps is everything the subcommands build up from configuration.
type deps struct {
	cfg     *config.Config
	logger  *logging.Logger
	pool    *pgxpool.Pool
	repo    *repository.PostgresRepository
	notify  services.NotificationDispatcher
	engine  *engine.Engine
	sweeper *engine.Sweeper
}

func buildDeps(ctx context.Context) (*deps, error) {
	logger := logging.NewLogger()

	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.Info("configuration loaded",
		"environment", cfg.Environment,
		"okta_domain", cfg.Auth.OktaDomain,
		"sweep_enabled", cfg.Sweep.Enable,
	)

	pool, err := initDatabase(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("database initialization failed: %w", err)
	}
	logger.Info("database connected")

	repo := repository.NewPostgresRepository(pool)

	entities := services.NewPostgresEntityStore(pool)
	tasks := services.NewPostgresTaskCreator(pool)
	notify := services.NewPostgresNotificationDispatcher(pool)
	messaging := services.NewHTTPMessagingClient(cfg.Messaging.URL, cfg.Messaging.APIKey)

	executor := engine.NewAutomationExecutor(entities, tasks, notify, messaging, messaging, logger, engine.ExecutorConfig{
		ActionTimeout: cfg.Automation.ActionTimeout,
		MaxParallel:   cfg.Automation.MaxParallel,
	})
	eng := engine.New(repo, executor, logger)
	sweeper := engine.NewSweeper(repo, notify, logger, cfg.Sweep.BatchSize)

	return &deps{
		cfg:     cfg,
		logger:  logger,
		pool:    pool,
		repo:    repo,
		notify:  notify,
		engine:  eng,
		sweeper: sweeper,
	}, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, MCP endpoint and background SLA sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			d, err := buildDeps(ctx)
			if err != nil {
				return err
			}
			defer d.pool.Close()
			defer d.logger.Sync()

			// Create Echo server
			e := echo.New()
			e.HideBanner = true

			// Middleware
			e.Use(middleware.Logger())
			e.Use(middleware.Recover())
			e.Use(otelecho.Middleware("admitflow-pipeline"))

			// Initialize authentication
			authz, err := auth.New(ctx, d.cfg, d.repo, d.logger)
			if err != nil {
				return fmt.Errorf("auth initialization failed: %w", err)
			}

			// Register auth handlers
			e.GET("/login", echo.WrapHandler(http.HandlerFunc(authz.LoginHandler)))
			e.GET("/auth/callback", echo.WrapHandler(http.HandlerFunc(authz.CallbackHandler)))
			e.GET("/logout", echo.WrapHandler(http.HandlerFunc(authz.LogoutHandler)))

			server := api.NewServer(d.engine, d.repo, d.logger)
			e.GET("/health", server.HandleHealth)

			apiGroup := e.Group("/api/v1")
			apiGroup.Use(echo.WrapMiddleware(authz.RequireAuth))
			server.RegisterRoutes(apiGroup)

			d.logger.Info("REST API handlers mounted")

			// Mount MCP protocol handlers
			mcpServer := mcp.NewServer(d.engine, d.repo)
			mcpHandlers := http.NewServeMux()
			mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
			e.Any("/mcp/*", echo.WrapHandler(mcpHandlers))

			d.logger.Info("MCP protocol handlers mounted")

			// Background SLA sweep
			if d.cfg.Sweep.Enable {
				go d.sweeper.Start(ctx, d.cfg.Sweep.Interval)
				d.logger.Info("sla sweep started", "interval", d.cfg.Sweep.Interval)
			}

			return runServer(ctx, d.cfg, d.logger, e)
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run a single SLA breach sweep pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := buildDeps(cmd.Context())
			if err != nil {
				return err
			}
			defer d.pool.Close()
			defer d.logger.Sync()

			flagged, err := d.sweeper.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			d.logger.Info("sweep complete", "flagged", flagged)
			return nil
		},
	}
}

func runServer(ctx context.Context, cfg *config.Config, logger *logging.Logger, e *echo.Echo) error {
	addr := ":8080"
	if cfg.TLS.Enable {
		addr = ":8443"
	}
	server := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server starting", "address", addr, "tls", cfg.TLS.Enable)
		if cfg.TLS.Enable {
			if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
				logger.Error("TLS enabled but cert/key file not provided")
				serverErrors <- server.ListenAndServe()
				return
			}
			// generate if missing and hostnames provided
			if _, err := os.Stat(cfg.TLS.CertFile); os.IsNotExist(err) {
				if len(cfg.TLS.Hostnames) > 0 {
					if err := tls.GenerateSelfSignedCert(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames); err != nil {
						logger.Error("failed to generate self-signed cert", "error", err)
					}
				}
			}
			serverErrors <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			serverErrors <- server.ListenAndServe()
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
			if err := server.Close(); err != nil {
				logger.Error("server close error", "error", err)
			}
		}
		logger.Info("server stopped gracefully")
	}
	return nil
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	logger.Debug("initializing database connection")

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
