package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pharmamat/pharmamat/internal/config"
	"github.com/pharmamat/pharmamat/internal/domain/cart"
	"github.com/pharmamat/pharmamat/internal/domain/checkout"
	"github.com/pharmamat/pharmamat/internal/domain/machine"
	"github.com/pharmamat/pharmamat/internal/domain/order"
	"github.com/pharmamat/pharmamat/internal/platform/auth"
	"github.com/pharmamat/pharmamat/internal/platform/backend"
	"github.com/pharmamat/pharmamat/internal/platform/db"
	"github.com/pharmamat/pharmamat/internal/platform/middleware"
	"github.com/pharmamat/pharmamat/internal/platform/notification"
	"github.com/pharmamat/pharmamat/internal/platform/ws"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pharmamat-server",
		Short: "Pharmacy kiosk patient API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the patient API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

// buildCartRepo selects the cart persistence layer from configuration.
func buildCartRepo(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (cart.Repository, *pgxpool.Pool, error) {
	switch cfg.StorageBackend {
	case "memory":
		return cart.NewMemoryRepo(), nil, nil
	case "file":
		repo, err := cart.NewFileRepo(cfg.StorageDir, logger)
		return repo, nil, err
	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("connecting to redis: %w", err)
		}
		return cart.NewRedisRepo(client, cfg.CartTTL, logger), nil, nil
	case "postgres":
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to database: %w", err)
		}
		return cart.NewPGRepo(pool, logger), pool, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()

	// Cart persistence
	cartRepo, pool, err := buildCartRepo(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up cart storage")
	}
	if pool != nil {
		defer pool.Close()
	}
	logger.Info().Str("backend", cfg.StorageBackend).Msg("cart storage ready")

	// Pharmacy backend client
	backendClient := backend.New(cfg.BackendURL, cfg.BackendTimeout, logger)

	// WebSocket hub
	hub := ws.NewHub()

	// Notifications: always log order events; send mail when SMTP is
	// configured.
	notifiers := []notification.Notifier{notification.NewLogNotifier(logger)}
	if cfg.SMTPHost != "" {
		sender := notification.NewSMTPSender(notification.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
		notifiers = append(notifiers,
			notification.NewEmailNotifier(sender, notification.NewTemplateEngine(), cfg.NotifyEmail))
		logger.Info().Str("host", cfg.SMTPHost).Msg("email notifications enabled")
	}
	notifier := notification.NewMultiNotifier(notifiers...)

	// Order tracker: status changes fan out to WebSocket subscribers, ready
	// and completed additionally notify the patient.
	tracker := order.NewTracker(backendClient, cfg.PollInterval, order.TrackerCallbacks{
		OnUpdate: func(o backend.Order) {
			broadcastOrder(hub, ws.TypeOrderUpdated, o)
		},
		OnReady: func(o backend.Order) {
			broadcastOrder(hub, ws.TypeOrderReady, o)
			if err := notifier.OrderReady(context.Background(), &o); err != nil {
				logger.Error().Err(err).Int64("order_id", o.ID).Msg("order ready notification failed")
			}
		},
		OnCompleted: func(o backend.Order) {
			broadcastOrder(hub, ws.TypeOrderCompleted, o)
			if err := notifier.OrderCompleted(context.Background(), &o); err != nil {
				logger.Error().Err(err).Int64("order_id", o.ID).Msg("order completed notification failed")
			}
		},
	}, logger)
	defer tracker.StopAll()

	// Carts: every store change is pushed to the session's WebSocket topic.
	carts := cart.NewManager(cartRepo, logger, func(s *cart.Store) {
		session := s.Session()
		s.Subscribe(func(c cart.Cart) {
			data, err := json.Marshal(c.Summarize())
			if err != nil {
				logger.Error().Err(err).Str("session", session).Msg("encoding cart event failed")
				return
			}
			hub.Broadcast(ws.CartTopic(session), ws.Event{
				Type:      ws.TypeCartUpdated,
				Topic:     ws.CartTopic(session),
				Timestamp: time.Now().UTC(),
				Data:      data,
			})
		})
	})

	// Domain services
	machineSvc := machine.NewService(backendClient, logger)
	orderSvc := order.NewService(backendClient, logger)
	checkoutSvc := checkout.NewService(carts, machineSvc, backendClient, logger)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(auth.Middleware(auth.Config{
		Secret:   cfg.AuthSecret,
		Required: cfg.IsProduction(),
	}))

	// API group
	api := e.Group("/api")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	api.Use(middleware.RateLimit(rateLimitCfg))
	api.Use(middleware.RequestTimeout(30 * time.Second))

	// Domain handlers
	cart.NewHandler(carts, backendClient).RegisterRoutes(api)
	machine.NewHandler(machineSvc).RegisterRoutes(api)
	order.NewHandler(orderSvc, tracker).RegisterRoutes(api)
	checkout.NewHandler(checkoutSvc).RegisterRoutes(api)

	// WebSocket endpoint
	ws.NewHandler(hub).RegisterRoutes(e.Group(""))

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	if pool != nil {
		e.GET("/health/db", db.HealthHandler(pool))
	}

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func broadcastOrder(hub *ws.Hub, eventType string, o backend.Order) {
	data, err := json.Marshal(o)
	if err != nil {
		return
	}
	topic := ws.OrderTopic(o.ID)
	hub.Broadcast(topic, ws.Event{
		Type:      eventType,
		Topic:     topic,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
}
