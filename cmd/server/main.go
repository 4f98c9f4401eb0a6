package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	orders_app "github.com/MinhoYeon/opentm-sub001/internal/app/orders"
	payments_app "github.com/MinhoYeon/opentm-sub001/internal/app/payments"
	"github.com/MinhoYeon/opentm-sub001/internal/config"
	"github.com/MinhoYeon/opentm-sub001/internal/gateway"
	orders_http "github.com/MinhoYeon/opentm-sub001/internal/handler/http/orders"
	payments_http "github.com/MinhoYeon/opentm-sub001/internal/handler/http/payments"
	kafka_infra "github.com/MinhoYeon/opentm-sub001/internal/infrastructure/kafka"
	"github.com/MinhoYeon/opentm-sub001/internal/notify"
	"github.com/MinhoYeon/opentm-sub001/internal/outbox"
	"github.com/MinhoYeon/opentm-sub001/internal/repository/bank_repo"
	"github.com/MinhoYeon/opentm-sub001/internal/repository/intent_repo"
	"github.com/MinhoYeon/opentm-sub001/internal/repository/order_repo"
	"github.com/MinhoYeon/opentm-sub001/internal/repository/outbox_repo"
	"github.com/MinhoYeon/opentm-sub001/internal/repository/webhook_repo"
	"github.com/MinhoYeon/opentm-sub001/internal/webhook"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	zapConfig := zap.NewProductionConfig()
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapConfig.EncoderConfig.TimeKey = "timestamp"

	appLogger, err := zapConfig.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create zap logger: %v\n", err)
		os.Exit(1)
	}
	appLogger.Info("Payments reconciliation service starting...")

	appLogger.Info("Waiting for database to be available...")
	var db *sql.DB
	maxRetries := 10
	retryDelay := 5 * time.Second

	for i := 0; i < maxRetries; i++ {
		db, err = openPostgres(cfg.GetDBConnectionString())
		if err == nil {
			appLogger.Info("Successfully connected to PostgreSQL database!")
			break
		}
		appLogger.Warn(fmt.Sprintf("Failed to connect to database (attempt %d/%d): %v. Retrying in %s...", i+1, maxRetries, err, retryDelay))
		time.Sleep(retryDelay)
	}
	if db == nil {
		appLogger.Fatal("Could not connect to database after multiple retries. Exiting.", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			appLogger.Error("Error closing database connection", zap.Error(err))
		} else {
			appLogger.Info("Database connection closed.")
		}
	}()

	appLogger.Info("Running database migrations...")
	m, err := migrate.New(cfg.MigrationsPath, cfg.GetDBMigrationConnectionString())
	if err != nil {
		appLogger.Fatal("Failed to create migrate instance", zap.Error(err))
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		appLogger.Fatal("Failed to run database migrations", zap.Error(err))
	}
	appLogger.Info("Database migrations completed successfully (or no new migrations).")

	intentRepository := intent_repo.NewIntentRepository(db)
	webhookRepository := webhook_repo.NewWebhookEventRepository(db)
	bankRepository := bank_repo.NewBankTransferRepository(db)
	orderRepository := order_repo.NewOrderRepository(db)
	outboxRepository := outbox_repo.NewOutboxRepository(db)

	gatewayClient := gateway.NewClient(
		cfg.GatewayBaseURL,
		cfg.GatewaySecretKey,
		cfg.GatewayTimeout,
		appLogger.With(zap.String("component", "GatewayClient")),
	)
	verifier := webhook.NewVerifier(cfg.WebhookSecret)
	notifier := notify.NewAdminNotifier(
		cfg.AdminNotifyURL,
		appLogger.With(zap.String("component", "AdminNotifier")),
	)

	statusService := orders_app.NewStatusService(
		db,
		orderRepository,
		appLogger.With(zap.String("component", "StatusService")),
	)
	paymentService := payments_app.NewPaymentService(
		db,
		gatewayClient,
		verifier,
		intentRepository,
		webhookRepository,
		bankRepository,
		outboxRepository,
		notifier,
		statusService,
		appLogger.With(zap.String("component", "PaymentService")),
	)
	appLogger.Info("Services initialized.")

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(30 * time.Second))
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Payments service is healthy!"))
	})
	payments_http.RegisterRoutes(router, paymentService, appLogger.With(zap.String("component", "HTTPHandler")))
	orders_http.RegisterRoutes(router, statusService, appLogger.With(zap.String("component", "HTTPHandler")))

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: router,
	}
	appLogger.Info("HTTP server configured.", zap.String("address", httpServer.Addr))

	kafkaProducer := kafka_infra.NewProducer(
		cfg.GetKafkaBrokers(),
		cfg.KafkaPaymentStatusTopic,
		appLogger.With(zap.String("component", "KafkaProducer")),
	)
	defer func() {
		if err := kafkaProducer.Close(); err != nil {
			appLogger.Error("Error closing Kafka producer", zap.Error(err))
		}
	}()

	outboxProcessor := outbox.NewProcessor(
		db,
		outboxRepository,
		kafkaProducer,
		cfg.OutboxPollInterval,
		cfg.OutboxPollTimeout,
		appLogger.With(zap.String("component", "OutboxProcessor")),
	)
	appLogger.Info("Outbox processor initialized.")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		appLogger.Info("Starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		outboxProcessor.Start(gCtx)
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		appLogger.Info("Shutting down application...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server graceful shutdown failed: %w", err)
		}
		appLogger.Info("HTTP server gracefully shut down.")
		return nil
	})

	if err := g.Wait(); err != nil {
		appLogger.Fatal("Application exited with error", zap.Error(err))
	}
	appLogger.Info("Application gracefully shut down.")
}

func openPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}
