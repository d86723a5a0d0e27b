package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/earlyexpress/order-fulfillment/internal/client"
	"github.com/earlyexpress/order-fulfillment/internal/config"
	"github.com/earlyexpress/order-fulfillment/internal/domain"
	"github.com/earlyexpress/order-fulfillment/internal/event"
	handler "github.com/earlyexpress/order-fulfillment/internal/handler/http"
	"github.com/earlyexpress/order-fulfillment/internal/recovery"
	"github.com/earlyexpress/order-fulfillment/internal/repository/postgres"
	"github.com/earlyexpress/order-fulfillment/internal/saga"
	"github.com/earlyexpress/order-fulfillment/internal/service"
	"github.com/earlyexpress/order-fulfillment/migrations"
	"github.com/earlyexpress/order-fulfillment/pkg/database"
	"github.com/earlyexpress/order-fulfillment/pkg/health"
	"github.com/earlyexpress/order-fulfillment/pkg/httpclient"
	pkgkafka "github.com/earlyexpress/order-fulfillment/pkg/kafka"
	"github.com/earlyexpress/order-fulfillment/pkg/tracing"
)

// App wires together all dependencies and runs the fulfillment service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redisClient    *redis.Client
	producer       *pkgkafka.Producer
	dlq            *pkgkafka.DLQProducer
	consumers      *event.Consumers
	scanner        *recovery.Scanner
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    handler.ServiceName,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	// Initialize PostgreSQL connection pool.
	pgCfg := cfg.Postgres()
	pool, err := database.NewPostgresPool(ctx, &pgCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	database.RegisterPoolMetrics(pool, handler.ServiceName)

	// Run database migrations.
	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	// Redis backs the continuation consumer's idempotency store.
	redisClient, err := database.NewRedisClient(ctx, cfg.Redis())
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	idempotencyStore := pkgkafka.NewRedisIdempotencyStore(
		redisClient,
		event.ConsumerGroup,
		time.Duration(cfg.IdempotencyTTLHours)*time.Hour,
	)

	// Initialize Kafka producers.
	kafkaCfg := pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers)
	producer := pkgkafka.NewProducer(kafkaCfg, logger)
	dlq := pkgkafka.NewDLQProducer(cfg.KafkaBrokers, logger)
	logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))

	// Build the dependency graph.
	orderRepo := postgres.NewOrderRepository(pool)
	sagaRepo := postgres.NewSagaRepository(pool)
	eventProducer := event.NewProducer(producer)

	// Create HTTP client with circuit breaker for inter-service communication.
	baseClient := httpclient.New(httpclient.Config{
		Timeout:         10 * time.Second,
		MaxRetries:      3,
		RetryWaitMin:    500 * time.Millisecond,
		RetryWaitMax:    5 * time.Second,
		MaxConnsPerHost: 100,
	})

	cbCfg := httpclient.CircuitBreakerConfig{
		Name:         "fulfillment-downstream",
		MaxRequests:  cfg.CBMaxRequests,
		Interval:     time.Duration(cfg.CBInterval) * time.Second,
		Timeout:      time.Duration(cfg.CBTimeout) * time.Second,
		FailureRatio: cfg.CBFailureRatio,
		MinRequests:  cfg.CBMinRequests,
	}
	cbClient := httpclient.NewCircuitBreakerClient(baseClient, cbCfg, logger)
	logger.Info("circuit breaker initialized",
		slog.String("name", cbCfg.Name),
		slog.Uint64("max_requests", uint64(cbCfg.MaxRequests)),
		slog.Int("timeout_seconds", cfg.CBTimeout),
		slog.Uint64("min_requests", uint64(cbCfg.MinRequests)),
	)

	inventoryClient := client.NewInventoryClient(cbClient, cfg.InventoryServiceURL)
	paymentClient := client.NewPaymentClient(cbClient, cfg.PaymentServiceURL)
	routingClient := client.NewRoutingClient(cbClient, cfg.RoutingServiceURL)
	scheduleClient := client.NewScheduleClient(cbClient, cfg.ScheduleServiceURL)
	hubDeliveryClient := client.NewHubDeliveryClient(cbClient, cfg.HubDeliveryServiceURL)
	lastMileClient := client.NewLastMileClient(cbClient, cfg.LastMileServiceURL)

	sagaCfg := saga.Config{
		StepTimeout:  time.Duration(cfg.SagaStepTimeoutSecs) * time.Second,
		MaxRetries:   cfg.SagaMaxRetries,
		RetryBackoff: time.Duration(cfg.SagaRetryBackoffMs) * time.Millisecond,
	}

	coordinator := saga.NewCoordinator(
		sagaRepo,
		inventoryClient,
		hubDeliveryClient,
		lastMileClient,
		eventProducer,
		sagaCfg,
		logger,
	)

	orchestrator := saga.NewOrchestrator(
		orderRepo,
		sagaRepo,
		coordinator,
		eventProducer,
		[]saga.StepExecutor{
			saga.NewStockReservationStep(inventoryClient),
			saga.NewPaymentVerifyStep(paymentClient),
			saga.NewRouteCalculationStep(routingClient, scheduleClient),
			saga.NewHubDeliveryStep(hubDeliveryClient),
			saga.NewLastMileStep(lastMileClient),
			saga.NewNotificationStep(eventProducer),
			saga.NewTrackingStep(eventProducer),
		},
		sagaCfg,
		logger,
	)

	orderNumbers := domain.NewOrderNumberGenerator()

	orderService := service.NewOrderService(
		orderRepo,
		sagaRepo,
		orderNumbers,
		orchestrator,
		coordinator,
		eventProducer,
		logger,
	)

	consumers := event.NewConsumers(cfg.KafkaBrokers, orchestrator, idempotencyStore, dlq, logger)

	scanner := recovery.NewScanner(sagaRepo, recovery.Config{
		Interval:       time.Duration(cfg.ScannerIntervalSecs) * time.Second,
		StuckThreshold: time.Duration(cfg.ScannerStuckMinutes) * time.Minute,
		ArchiveAfter:   time.Duration(cfg.ScannerArchiveAfterDays) * 24 * time.Hour,
		BatchLimit:     cfg.ScannerBatchLimit,
	}, orderNumbers, logger)

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.Register("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthHandler.Register("redis", func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	})
	healthHandler.Register("kafka", func(ctx context.Context) error {
		return producer.Ping(ctx)
	})

	// HTTP router.
	router := handler.NewRouter(orderService, healthHandler, logger)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		pool:           pool,
		redisClient:    redisClient,
		producer:       producer,
		dlq:            dlq,
		consumers:      consumers,
		scanner:        scanner,
		httpServer:     httpServer,
		tracerShutdown: tracerShutdown,
	}, nil
}

// Run starts the HTTP server, the Kafka consumers and the recovery scanner,
// and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.consumers.Start(runCtx)
	go a.scanner.Run(runCtx)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		cancel()
		return err
	}

	cancel()
	return a.Shutdown()
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Tracer (flush pending spans from drained requests)
// 3. Kafka consumers
// 4. Kafka producers
// 5. Redis client
// 6. PostgreSQL pool
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	// 1. Drain in-flight HTTP requests (5s budget).
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 2. Flush pending spans after HTTP drain so in-flight request spans are captured.
	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 3. Close Kafka consumers before the producers they may publish through.
	if err := a.consumers.Close(); err != nil {
		a.logger.Error("kafka consumers close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 4. Close Kafka producers.
	if err := a.producer.Close(); err != nil {
		a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	if err := a.dlq.Close(); err != nil {
		a.logger.Error("dlq producer close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 5. Close the Redis client.
	if err := a.redisClient.Close(); err != nil {
		a.logger.Error("redis close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 6. Close PostgreSQL pool.
	a.pool.Close()

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}
