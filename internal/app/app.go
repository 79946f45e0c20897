// Package app wires the fulfillment service together and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ysprod/plancosmique-sub004/internal/config"
	"github.com/ysprod/plancosmique-sub004/internal/event"
	"github.com/ysprod/plancosmique-sub004/internal/gateway"
	handler "github.com/ysprod/plancosmique-sub004/internal/handler/http"
	"github.com/ysprod/plancosmique-sub004/internal/replay"
	"github.com/ysprod/plancosmique-sub004/internal/service"
	"github.com/ysprod/plancosmique-sub004/pkg/health"
	"github.com/ysprod/plancosmique-sub004/pkg/httpclient"
	pkgkafka "github.com/ysprod/plancosmique-sub004/pkg/kafka"
	"github.com/ysprod/plancosmique-sub004/pkg/middleware"
	"github.com/ysprod/plancosmique-sub004/pkg/redisclient"
	"github.com/ysprod/plancosmique-sub004/pkg/tracing"
)

// App wires together all dependencies and runs the fulfillment service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	httpServer     *http.Server
	orchestrator   *service.Orchestrator
	replayStore    replay.Store
	redisClient    *redis.Client
	producer       *pkgkafka.Producer
	tracerShutdown func(context.Context) error

	// pipelineCancel stops every background pipeline (pollers, countdowns).
	pipelineCancel context.CancelFunc
}

// NewApp creates the application with all dependencies wired. navigate is the
// navigation capability handed to the redirect scheduler; pass nil for the
// default no-op (the UI consumes the countdown and target from session state).
func NewApp(cfg *config.Config, logger *slog.Logger, navigate service.Navigator) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	// Replay-marker store.
	var (
		replayStore replay.Store
		redisClient *redis.Client
	)
	replayTTL := time.Duration(cfg.ReplayTTLHours) * time.Hour
	switch cfg.ReplayStore {
	case "redis":
		redisClient, err = redisclient.New(ctx, redisclient.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		replayStore = replay.NewRedisStore(redisClient, replayTTL)
		logger.Info("replay store initialized",
			slog.String("kind", "redis"),
			slog.String("host", cfg.RedisHost),
		)
	default:
		replayStore = replay.NewMemoryStore(replayTTL)
		logger.Info("replay store initialized", slog.String("kind", "memory"))
	}

	// Kafka producer for domain events.
	var producer *pkgkafka.Producer
	if cfg.KafkaEnabled {
		producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}
	var eventPublisher event.Publisher
	if producer != nil {
		eventPublisher = producer
	}
	eventProducer := event.NewProducer(eventPublisher, logger)

	// Gateway client: retrying HTTP client behind a circuit breaker.
	baseClient := httpclient.New(httpclient.Config{
		Timeout:         30 * time.Second,
		MaxRetries:      2,
		RetryWaitMin:    500 * time.Millisecond,
		RetryWaitMax:    5 * time.Second,
		MaxConnsPerHost: 100,
	})
	cbCfg := httpclient.CircuitBreakerConfig{
		Name:         "plancosmique-gateway",
		MaxRequests:  cfg.CBMaxRequests,
		Interval:     time.Duration(cfg.CBInterval) * time.Second,
		Timeout:      time.Duration(cfg.CBTimeout) * time.Second,
		FailureRatio: cfg.CBFailureRatio,
		MinRequests:  cfg.CBMinRequests,
	}
	cbClient := httpclient.NewCircuitBreakerClient(baseClient, cbCfg, logger).
		WithFallback(service.CircuitOpenFallback)

	gw := gateway.NewClient(cbClient, cfg.GatewayBaseURL, logger, gateway.Timeouts{
		Verify:       time.Duration(cfg.VerifyTimeout) * time.Second,
		Fulfill:      time.Duration(cfg.FulfillTimeout) * time.Second,
		Offerings:    time.Duration(cfg.OfferingsTimeout) * time.Second,
		AnalysisPoll: time.Duration(cfg.AnalysisPollTimeout) * time.Second,
	})

	// Pipeline components.
	tracker := service.NewTracker(gw, service.TrackerConfig{
		Interval: time.Duration(cfg.PollIntervalSeconds) * time.Second,
		MaxPolls: cfg.AnalysisMaxPolls,
	}, logger)
	offerings := service.NewOfferingCoordinator(gw, time.Duration(cfg.OfferingDebounceMs)*time.Millisecond, logger)
	redirect := service.NewRedirectScheduler(cfg.RedirectCountdownStart, time.Second, logger)

	pipelineCtx, pipelineCancel := context.WithCancel(context.Background())
	orchestrator := service.NewOrchestrator(
		pipelineCtx, gw, tracker, offerings, redirect, replayStore, eventProducer, navigate, logger,
	)

	// Health checks. The gateway is critical; kafka and redis degrade
	// gracefully so they only flip readiness informationally.
	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("gateway", func(ctx context.Context) error {
		return pingGateway(ctx, baseClient, cfg.GatewayBaseURL)
	})
	if producer != nil {
		healthHandler.RegisterNonCritical("kafka", producer.Ping)
	}
	if redisClient != nil {
		healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	router := handler.NewRouter(orchestrator, healthHandler, logger, handler.RouterConfig{
		ServiceName:    cfg.ServiceName,
		Environment:    cfg.Environment,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimiter:    middleware.NewKeyedLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, 10*time.Minute),
	})

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
		httpServer:     httpServer,
		orchestrator:   orchestrator,
		replayStore:    replayStore,
		redisClient:    redisClient,
		producer:       producer,
		tracerShutdown: tracerShutdown,
		pipelineCancel: pipelineCancel,
	}, nil
}

// pingGateway probes the backend health endpoint.
func pingGateway(ctx context.Context, client *httpclient.Client, baseURL string) error {
	resp, err := client.Get(ctx, baseURL+"/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("gateway unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in order:
// 1. HTTP server (drain in-flight requests)
// 2. Background pipelines (pollers, redirect countdowns)
// 3. Tracer (flush spans from drained requests)
// 4. Kafka producer, replay store, Redis
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	a.orchestrator.Close()
	a.pipelineCancel()

	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if err := a.replayStore.Close(); err != nil {
		errs = append(errs, err)
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}
