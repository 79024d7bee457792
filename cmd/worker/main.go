package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/kelseyhightower/envconfig"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/medsolicita/case-api/internal/repository/postgres"
	"github.com/medsolicita/case-api/pkg/logger"
	"github.com/medsolicita/case-api/pkg/messaging/redis"
	"github.com/medsolicita/case-api/pkg/metrics"
	"github.com/medsolicita/case-api/pkg/worker"
)

// Config is read from the environment; the worker runs detached from the API
// and its config file.
type Config struct {
	DatabaseURL         string `envconfig:"DATABASE_URL" required:"true"`
	RedisURL            string `envconfig:"REDIS_URL" required:"true"`
	BatchSize           int    `envconfig:"OUTBOX_BATCH_SIZE" default:"100"`
	PollIntervalSeconds int    `envconfig:"OUTBOX_POLL_INTERVAL_SECONDS" default:"5"`
	RetryAttempts       int    `envconfig:"OUTBOX_RETRY_ATTEMPTS" default:"3"`
	RetryDelaySeconds   int    `envconfig:"OUTBOX_RETRY_DELAY_SECONDS" default:"1"`
	MetricsPort         int    `envconfig:"METRICS_PORT" default:"8081"`
}

func main() {
	zl, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer zl.Sync()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		zl.Fatal("failed to load worker config", zap.Error(err))
	}

	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		zl.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	broker, err := redis.NewRedisBroker(cfg.RedisURL)
	if err != nil {
		zl.Fatal("failed to create Redis broker", zap.Error(err))
	}
	defer broker.Close()

	baseRepo := postgres.NewBaseRepository(db)
	outboxRepo := postgres.NewOutboxRepository(baseRepo)

	processor := worker.NewOutboxProcessor(
		outboxRepo,
		broker,
		worker.OutboxProcessorConfig{
			BatchSize:     cfg.BatchSize,
			PollInterval:  time.Duration(cfg.PollIntervalSeconds) * time.Second,
			RetryAttempts: cfg.RetryAttempts,
			RetryDelay:    time.Duration(cfg.RetryDelaySeconds) * time.Second,
		},
		logger.NewLogger(nil),
		metrics.NewMetrics("case_api", "outbox_worker"),
	)

	startHealthServer(cfg.MetricsPort, zl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		zl.Info("shutting down worker")
		cancel()
	}()

	zl.Info("outbox worker started",
		zap.Int("batch_size", cfg.BatchSize),
		zap.Int("poll_interval_seconds", cfg.PollIntervalSeconds))
	processor.Start(ctx)
}

func startHealthServer(port int, zl *zap.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		if err := http.ListenAndServe(fmt.Sprintf(":%d", port), mux); err != nil {
			zl.Error("health server failed", zap.Error(err))
			os.Exit(1)
		}
	}()
}
