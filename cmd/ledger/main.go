package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/matheusmosca/ledger-transactions/internal/audit"
	"github.com/matheusmosca/ledger-transactions/internal/config"
	"github.com/matheusmosca/ledger-transactions/internal/handler"
	"github.com/matheusmosca/ledger-transactions/internal/jobs"
	"github.com/matheusmosca/ledger-transactions/internal/ledger"
	"github.com/matheusmosca/ledger-transactions/internal/logger"
	"github.com/matheusmosca/ledger-transactions/internal/notification"
	"github.com/matheusmosca/ledger-transactions/internal/repository/postgres"
	"github.com/matheusmosca/ledger-transactions/internal/telemetry"
)

const (
	modeAPI    = "api"
	modeWorker = "worker"
	modeAll    = "all"
)

func main() {
	cfg := config.Load()

	zlog, err := logger.New(cfg.Env, cfg.ServiceName)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize OpenTelemetry
	if cfg.TelemetryEnabled {
		providers, err := telemetry.Init(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
		if err != nil {
			zlog.Fatal("Failed to initialize telemetry", zap.Error(err))
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := providers.Shutdown(shutdownCtx); err != nil {
				zlog.Warn("⚠️ Error shutting down telemetry", zap.Error(err))
			}
		}()
	}

	// Initialize database
	pool, err := postgres.Connect(ctx, cfg.Database, zlog)
	if err != nil {
		zlog.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, pool); err != nil {
		zlog.Fatal("Failed to apply schema", zap.Error(err))
	}

	// Initialize dependencies
	db := postgres.NewDB(pool)
	accounts := postgres.NewAccountRepository(db)
	transactions := postgres.NewTransactionRepository(db)
	auditor := audit.NewLogRecorder(zlog)

	processor := ledger.NewProcessor(db, accounts, transactions, zlog)
	useCase := ledger.NewTransactionUseCase(db, accounts, transactions, processor, auditor, zlog)
	accountService := ledger.NewAccountService(db, accounts, auditor, zlog)

	notifier, closeNotifier := newNotifier(cfg, zlog)
	defer closeNotifier()

	monitor, closeMonitor := newMonitor(ctx, cfg, zlog)
	defer closeMonitor()

	runnerOpts := jobs.Options{
		MaxAttempts: cfg.JobMaxAttempts,
		Backoff:     cfg.JobBackoff,
		Workers:     cfg.Workers,
	}

	queue, closeQueue := newQueue(cfg, db, runnerOpts.Lease(), zlog)
	defer closeQueue()

	runner := jobs.NewRunner(useCase, accounts, transactions, queue, monitor, notifier, runnerOpts, zlog)

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Mode == modeWorker || cfg.Mode == modeAll {
		g.Go(func() error {
			return runner.Start(ctx)
		})
	}

	if cfg.Mode == modeAPI || cfg.Mode == modeAll {
		h := handler.NewLedgerHandler(accountService, useCase, runner, monitor, otel.Tracer(cfg.ServiceName), zlog)
		srv := &http.Server{
			Addr:         ":" + cfg.HTTPPort,
			Handler:      handler.NewRouter(h, cfg.ServiceName),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  30 * time.Second,
		}

		g.Go(func() error {
			zlog.Info("🚀 Ledger Service listening", zap.String("port", cfg.HTTPPort), zap.String("mode", cfg.Mode))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		zlog.Error("❌ Ledger Service stopped with error", zap.Error(err))
		return
	}
	zlog.Info("👋 Ledger Service stopped")
}

// newNotifier combina Kafka e webhook quando configurados
func newNotifier(cfg *config.Config, zlog *zap.Logger) (ledger.Notifier, func()) {
	var (
		notifiers notification.Multi
		closers   []func() error
	)

	if len(cfg.KafkaBrokers) > 0 {
		writer := notification.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic, zlog)
		notifiers = append(notifiers, notification.NewKafkaNotifier(writer, zlog))
		closers = append(closers, writer.Close)
	}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(cfg.WebhookURL, zlog))
	}

	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				zlog.Warn("⚠️ Error closing notifier", zap.Error(err))
			}
		}
	}

	if len(notifiers) == 0 {
		zlog.Info("ℹ️ No notification channel configured")
		return notification.Noop{}, closeAll
	}
	return notifiers, closeAll
}

type jobMonitor interface {
	jobs.Monitor
	jobs.StatusReader
}

// newMonitor usa Redis quando REDIS_ADDR está definido
func newMonitor(ctx context.Context, cfg *config.Config, zlog *zap.Logger) (jobMonitor, func()) {
	if cfg.RedisAddr == "" {
		return jobs.NewLogMonitor(zlog), func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		zlog.Warn("⚠️ Redis unavailable, job monitor falls back to logs", zap.Error(err))
		_ = client.Close()
		return jobs.NewLogMonitor(zlog), func() {}
	}

	zlog.Info("✅ Connected to Redis", zap.String("addr", cfg.RedisAddr))
	return jobs.NewRedisMonitor(client, zlog), func() { _ = client.Close() }
}

// newQueue escolhe a fila de jobs conforme QUEUE_DRIVER; lease cobre todas as tentativas de um job
func newQueue(cfg *config.Config, db *postgres.DB, lease time.Duration, zlog *zap.Logger) (jobs.Queue, func()) {
	if cfg.QueueDriver == "memory" {
		if cfg.Mode != modeAll {
			zlog.Warn("⚠️ Memory queue only works when api and worker run in the same process", zap.String("mode", cfg.Mode))
		}
		return jobs.NewMemoryQueue(1024), func() {}
	}

	listener, err := postgres.NewJobListener(cfg.Database.DSN(), zlog)
	if err != nil {
		zlog.Warn("⚠️ LISTEN unavailable, job queue falls back to polling", zap.Error(err))
	}

	queue := postgres.NewJobQueue(db, listener, cfg.QueuePollInterval, lease, zlog)
	return queue, func() { _ = queue.Close() }
}
