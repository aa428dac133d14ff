package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/fieldmemo/internal/adapters/http/api"
	"github.com/okian/fieldmemo/internal/adapters/mq/kafka"
	"github.com/okian/fieldmemo/internal/adapters/repository"
	service "github.com/okian/fieldmemo/internal/app"
	"github.com/okian/fieldmemo/internal/config"
	"github.com/okian/fieldmemo/internal/domain/model"
	"github.com/okian/fieldmemo/pkg/logger"
	"github.com/okian/fieldmemo/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 10 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	systemMetricsInterval     = 10 * time.Second
	serviceMetricsInterval    = 5 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		os.Stderr.WriteString("fieldmemo: " + err.Error() + "\n")
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// Load configuration (defaults -> .env -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Get()

	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if c, ok := backend.(io.Closer); ok {
			if err := c.Close(); err != nil {
				log.Error(context.Background(), "closing template backend failed", logger.Error(err))
			}
		}
	}()

	svc := service.New(
		service.WithLogger(log),
		service.WithBackend(backend),
		service.WithWorkerCount(cfg.WorkerCount),
		service.WithQueueSize(cfg.QueueSize),
		service.WithDedupeSize(cfg.DedupeSize),
		service.WithLockStripes(cfg.LockStripes),
		service.WithMaxAttempts(cfg.MergeMaxAttempts),
		service.WithBatchConcurrency(cfg.BatchConcurrency),
	)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}

	go startSystemMetricsUpdater(ctx)
	go startServiceMetricsUpdater(ctx, svc)

	srv := newHTTPServer(cfg.Addr, newMux(svc))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info(gctx, "starting HTTP server", logger.String("addr", cfg.Addr), logger.String("backend", cfg.Backend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if cfg.KafkaEnabled() {
		consumer := kafka.NewConsumer(kafka.Config{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			GroupID: cfg.KafkaGroupID,
		}, submitFunc(svc), kafka.WithLogger(log))
		g.Go(func() error {
			defer func() { _ = consumer.Close() }()
			log.Info(gctx, "consuming observations from kafka", logger.String("topic", cfg.KafkaTopic))
			return consumer.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info(context.Background(), "shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error(context.Background(), "server shutdown failed", logger.Error(err))
		}
		return nil
	})

	runErr := g.Wait()

	// Drain queued observations before the backend is closed.
	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := svc.Stop(stopCtx); err != nil {
		log.Error(context.Background(), "service stop failed", logger.Error(err))
	}

	log.Info(context.Background(), "server stopped")
	return runErr
}

// openBackend builds the template blob store selected by cfg.
func openBackend(ctx context.Context, cfg *config.Config) (repository.Backend, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return repository.NewMemoryBackend(), nil
	case config.BackendPostgres:
		return repository.OpenPostgres(ctx, cfg.PostgresDSN)
	case config.BackendFirestore:
		return repository.OpenFirestore(ctx, cfg.FirestoreProject, cfg.FirestoreCollection)
	case config.BackendGCS:
		return repository.OpenGCS(ctx, cfg.GCSBucket, cfg.GCSPrefix)
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", config.ErrInvalidConfig, cfg.Backend)
	}
}

func newMux(svc *service.Service) *http.ServeMux {
	mux := http.NewServeMux()
	api.NewServer(svc, svc).Register(mux)
	return mux
}

func newHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// submitFunc adapts Service.Submit to the Kafka consumer. Duplicates are
// acknowledged like accepted observations.
func submitFunc(svc interface {
	Submit(ctx context.Context, o model.Observation) (service.SubmitStatus, error)
}) kafka.SubmitFunc {
	return func(ctx context.Context, o model.Observation) error {
		_, err := svc.Submit(ctx, o)
		return err
	}
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater starts a background goroutine that updates service metrics.
func startServiceMetricsUpdater(ctx context.Context, svc api.StatsProvider) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(svc)
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}

// updateServiceMetrics copies queue and worker figures from the service stats.
func updateServiceMetrics(svc api.StatsProvider) {
	stats := svc.GetStats()

	if queueLen, ok := stats["queueLength"].(int); ok {
		metrics.UpdateQueueSize(queueLen)
	}
	if workerCount, ok := stats["workerCount"].(int); ok {
		metrics.UpdateWorkerCount(workerCount)
	}
}
