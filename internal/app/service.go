// Package service wires the template store, ingestion queue and workers
// behind the operations used by the HTTP API and the Kafka consumer.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/okian/fieldmemo/internal/adapters/mq/queue"
	"github.com/okian/fieldmemo/internal/adapters/mq/worker"
	"github.com/okian/fieldmemo/internal/adapters/repository"
	"github.com/okian/fieldmemo/internal/domain/dedupe"
	"github.com/okian/fieldmemo/internal/domain/model"
	"github.com/okian/fieldmemo/internal/domain/region"
	"github.com/okian/fieldmemo/pkg/logger"
	"github.com/okian/fieldmemo/pkg/metrics"
)

// SubmitStatus tells the caller what happened to a submitted observation.
type SubmitStatus string

const (
	SubmitAccepted  SubmitStatus = "accepted"
	SubmitDuplicate SubmitStatus = "duplicate"
)

// BatchResult is the outcome of one observation in MergeBatch.
type BatchResult struct {
	ID         string
	DocumentID string
	Issuer     string
	Regions    []region.FieldRegion
	Duplicate  bool
	Err        error
}

// Service owns the template store and the asynchronous learning pipeline.
type Service struct {
	mu sync.RWMutex

	backend    repository.Backend
	store      *repository.TemplateStore
	deduper    dedupe.Deduper
	queue      *queue.InMemoryQueue
	workerPool *worker.Pool

	workerCount      int
	queueSize        int
	dedupeSize       int
	lockStripes      int
	maxAttempts      int
	batchConcurrency int

	started bool
	cancel  context.CancelFunc
	clock   clockwork.Clock
	logger  logger.Logger
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:      runtime.NumCPU() * 2,
		queueSize:        10_000,
		dedupeSize:       100_000,
		lockStripes:      repository.DefaultLockStripes,
		maxAttempts:      repository.DefaultMaxAttempts,
		batchConcurrency: 16,
		clock:            clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start builds the components and starts the workers. Starting twice is a no-op.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	if s.backend == nil {
		s.backend = repository.NewMemoryBackend()
		s.logger.Info(ctx, "no backend configured, using in-memory templates")
	}

	s.store = repository.NewTemplateStore(s.backend,
		repository.WithLockStripes(s.lockStripes),
		repository.WithMaxAttempts(s.maxAttempts),
		repository.WithLogger(s.logger.Named("store")),
		repository.WithClock(s.clock),
	)
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.queue = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
	s.workerPool = worker.NewPool(s.workerCount, s.queue, s.store,
		worker.WithPoolLogger(s.logger.Named("workers")),
		worker.WithPoolClock(s.clock),
		worker.WithPoolFailureHandler(forgetFailed(s.deduper)),
	)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.workerPool.Start(runCtx)

	s.started = true
	s.logger.Info(ctx, "template service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queue_size", s.queueSize),
		logger.Int("dedupe_size", s.dedupeSize),
		logger.Bool("versioned_backend", s.store.Versioned()),
	)
	return nil
}

// Stop closes the queue and waits for queued observations to be merged, up
// to ctx's deadline.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping template service", logger.Int("queued", s.queue.Len()))

	err := s.workerPool.Shutdown(ctx)
	s.cancel()
	s.started = false

	if err != nil {
		s.logger.Warn(ctx, "template service stopped before the queue was drained", logger.Error(err))
		return err
	}
	s.logger.Info(ctx, "template service stopped",
		logger.Int64("merged", s.workerPool.Processed()),
		logger.Int64("failed", s.workerPool.Failed()))
	return nil
}

// forgetFailed un-records queued observations whose merge failed, so the
// producer can resubmit them instead of having them reported as duplicates.
func forgetFailed(d dedupe.Deduper) worker.FailureHandler {
	return func(ctx context.Context, o model.Observation, _ error) {
		if o.DocumentID != "" {
			d.Unrecord(ctx, dedupe.Key(o.IssuerKey, o.DocumentID))
		}
	}
}

func (s *Service) templates() (*repository.TemplateStore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, ErrNotStarted
	}
	return s.store, nil
}

// Load returns the template of issuer.
func (s *Service) Load(ctx context.Context, issuer string) ([]region.FieldRegion, error) {
	store, err := s.templates()
	if err != nil {
		return nil, err
	}
	return store.Load(ctx, issuer)
}

// Save replaces the template of issuer.
func (s *Service) Save(ctx context.Context, issuer string, regions []region.FieldRegion) error {
	store, err := s.templates()
	if err != nil {
		return err
	}
	return store.Save(ctx, issuer, regions)
}

// Merge folds observed into the template of issuer synchronously.
func (s *Service) Merge(ctx context.Context, issuer string, observed []region.FieldRegion) ([]region.FieldRegion, error) {
	store, err := s.templates()
	if err != nil {
		return nil, err
	}
	return store.Merge(ctx, issuer, observed)
}

// MergeBatch merges observations concurrently and reports each outcome.
// Observations with a document id already learned from are skipped.
// The returned error is only set when the batch could not run at all.
func (s *Service) MergeBatch(ctx context.Context, observations []model.Observation) ([]BatchResult, error) {
	store, err := s.templates()
	if err != nil {
		return nil, err
	}

	results := make([]BatchResult, len(observations))
	var g errgroup.Group
	g.SetLimit(s.batchConcurrency)
	for i, o := range observations {
		g.Go(func() error {
			res := BatchResult{ID: uuid.NewString(), DocumentID: o.DocumentID, Issuer: o.IssuerKey}
			key := dedupe.Key(o.IssuerKey, o.DocumentID)
			if o.DocumentID != "" && s.deduper.SeenAndRecord(ctx, key) {
				metrics.RecordObservation(string(SubmitDuplicate))
				res.Duplicate = true
				results[i] = res
				return nil
			}
			res.Regions, res.Err = store.Merge(ctx, o.IssuerKey, o.Regions)
			if res.Err != nil && o.DocumentID != "" {
				s.deduper.Unrecord(ctx, key)
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

// Submit queues an observation for asynchronous learning. A document already
// seen for the issuer is reported as a duplicate and not queued again.
func (s *Service) Submit(ctx context.Context, o model.Observation) (SubmitStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started {
		return "", ErrNotStarted
	}
	if o.IssuerKey == "" || o.DocumentID == "" {
		metrics.RecordObservation("rejected")
		return "", fmt.Errorf("%w: issuer and document id are required", model.ErrInvalidObservation)
	}

	key := dedupe.Key(o.IssuerKey, o.DocumentID)
	if s.deduper.SeenAndRecord(ctx, key) {
		metrics.RecordObservation(string(SubmitDuplicate))
		s.logger.Debug(ctx, "duplicate observation skipped",
			logger.Issuer(o.IssuerKey), logger.String("document_id", o.DocumentID))
		return SubmitDuplicate, nil
	}

	if err := s.queue.Enqueue(ctx, o); err != nil {
		s.deduper.Unrecord(ctx, key)
		metrics.RecordObservation("rejected")
		if errors.Is(err, queue.ErrFull) {
			return "", ErrBackpressure
		}
		if errors.Is(err, queue.ErrClosed) {
			return "", ErrNotStarted
		}
		return "", err
	}
	metrics.RecordObservation(string(SubmitAccepted))
	return SubmitAccepted, nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":     s.started,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
		"dedupeSize":  s.dedupeSize,
	}
	if s.started {
		stats["queueLength"] = s.queue.Len()
		stats["dedupeEntries"] = s.deduper.Size()
		stats["merged"] = s.workerPool.Processed()
		stats["mergeFailures"] = s.workerPool.Failed()
		stats["backend"] = fmt.Sprintf("%T", s.backend)
		stats["versionedBackend"] = s.store.Versioned()
	}
	return stats
}
