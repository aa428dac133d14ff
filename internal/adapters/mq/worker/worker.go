// Package worker applies queued observations to the template store.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/okian/fieldmemo/internal/domain/model"
	"github.com/okian/fieldmemo/internal/domain/region"
	"github.com/okian/fieldmemo/pkg/logger"
	"github.com/okian/fieldmemo/pkg/metrics"
)

const (
	defaultWorkerMultiplier = 2
	metricsUpdateInterval   = 5 * time.Second
)

// Merger folds an observation into an issuer template.
type Merger interface {
	Merge(ctx context.Context, issuer string, observed []region.FieldRegion) ([]region.FieldRegion, error)
}

// Queue defines how workers receive observations.
type Queue interface {
	Dequeue() <-chan model.Observation
}

// FailureHandler is called with every observation whose merge failed.
type FailureHandler func(ctx context.Context, o model.Observation, err error)

// InMemoryWorker merges observations read from a queue. Failed merges are
// logged, counted and handed to the failure handler but not retried.
type InMemoryWorker struct {
	queue     Queue
	merger    Merger
	name      string
	clock     clockwork.Clock
	logger    logger.Logger
	onFailure FailureHandler

	processed *atomic.Int64
	failed    *atomic.Int64
	done      chan struct{}
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, merger Merger, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:     q,
		merger:    merger,
		name:      "worker",
		clock:     clockwork.NewRealClock(),
		logger:    logger.Nop(),
		processed: new(atomic.Int64),
		failed:    new(atomic.Int64),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named(w.name)
	return w
}

// Run merges observations until the queue is closed and drained or ctx is done.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	items := w.queue.Dequeue()
	for {
		select {
		case <-ctx.Done():
			return
		case o, ok := <-items:
			if !ok {
				return
			}
			metrics.RecordQueueDequeue()
			if err := w.process(ctx, o); err != nil {
				w.logger.Error(ctx, "observation merge failed",
					logger.Issuer(o.IssuerKey),
					logger.String("document_id", o.DocumentID),
					logger.Error(err))
			}
		}
	}
}

// Done is closed when Run returns.
func (w *InMemoryWorker) Done() <-chan struct{} {
	return w.done
}

func (w *InMemoryWorker) process(ctx context.Context, o model.Observation) error {
	start := w.clock.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(w.clock.Since(start).Microseconds()) / 1000.0)
	}()

	if _, err := w.merger.Merge(ctx, o.IssuerKey, o.Regions); err != nil {
		err = fmt.Errorf("merge document %s: %w", o.DocumentID, err)
		if w.onFailure != nil {
			w.onFailure(ctx, o, err)
		}
		w.failed.Add(1)
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "merge_error")
		return err
	}
	w.processed.Add(1)
	return nil
}

// Pool manages multiple workers sharing one queue.
type Pool struct {
	workers   []*InMemoryWorker
	queue     Queue
	clock     clockwork.Clock
	logger    logger.Logger
	onFailure FailureHandler

	processed atomic.Int64
	failed    atomic.Int64
	stop      chan struct{}
}

// NewPool creates a worker pool. workerCount < 1 selects a CPU-based default.
func NewPool(workerCount int, q Queue, merger Merger, opts ...PoolOption) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU() * defaultWorkerMultiplier
	}
	p := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		clock:   clockwork.NewRealClock(),
		logger:  logger.Nop(),
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	for i := range p.workers {
		w := NewInMemoryWorker(q, merger,
			WithName("worker-"+strconv.Itoa(i)),
			WithLogger(p.logger),
			WithClock(p.clock),
			WithFailureHandler(p.onFailure),
		)
		w.processed, w.failed = &p.processed, &p.failed
		p.workers[i] = w
	}

	metrics.UpdateWorkerCount(workerCount)
	metrics.UpdateWorkerMessagesPerSecond(0.0)
	return p
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	go p.reportThroughput(ctx)
}

func (p *Pool) reportThroughput(ctx context.Context) {
	ticker := p.clock.NewTicker(metricsUpdateInterval)
	defer ticker.Stop()

	last, lastAt := p.processed.Load(), p.clock.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case now := <-ticker.Chan():
			cur := p.processed.Load()
			if elapsed := now.Sub(lastAt).Seconds(); elapsed > 0 {
				metrics.UpdateWorkerMessagesPerSecond(float64(cur-last) / elapsed)
			}
			last, lastAt = cur, now
		}
	}
}

// Processed returns the number of successful merges.
func (p *Pool) Processed() int64 { return p.processed.Load() }

// Failed returns the number of failed merges.
func (p *Pool) Failed() int64 { return p.failed.Load() }

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Shutdown closes the queue when it supports it and waits for the workers to
// drain it, or for ctx to expire.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}
	defer close(p.stop)

	for i, w := range p.workers {
		select {
		case <-w.Done():
		case <-ctx.Done():
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			return fmt.Errorf("shutdown timed out: %w", ctx.Err())
		}
	}
	return nil
}
