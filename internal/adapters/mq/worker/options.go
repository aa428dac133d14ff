package worker

import (
	"github.com/jonboulle/clockwork"

	"github.com/okian/fieldmemo/pkg/logger"
)

// Option applies a configuration option to the InMemoryWorker.
type Option func(*InMemoryWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(l logger.Logger) Option {
	return func(w *InMemoryWorker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithClock sets the clock used to time merges.
func WithClock(c clockwork.Clock) Option {
	return func(w *InMemoryWorker) {
		if c != nil {
			w.clock = c
		}
	}
}

// WithFailureHandler sets the callback for observations that failed to merge.
func WithFailureHandler(h FailureHandler) Option {
	return func(w *InMemoryWorker) {
		if h != nil {
			w.onFailure = h
		}
	}
}

// PoolOption applies a configuration option to the Pool.
type PoolOption func(*Pool)

// WithPoolLogger sets the logger shared by the pool and its workers.
func WithPoolLogger(l logger.Logger) PoolOption {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithPoolClock sets the clock shared by the pool and its workers.
func WithPoolClock(c clockwork.Clock) PoolOption {
	return func(p *Pool) {
		if c != nil {
			p.clock = c
		}
	}
}

// WithPoolFailureHandler sets the failure callback shared by all workers.
func WithPoolFailureHandler(h FailureHandler) PoolOption {
	return func(p *Pool) {
		if h != nil {
			p.onFailure = h
		}
	}
}
