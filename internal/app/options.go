package service

import (
	"github.com/jonboulle/clockwork"

	"github.com/okian/fieldmemo/internal/adapters/repository"
	"github.com/okian/fieldmemo/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithBackend sets the blob backend templates are stored in.
func WithBackend(b repository.Backend) Option {
	return func(s *Service) {
		if b != nil {
			s.backend = b
		}
	}
}

// WithWorkerCount sets the number of merge workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum size of the observation queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets how many document ids are remembered.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithLockStripes sets the number of per-issuer lock stripes of the store.
func WithLockStripes(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.lockStripes = n
		}
	}
}

// WithMaxAttempts caps merge retries on version conflicts.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithBatchConcurrency bounds parallel merges inside MergeBatch.
func WithBatchConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchConcurrency = n
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock sets the clock shared by the store and the workers.
func WithClock(c clockwork.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}
