package repository

import (
	"github.com/jonboulle/clockwork"

	"github.com/okian/fieldmemo/pkg/logger"
)

// Defaults for TemplateStore.
const (
	DefaultLockStripes = 256
	DefaultMaxAttempts = 5
)

// Option applies a configuration option to the TemplateStore.
type Option func(*TemplateStore)

// WithLockStripes sets the number of per-issuer lock stripes.
func WithLockStripes(n int) Option {
	return func(s *TemplateStore) {
		if n > 0 {
			s.lockStripes = n
		}
	}
}

// WithMaxAttempts caps read-merge-write attempts on a versioned backend.
func WithMaxAttempts(n int) Option {
	return func(s *TemplateStore) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(l logger.Logger) Option {
	return func(s *TemplateStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock sets the clock used for latency measurement.
func WithClock(c clockwork.Clock) Option {
	return func(s *TemplateStore) {
		if c != nil {
			s.clock = c
		}
	}
}
