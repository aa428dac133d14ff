package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/okian/fieldmemo/internal/domain/learning"
	"github.com/okian/fieldmemo/internal/domain/region"
	"github.com/okian/fieldmemo/pkg/logger"
	"github.com/okian/fieldmemo/pkg/metrics"
)

// Template store operation names used in logs and metrics.
const (
	opLoad  = "load"
	opSave  = "save"
	opMerge = "merge"
)

// TemplateStore remembers one field template per issuer on top of a Backend.
//
// Merges for the same issuer are serialized inside the process. When the
// backend is a VersionedBackend the write is conditional, so merges from other
// processes are detected and the read-merge-write is retried.
type TemplateStore struct {
	backend   Backend
	versioned VersionedBackend
	locks     *keyLock

	lockStripes int
	maxAttempts int
	logger      logger.Logger
	clock       clockwork.Clock
}

// NewTemplateStore creates a store over backend.
func NewTemplateStore(backend Backend, opts ...Option) *TemplateStore {
	s := &TemplateStore{
		backend:     backend,
		lockStripes: DefaultLockStripes,
		maxAttempts: DefaultMaxAttempts,
		logger:      logger.Nop(),
		clock:       clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if vb, ok := backend.(VersionedBackend); ok {
		s.versioned = vb
	}
	s.locks = newKeyLock(s.lockStripes)
	return s
}

// Versioned reports whether merges are protected by compare-and-swap.
func (s *TemplateStore) Versioned() bool {
	return s.versioned != nil
}

// Load returns the remembered template of issuer, or an empty one.
func (s *TemplateStore) Load(ctx context.Context, issuer string) ([]region.FieldRegion, error) {
	if issuer == "" {
		return nil, ErrInvalidIssuer
	}
	start := s.clock.Now()
	blob, found, err := s.backend.Get(ctx, issuer)
	if err != nil {
		s.observe(opLoad, metrics.OutcomeError, start)
		return nil, fmt.Errorf("%w: get %q: %w", ErrBackend, issuer, err)
	}
	if !found {
		s.observe(opLoad, metrics.OutcomeNotFound, start)
		return []region.FieldRegion{}, nil
	}
	regions, err := decode(issuer, blob)
	if err != nil {
		s.observe(opLoad, metrics.OutcomeDecode, start)
		return nil, err
	}
	s.observe(opLoad, metrics.OutcomeSuccess, start)
	return regions, nil
}

// Save replaces the template of issuer with regions. Repeated field names
// collapse to the last occurrence.
func (s *TemplateStore) Save(ctx context.Context, issuer string, regions []region.FieldRegion) error {
	if issuer == "" {
		return ErrInvalidIssuer
	}
	regions = region.Dedupe(regions)
	blob, err := region.Encode(regions)
	if err != nil {
		return err
	}

	unlock, err := s.locks.lock(ctx, issuer)
	if err != nil {
		return err
	}
	defer unlock()

	start := s.clock.Now()
	if err := s.backend.Set(ctx, issuer, blob); err != nil {
		s.observe(opSave, metrics.OutcomeError, start)
		return fmt.Errorf("%w: set %q: %w", ErrBackend, issuer, err)
	}
	s.observe(opSave, metrics.OutcomeSuccess, start)
	metrics.RecordTemplateSize(len(regions))
	return nil
}

// Merge folds observed into the template of issuer and returns the result.
// A failed read or a corrupt stored template leaves the stored value untouched.
func (s *TemplateStore) Merge(ctx context.Context, issuer string, observed []region.FieldRegion) ([]region.FieldRegion, error) {
	if issuer == "" {
		return nil, ErrInvalidIssuer
	}
	unlock, err := s.locks.lock(ctx, issuer)
	if err != nil {
		return nil, err
	}
	defer unlock()

	start := s.clock.Now()
	var res learning.Result
	for attempt := 1; ; attempt++ {
		res, err = s.mergeOnce(ctx, issuer, observed)
		if !errors.Is(err, ErrConflict) || attempt >= s.maxAttempts {
			break
		}
		metrics.RecordMergeConflict()
		s.logger.Debug(ctx, "template changed during merge, retrying",
			logger.Issuer(issuer), logger.Int("attempt", attempt))
	}
	if err != nil {
		s.observe(opMerge, outcomeOf(err), start)
		s.logger.Warn(ctx, "template merge failed", logger.Issuer(issuer), logger.Error(err))
		return nil, err
	}

	s.observe(opMerge, metrics.OutcomeSuccess, start)
	metrics.RecordMergeFields(res.Matched, res.Added, res.Decayed)
	metrics.RecordTemplateSize(len(res.Regions))
	s.logger.Debug(ctx, "template merged",
		logger.Issuer(issuer),
		logger.Int("matched", res.Matched),
		logger.Int("added", res.Added),
		logger.Int("decayed", res.Decayed))
	return res.Regions, nil
}

func (s *TemplateStore) mergeOnce(ctx context.Context, issuer string, observed []region.FieldRegion) (learning.Result, error) {
	var (
		blob    []byte
		version int64
		found   bool
		err     error
	)
	if s.versioned != nil {
		blob, version, found, err = s.versioned.GetVersion(ctx, issuer)
	} else {
		blob, found, err = s.backend.Get(ctx, issuer)
	}
	if err != nil {
		return learning.Result{}, fmt.Errorf("%w: get %q: %w", ErrBackend, issuer, err)
	}

	var existing []region.FieldRegion
	if found {
		if existing, err = decode(issuer, blob); err != nil {
			return learning.Result{}, err
		}
	}

	res := learning.Merge(existing, observed)
	out, err := region.Encode(res.Regions)
	if err != nil {
		return learning.Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return learning.Result{}, err
	}

	if s.versioned != nil {
		err = s.versioned.SetIfVersion(ctx, issuer, out, version)
		if errors.Is(err, ErrConflict) {
			return learning.Result{}, fmt.Errorf("%w: issuer %q at version %d", ErrConflict, issuer, version)
		}
	} else {
		err = s.backend.Set(ctx, issuer, out)
	}
	if err != nil {
		return learning.Result{}, fmt.Errorf("%w: set %q: %w", ErrBackend, issuer, err)
	}
	return res, nil
}

func (s *TemplateStore) observe(op, outcome string, start time.Time) {
	metrics.RecordTemplateOperation(op, outcome)
	metrics.RecordTemplateOperationLatency(op, float64(s.clock.Since(start).Microseconds())/1000.0)
}

func decode(issuer string, blob []byte) ([]region.FieldRegion, error) {
	regions, err := region.Decode(blob)
	if err != nil {
		return nil, fmt.Errorf("issuer %q: %w", issuer, err)
	}
	return regions, nil
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, region.ErrDecode):
		return metrics.OutcomeDecode
	case errors.Is(err, ErrConflict):
		return metrics.OutcomeConflict
	default:
		return metrics.OutcomeError
	}
}
