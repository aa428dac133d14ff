package simulate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/fieldmemo/internal/domain/model"
	"github.com/okian/fieldmemo/pkg/logger"
)

// File permission constants.
const (
	directoryPermission = 0750
	filePermission      = 0600
)

type mergeBody struct {
	Regions []model.Region `json:"regions"`
}

// Run executes a complete simulation against a running service.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	stats := &Stats{StartTime: time.Now()}
	log := logger.Get().Named("simulate")

	log.Info(ctx, "starting template learning simulation",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("issuers", cfg.Issuers),
		logger.Int("docsPerIssuer", cfg.DocsPerIssuer),
		logger.Float64("jitter", cfg.Jitter),
		logger.Float64("dropRate", cfg.DropRate),
		logger.Int("workers", cfg.Workers),
		logger.Bool("async", cfg.Async))

	client := NewClient(cfg.BaseURL, cfg.Timeout)
	if err := client.Health(ctx); err != nil {
		return nil, fmt.Errorf("service health check failed: %w", err)
	}

	rng := newRand(cfg.Seed)
	layouts := GenerateLayouts(rng, cfg.Issuers, cfg.Fields)
	observations := GenerateObservations(ctx, rng, layouts, cfg.DocsPerIssuer, cfg.Jitter, cfg.DropRate)
	stats.Generated = len(observations)

	if err := submitObservations(ctx, cfg, client, observations, stats); err != nil {
		return nil, fmt.Errorf("submission failed: %w", err)
	}
	if cfg.Async {
		if err := waitForDrain(ctx, client, cfg.DrainTimeout); err != nil {
			return nil, err
		}
	}

	learned, err := fetchTemplates(ctx, cfg, client, layouts)
	if err != nil {
		return nil, fmt.Errorf("template retrieval failed: %w", err)
	}
	stats.Evaluation = Evaluate(layouts, learned)

	if cfg.OutputFile != "" {
		if err := saveObservations(cfg.OutputFile, observations); err != nil {
			log.Warn(ctx, "failed to save observations to file", logger.Error(err))
		}
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, log, stats)
	return stats, nil
}

// submitObservations sends every observation with at most cfg.Workers requests in flight.
func submitObservations(ctx context.Context, cfg *Config, client *Client, observations []model.ObservationRequest, stats *Stats) error {
	var merged, accepted, duplicate, failed int64
	log := logger.Get().Named("simulate")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for _, o := range observations {
		g.Go(func() error {
			var err error
			if cfg.Async {
				var dup bool
				dup, err = client.Submit(gctx, o)
				switch {
				case err != nil:
				case dup:
					atomic.AddInt64(&duplicate, 1)
				default:
					atomic.AddInt64(&accepted, 1)
				}
			} else {
				err = client.Merge(gctx, o.Issuer, mergeBody{Regions: o.Regions})
				if err == nil {
					atomic.AddInt64(&merged, 1)
				}
			}
			if err != nil {
				atomic.AddInt64(&failed, 1)
				if cfg.Verbose {
					log.Warn(gctx, "request failed", logger.Issuer(o.Issuer), logger.Error(err))
				}
			}
			return gctx.Err()
		})
	}
	err := g.Wait()

	stats.Merged = int(merged)
	stats.Accepted = int(accepted)
	stats.Duplicate = int(duplicate)
	stats.Failed = int(failed)
	stats.Submitted = stats.Merged + stats.Accepted + stats.Duplicate + stats.Failed
	return err
}

// waitForDrain polls /stats until the observation queue is empty.
func waitForDrain(ctx context.Context, client *Client, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(DrainPollInterval)
	defer ticker.Stop()
	for {
		n, err := client.QueueLength(ctx)
		if err == nil && n == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.New("timed out waiting for queued observations to be merged")
		case <-ticker.C:
		}
	}
}

// fetchTemplates reads the learned template of every issuer concurrently.
func fetchTemplates(ctx context.Context, cfg *Config, client *Client, layouts []Layout) (map[string][]LearnedRegion, error) {
	var mu sync.Mutex
	learned := make(map[string][]LearnedRegion, len(layouts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for _, l := range layouts {
		g.Go(func() error {
			regions, err := client.Template(gctx, l.Issuer)
			if err != nil {
				return err
			}
			mu.Lock()
			learned[l.Issuer] = regions
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return learned, nil
}

// saveObservations writes the generated observations as a JSON array.
func saveObservations(filename string, observations []model.ObservationRequest) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(observations, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal observations: %w", err)
	}
	if err := os.WriteFile(filename, data, filePermission); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// displayFinalStats logs the final run statistics.
func displayFinalStats(ctx context.Context, log logger.Logger, stats *Stats) {
	var successRate, perSecond float64
	if stats.Submitted > 0 {
		successRate = float64(stats.Submitted-stats.Failed) / float64(stats.Submitted) * PercentageMultiplier
	}
	if stats.Duration > 0 {
		perSecond = float64(stats.Submitted) / stats.Duration.Seconds()
	}
	ev := stats.Evaluation
	log.Info(ctx, "final statistics",
		logger.Int("generated", stats.Generated),
		logger.Int("submitted", stats.Submitted),
		logger.Int("merged", stats.Merged),
		logger.Int("accepted", stats.Accepted),
		logger.Int("duplicate", stats.Duplicate),
		logger.Int("failed", stats.Failed),
		logger.String("duration", stats.Duration.String()),
		logger.Float64("successRate", successRate),
		logger.Float64("requestsPerSecond", perSecond),
		logger.Int("fields", ev.Fields),
		logger.Int("missingFields", ev.Missing),
		logger.Float64("meanAbsError", ev.MeanAbsError),
		logger.Float64("maxAbsError", ev.MaxAbsError))
}
