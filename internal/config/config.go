// Package config defines service configuration structures and loading hooks.
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Supported template backends.
const (
	BackendMemory    = "memory"
	BackendPostgres  = "postgres"
	BackendFirestore = "firestore"
	BackendGCS       = "gcs"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects "text" or "json" log lines.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// Backend selects the blob store: memory, postgres, firestore or gcs.
	Backend string `koanf:"backend"`

	PostgresDSN string `koanf:"postgres_dsn"`

	FirestoreProject    string `koanf:"firestore_project"`
	FirestoreCollection string `koanf:"firestore_collection"`

	GCSBucket string `koanf:"gcs_bucket"`
	GCSPrefix string `koanf:"gcs_prefix"`

	// QueueSize bounds the in-memory observation queue.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of merge workers.
	WorkerCount int `koanf:"worker_count"`

	// DedupeSize sets how many document ids are remembered.
	DedupeSize int `koanf:"dedupe_size"`

	// LockStripes sets the number of per-issuer lock stripes.
	LockStripes int `koanf:"lock_stripes"`

	// MergeMaxAttempts caps read-merge-write retries on version conflicts.
	MergeMaxAttempts int `koanf:"merge_max_attempts"`

	// BatchConcurrency bounds parallel merges in a batch request.
	BatchConcurrency int `koanf:"batch_concurrency"`

	// Kafka ingestion is enabled when both brokers and topic are set.
	KafkaBrokers []string `koanf:"kafka_brokers"`
	KafkaTopic   string   `koanf:"kafka_topic"`
	KafkaGroupID string   `koanf:"kafka_group_id"`

	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:            "info",
		LogFormat:           "text",
		Addr:                ":9080",
		Backend:             BackendMemory,
		FirestoreCollection: "issuer_templates",
		GCSPrefix:           "templates/",
		QueueSize:           10_000,
		WorkerCount:         runtime.NumCPU() * 2,
		DedupeSize:          100_000,
		LockStripes:         256,
		MergeMaxAttempts:    5,
		BatchConcurrency:    16,
		KafkaGroupID:        "fieldmemo",
		ShutdownTimeout:     10 * time.Second,
	}
}

// KafkaEnabled reports whether the Kafka consumer should run.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0 && c.KafkaTopic != ""
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("%w: unknown log_format %q", ErrInvalidConfig, c.LogFormat)
	}
	if c.QueueSize <= 0 || c.WorkerCount <= 0 || c.DedupeSize <= 0 {
		return fmt.Errorf("%w: queue_size, worker_count and dedupe_size must be positive", ErrInvalidConfig)
	}
	if c.LockStripes <= 0 || c.MergeMaxAttempts <= 0 || c.BatchConcurrency <= 0 {
		return fmt.Errorf("%w: lock_stripes, merge_max_attempts and batch_concurrency must be positive", ErrInvalidConfig)
	}
	switch c.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("%w: postgres backend requires postgres_dsn", ErrInvalidConfig)
		}
	case BackendFirestore:
		if c.FirestoreProject == "" || c.FirestoreCollection == "" {
			return fmt.Errorf("%w: firestore backend requires firestore_project and firestore_collection", ErrInvalidConfig)
		}
	case BackendGCS:
		if c.GCSBucket == "" {
			return fmt.Errorf("%w: gcs backend requires gcs_bucket", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, c.Backend)
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return fmt.Errorf("%w: kafka_brokers set without kafka_topic", ErrInvalidConfig)
	}
	return nil
}
