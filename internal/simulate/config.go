package simulate

import (
	"time"

	"github.com/okian/fieldmemo/internal/domain/model"
)

// Config holds configuration for a simulation run.
type Config struct {
	BaseURL       string        // Base URL of the service
	Issuers       int           // Number of simulated issuers
	DocsPerIssuer int           // Invoices generated per issuer
	Fields        []string      // Field names each layout may contain
	Jitter        float64       // Standard deviation of coordinate noise
	DropRate      float64       // Probability that a field is missing from an invoice
	Workers       int           // Concurrent requests
	Timeout       time.Duration // HTTP request timeout
	Async         bool          // Submit through /observations instead of merging synchronously
	DrainTimeout  time.Duration // How long to wait for the queue to empty in async mode
	Seed          uint64        // Seed for layouts and noise
	OutputFile    string        // Optional file for the generated observations
	Verbose       bool          // Log every failed request
}

// DefaultFields are typical invoice header and footer fields.
var DefaultFields = []string{ //nolint:gochecknoglobals // read-only defaults
	"invoice_number", "invoice_date", "due_date", "issuer_name",
	"vat_id", "net_amount", "vat_amount", "total",
}

// Layout is the ground-truth position of every field on one issuer's invoices.
type Layout struct {
	Issuer  string
	Regions []model.Region
}

// Stats holds run statistics.
type Stats struct {
	Generated  int
	Submitted  int
	Merged     int
	Accepted   int
	Duplicate  int
	Failed     int
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Evaluation Evaluation
}
