package simulate

import (
	"fmt"
	"io"
	"os"

	"github.com/okian/fieldmemo/pkg/logger"
)

// File permission constants.
const (
	logFilePermission = 0600
)

// SetupLogging initializes the logger, mirroring output to logFile when set.
func SetupLogging(logFile string, verbose bool) error {
	var out io.Writer = os.Stdout
	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		out = io.MultiWriter(os.Stdout, file)
	}
	if err := logger.Init(logger.WithOutput(out)); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if verbose {
		return logger.SetLevelString("debug")
	}
	return nil
}

// ShowHelp prints usage information for the simulator.
func ShowHelp() {
	os.Stdout.WriteString(`fieldmemo simulator
===================

Generates synthetic issuers with fixed invoice layouts, submits noisy
observations of them concurrently and reports how close the learned
templates are to the true layouts.

Usage:
  go run ./cmd/simulate [options]

Options:
  -url string        Base URL of the service (default "http://localhost:9080")
  -issuers int       Number of issuers (default 50)
  -docs int          Invoices per issuer (default 20)
  -jitter float      Coordinate noise standard deviation (default 0.01)
  -drop float        Probability a field is missing from an invoice (default 0.1)
  -workers int       Concurrent requests (default CPU cores * 2)
  -timeout duration  HTTP request timeout (default 30s)
  -async             Submit via /observations and wait for the queue to drain
  -seed uint         Random seed (default 1)
  -output string     Write generated observations to this JSON file
  -log string        Also write log output to this file
  -verbose           Log every failed request
  -help              Show this help message
`)
}
