package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/okian/fieldmemo/internal/simulate"
)

// Default configuration constants.
const (
	defaultIssuers      = 50
	defaultDocs         = 20
	defaultJitter       = 0.01
	defaultDropRate     = 0.1
	defaultWorkers      = 2 // multiplier for runtime.NumCPU()
	defaultTimeout      = 30 * time.Second
	defaultDrainTimeout = 2 * time.Minute
	defaultRunTimeout   = 10 * time.Minute
)

func main() {
	var (
		baseURL  = flag.String("url", "http://localhost:9080", "Base URL of the service")
		issuers  = flag.Int("issuers", defaultIssuers, "Number of issuers")
		docs     = flag.Int("docs", defaultDocs, "Invoices per issuer")
		jitter   = flag.Float64("jitter", defaultJitter, "Coordinate noise standard deviation")
		dropRate = flag.Float64("drop", defaultDropRate, "Probability a field is missing from an invoice")
		workers  = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Concurrent requests")
		timeout  = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		async    = flag.Bool("async", false, "Submit via /observations and wait for the queue to drain")
		seed     = flag.Uint64("seed", 1, "Random seed")
		output   = flag.String("output", "", "Write generated observations to this JSON file")
		logFile  = flag.String("log", "", "Also write log output to this file")
		verbose  = flag.Bool("verbose", false, "Log every failed request")
		help     = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		simulate.ShowHelp()
		return
	}

	if err := simulate.SetupLogging(*logFile, *verbose); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultRunTimeout)
	defer cancel()

	cfg := &simulate.Config{
		BaseURL:       *baseURL,
		Issuers:       *issuers,
		DocsPerIssuer: *docs,
		Fields:        simulate.DefaultFields,
		Jitter:        *jitter,
		DropRate:      *dropRate,
		Workers:       *workers,
		Timeout:       *timeout,
		Async:         *async,
		DrainTimeout:  defaultDrainTimeout,
		Seed:          *seed,
		OutputFile:    *output,
		Verbose:       *verbose,
	}

	if _, err := simulate.Run(ctx, cfg); err != nil {
		os.Stderr.WriteString("Simulation failed: " + err.Error() + "\n")
		os.Exit(1)
	}
}
