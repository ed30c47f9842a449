package main

// Package main is the entry point for the fleetsight CLI.
//
// Responsibilities:
//   - Load and validate configuration from YAML, environment variables, and CLI flags
//   - analyze: run the anomaly pipeline over a CSV scan export, print the
//     triage report, write plot-data artifacts, and optionally persist results
//   - serve: expose the pipeline as an HTTP service with run history,
//     Prometheus metrics, and a WebSocket event stream
//   - Implement graceful shutdown with context cancellation

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
