// Package report holds the pipeline's external consumers: the verbose console
// report and the per-device plot-data artifacts handed to the visualizer.
package report

import (
	"fmt"
	"io"
	"sync"

	"github.com/fleetsight/fleetsight/internal/scan"
)

// ConsoleReporter prints a one-line triage notice per anomalous device, in
// the order devices are flagged.
type ConsoleReporter struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsoleReporter writes the anomaly report to out.
func NewConsoleReporter(out io.Writer) *ConsoleReporter {
	return &ConsoleReporter{out: out}
}

// ReportAnomaly implements analytics.Reporter.
func (r *ConsoleReporter) ReportAnomaly(d scan.ScoredDevice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, "Attention: Device %s is an anomaly (score = %.4f), needs investigation.\n",
		d.DeviceID, d.RawScore)
}
