// Package reporting writes a per-run summary (RUN_REPORT.md and
// run_stages.csv) from the events a pipeline run emits.
package reporting

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"mvr-etl/internal/pipeline"
)

// Output file names.
const (
	MarkdownFile = "RUN_REPORT.md"
	CSVFile      = "run_stages.csv"
)

var _ pipeline.Notifier = (*Collector)(nil)

// Collector records pipeline events for a report.
type Collector struct {
	mu     sync.Mutex
	events []pipeline.Event
	now    func() time.Time
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{now: time.Now}
}

// WithClock sets a custom clock for deterministic output.
func (c *Collector) WithClock(now func() time.Time) *Collector {
	c.now = now
	return c
}

// Notify implements pipeline.Notifier.
func (c *Collector) Notify(_ context.Context, ev pipeline.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

// Report builds a report from the events collected so far.
func (c *Collector) Report(table string) *Report {
	c.mu.Lock()
	events := append([]pipeline.Event(nil), c.events...)
	c.mu.Unlock()
	return Build(table, events, c.now())
}

// WriteFiles writes the Markdown and CSV renderings into dir, creating it if needed.
func WriteFiles(dir string, r *Report) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, MarkdownFile), []byte(RenderMarkdown(r)), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", MarkdownFile, err)
	}

	csvData, err := RenderCSV(r)
	if err != nil {
		return fmt.Errorf("render %s: %w", CSVFile, err)
	}
	if err := os.WriteFile(filepath.Join(dir, CSVFile), []byte(csvData), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", CSVFile, err)
	}
	return nil
}
