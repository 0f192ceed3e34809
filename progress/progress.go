package progress

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/dhcgn/sms-bridge/stats"
)

// Bar shows how many inbox lines have been relayed.
type Bar struct {
	pb       *pterm.ProgressbarPrinter
	total    int
	received int
	mu       sync.Mutex
	enabled  bool
}

// New creates a progress bar over total inbox lines. The bar is only drawn
// for the "info" log level and a known total.
func New(total int, logLevel string) *Bar {
	bar := &Bar{
		total:   total,
		enabled: logLevel == "info" && total > 0,
	}
	if !bar.enabled {
		return bar
	}

	pb, err := pterm.DefaultProgressbar.
		WithTotal(total).
		WithTitle("Relaying messages").
		Start()
	if err != nil {
		bar.enabled = false
		return bar
	}
	bar.pb = pb
	pterm.Info.Printf("Messages in inbox: %d\n", total)
	return bar
}

// Enabled reports whether the bar is drawn.
func (b *Bar) Enabled() bool {
	return b != nil && b.enabled && b.pb != nil
}

// Update advances the bar for received requests and prints failures above it.
func (b *Bar) Update(evt stats.Event) {
	if !b.Enabled() {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch evt.Type {
	case stats.EventTypeReceived:
		b.received++
		if b.received <= b.total {
			b.pb.Increment()
		}
		if evt.RequestID != "" {
			b.pb.UpdateTitle("Relaying: " + truncate(evt.RequestID, 40))
		}
	case stats.EventTypeFailed, stats.EventTypeError:
		if evt.Err != nil {
			pterm.Error.Printf("%s: %v\n", evt.RequestID, evt.Err)
		}
	}
}

// Stop finalizes the bar.
func (b *Bar) Stop() {
	if !b.Enabled() {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pb.Current < b.total {
		b.pb.Current = b.total
	}
	_, _ = b.pb.Stop()
	pterm.Success.Println("Relaying complete!")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// Reporter feeds the bar and a stats collector from a single subscription.
type Reporter struct {
	bar       *Bar
	collector *stats.Collector
	logger    *slog.Logger
	started   time.Time
}

// NewReporter subscribes to stream. A nil or disabled bar only collects
// statistics.
func NewReporter(stream stats.EventStream, bar *Bar, logger *slog.Logger) *Reporter {
	reporter := &Reporter{
		bar:       bar,
		collector: stats.NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}
	stream.SubscribeStats("progress-reporter", reporter.consume)
	return reporter
}

func (r *Reporter) consume(ctx context.Context, events <-chan stats.Event) error {
	defer r.bar.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				r.printSummary()
				return nil
			}
			r.collector.Apply(evt)
			r.bar.Update(evt)
		}
	}
}

func (r *Reporter) printSummary() {
	summary := r.collector.Snapshot()
	duration := time.Since(r.started)

	if r.logger != nil {
		r.logger.Info("stats summary", append(summary.LogAttrs(), "duration", duration)...)
	}
	if !r.bar.Enabled() {
		return
	}

	pterm.Println()
	pterm.DefaultSection.Println("Summary Statistics")
	pterm.Info.Printf("Duration: %v\n", duration)
	pterm.Info.Printf("Received: %d\n", summary.Received)
	pterm.Info.Printf("Duplicates (skipped): %d\n", summary.Duplicates)
	pterm.Info.Printf("Published: %d\n", summary.Published)
	pterm.Info.Printf("Registered: %d\n", summary.Registered)
	pterm.Info.Printf("Rejected: %d\n", summary.Rejected)
	pterm.Info.Printf("Failed: %d\n", summary.Failed)
	pterm.Info.Printf("Errors: %d\n", summary.Errors)
	if summary.LastError != nil {
		pterm.Error.Printf("Last error: %v\n", summary.LastError)
	}
}

// Summary returns the statistics collected so far.
func (r *Reporter) Summary() stats.Summary {
	return r.collector.Snapshot()
}

// CountLines counts the non-empty lines of an inbox file.
func CountLines(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open inbox: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	count := 0
	for scanner.Scan() {
		if len(bytes.TrimSpace(scanner.Bytes())) > 0 {
			count++
		}
	}
	if err := scanner.Err(); err != nil {
		return count, fmt.Errorf("count inbox lines: %w", err)
	}
	return count, nil
}
