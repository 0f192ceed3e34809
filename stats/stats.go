package stats

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type Stage string

const (
	StageInbox   Stage = "inbox"
	StageRelay   Stage = "relay"
	StagePublish Stage = "publish"
)

type EventType string

const (
	EventTypeReceived   EventType = "received"
	EventTypeDuplicate  EventType = "duplicate"
	EventTypePublished  EventType = "published"
	EventTypeRegistered EventType = "registered"
	EventTypeRejected   EventType = "rejected"
	EventTypeFailed     EventType = "failed"
	EventTypeError      EventType = "error"
)

type Event struct {
	Stage     Stage
	Type      EventType
	RequestID string
	Platform  string
	Err       error
	Detail    string
}

type Summary struct {
	Received   int
	Duplicates int
	Published  int
	Registered int
	Rejected   int
	Failed     int
	Errors     int
	Platforms  map[string]int
	LastError  error
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"received", s.Received,
		"duplicates", s.Duplicates,
		"published", s.Published,
		"registered", s.Registered,
		"rejected", s.Rejected,
		"failed", s.Failed,
		"errors", s.Errors,
	}
	for _, name := range sortedKeys(s.Platforms) {
		attrs = append(attrs, "platform."+name, s.Platforms[name])
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.Apply(evt)
		}
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	if c.summary.Platforms != nil {
		summary.Platforms = make(map[string]int, len(c.summary.Platforms))
		for k, v := range c.summary.Platforms {
			summary.Platforms[k] = v
		}
	}
	c.mu.Unlock()
	return summary
}

// Apply folds a single event into the summary.
func (c *Collector) Apply(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeReceived:
		c.summary.Received++
	case EventTypeDuplicate:
		c.summary.Duplicates++
	case EventTypePublished:
		c.summary.Published++
		if evt.Platform != "" {
			if c.summary.Platforms == nil {
				c.summary.Platforms = make(map[string]int)
			}
			c.summary.Platforms[evt.Platform]++
		}
	case EventTypeRegistered:
		c.summary.Registered++
	case EventTypeRejected:
		c.summary.Rejected++
	case EventTypeFailed:
		c.summary.Failed++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	case EventTypeError:
		c.summary.Errors++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	}
}

type EventStream interface {
	SubscribeStats(name string, fn func(context.Context, <-chan Event) error)
}

type Reporter struct {
	collector *Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(stream EventStream, logger *slog.Logger) *Reporter {
	reporter := &Reporter{
		collector: NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}
	stream.SubscribeStats("stats-reporter", reporter.consume)
	return reporter
}

func (r *Reporter) consume(ctx context.Context, events <-chan Event) error {
	r.collector.Run(ctx, events)
	summary := r.collector.Snapshot()
	attrs := append(summary.LogAttrs(), "duration", time.Since(r.started))
	if ctx.Err() != nil {
		if r.logger != nil {
			r.logger.Debug("stats collection stopped", append(attrs, "err", ctx.Err())...)
		}
		return ctx.Err()
	}
	if r.logger != nil {
		r.logger.Info("stats summary", attrs...)
	}
	return nil
}

func (r *Reporter) Summary() Summary {
	return r.collector.Snapshot()
}

// PrettyPrintTop prints the top N most frequent items in a map.
func PrettyPrintTop(w io.Writer, m map[string]int, limit int) {
	for i, p := range Top(m, limit) {
		fmt.Fprintf(w, "%d. %s (%d)\n", i+1, p.Key, p.Count)
	}
}

// Count is one entry of a frequency table.
type Count struct {
	Key   string
	Count int
}

// Top returns up to limit entries ordered by count, then key.
func Top(m map[string]int, limit int) []Count {
	pairs := make([]Count, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, Count{k, v})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Count != pairs[j].Count {
			return pairs[i].Count > pairs[j].Count
		}
		return pairs[i].Key < pairs[j].Key
	})

	if limit >= 0 && len(pairs) > limit {
		pairs = pairs[:limit]
	}
	return pairs
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
