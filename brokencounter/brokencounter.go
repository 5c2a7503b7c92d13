// Package brokencounter implements the ratelimited census of OR links that
// died before reaching Open, keyed by a human-readable state label (§4.9).
// It gives operators a cheap signal ("half my broken links die during TLS
// renegotiation") without the cost of a full per-link log line for every
// failed handshake.
package brokencounter

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

// DefaultTopN is the default cap on how many labels a report emits.
const DefaultTopN = 10

// Counter tallies how many times each "<conn_state> with SSL state
// <tls_state>" label has been seen. Recording can be globally disabled;
// existing counts are cleared the moment it is.
type Counter struct {
	mu      sync.Mutex
	enabled bool
	counts  map[string]int64
}

// New returns an enabled, empty counter.
func New() *Counter {
	return &Counter{enabled: true, counts: make(map[string]int64)}
}

// Label builds the human-readable key for a torn-down link: its connection
// state and, if any, its TLS error, exactly as described in §4.9.
func Label(connState string, tlsState string) string {
	if tlsState == "" {
		tlsState = "null"
	}
	return fmt.Sprintf("%s with SSL state %s", connState, tlsState)
}

// RecordBroken increments the counter for connState/tlsState's label. It is
// a no-op while recording is disabled.
func (c *Counter) RecordBroken(connState string, tlsState string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	c.counts[Label(connState, tlsState)]++
}

// SetEnabled toggles recording. Disabling clears every existing count, per
// §4.9; re-enabling starts from an empty census.
func (c *Counter) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
	if !enabled {
		c.counts = make(map[string]int64)
	}
}

// Enabled reports whether recording is currently active.
func (c *Counter) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// LabelCount is one reported (label, count) pair.
type LabelCount struct {
	Label string
	Count int64
}

// TopN returns the n labels with the highest counts, highest first; ties
// break by label for a stable report. n <= 0 yields every label recorded.
func (c *Counter) TopN(n int) []LabelCount {
	c.mu.Lock()
	entries := make([]LabelCount, 0, len(c.counts))
	for label, count := range c.counts {
		entries = append(entries, LabelCount{Label: label, Count: count})
	}
	c.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Label < entries[j].Label
	})
	if n > 0 && len(entries) > n {
		entries = entries[:n]
	}
	return entries
}

// Reporter periodically logs a counter's top-N labels at a chosen interval
// and log level, until Stop is called.
type Reporter struct {
	counter  *Counter
	logger   *log.Logger
	topN     int
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewReporter wires a Reporter to counter; topN <= 0 falls back to
// DefaultTopN.
func NewReporter(counter *Counter, logger *log.Logger, interval time.Duration, topN int) *Reporter {
	if topN <= 0 {
		topN = DefaultTopN
	}
	return &Reporter{counter: counter, logger: logger, topN: topN, interval: interval, stopCh: make(chan struct{})}
}

// Run blocks, emitting a report every interval, until Stop is called. It is
// meant to be run in its own goroutine.
func (r *Reporter) Run() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.reportOnce()
		case <-r.stopCh:
			return
		}
	}
}

// Stop ends a running Reporter. Safe to call more than once.
func (r *Reporter) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

func (r *Reporter) reportOnce() {
	top := r.counter.TopN(r.topN)
	if len(top) == 0 {
		return
	}
	r.logger.Printf("protocol-broken-counter: top %d broken-link states:", len(top))
	for _, e := range top {
		r.logger.Printf("  %6d  %s", e.Count, e.Label)
	}
}

/* vim :set ts=4 sw=4 sts=4 noet : */
