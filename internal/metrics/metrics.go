// Package metrics records per-kind handler latency and dispatch outcomes for
// drain passes.
package metrics

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
)

// Outcome labels the result of one handler dispatch.
type Outcome string

const (
	OutcomeSynced  Outcome = "synced"
	OutcomeRetry   Outcome = "retry"
	OutcomeDropped Outcome = "dropped"
	OutcomeAborted Outcome = "aborted"
)

// LatencyTracker tracks latency quantiles and outcome counts per operation
// using DDSketch. Operations are action kinds in practice.
type LatencyTracker struct {
	mu               sync.Mutex
	sketches         map[string]*ddsketch.DDSketch
	outcomes         map[string]map[Outcome]int64
	relativeAccuracy float64
}

// NewLatencyTracker creates a tracker. relativeAccuracy bounds the quantile
// error (0.01 = 1%).
func NewLatencyTracker(relativeAccuracy float64) *LatencyTracker {
	return &LatencyTracker{
		sketches:         make(map[string]*ddsketch.DDSketch),
		outcomes:         make(map[string]map[Outcome]int64),
		relativeAccuracy: relativeAccuracy,
	}
}

// Record adds one latency sample for operation.
func (lt *LatencyTracker) Record(operation string, duration time.Duration) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	lt.sketchLocked(operation).Add(float64(duration.Microseconds()) / 1000.0)
}

// Observe records a dispatch latency together with its outcome.
func (lt *LatencyTracker) Observe(operation string, duration time.Duration, outcome Outcome) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	lt.sketchLocked(operation).Add(float64(duration.Microseconds()) / 1000.0)
	counts, ok := lt.outcomes[operation]
	if !ok {
		counts = make(map[Outcome]int64)
		lt.outcomes[operation] = counts
	}
	counts[outcome]++
}

func (lt *LatencyTracker) sketchLocked(operation string) *ddsketch.DDSketch {
	sketch, exists := lt.sketches[operation]
	if !exists {
		var err error
		sketch, err = ddsketch.LogUnboundedDenseDDSketch(lt.relativeAccuracy)
		if err != nil {
			sketch, _ = ddsketch.NewDefaultDDSketch(lt.relativeAccuracy)
		}
		lt.sketches[operation] = sketch
	}
	return sketch
}

// RecordFunc runs fn and records its execution time.
func (lt *LatencyTracker) RecordFunc(operation string, fn func() error) error {
	start := time.Now()
	err := fn()
	lt.Record(operation, time.Since(start))
	return err
}

// GetQuantile returns the latency in milliseconds at quantile q for operation.
func (lt *LatencyTracker) GetQuantile(operation string, q float64) (float64, error) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	sketch, exists := lt.sketches[operation]
	if !exists {
		return 0, fmt.Errorf("no data for operation: %s", operation)
	}
	return sketch.GetValueAtQuantile(q)
}

// Stats summarizes one operation. Latencies are in milliseconds.
type Stats struct {
	Operation string            `json:"operation"`
	Count     int64             `json:"count"`
	Min       float64           `json:"min"`
	P50       float64           `json:"p50"`
	P90       float64           `json:"p90"`
	P99       float64           `json:"p99"`
	Max       float64           `json:"max"`
	Outcomes  map[Outcome]int64 `json:"outcomes,omitempty"`
}

// GetStats returns statistics for operation.
func (lt *LatencyTracker) GetStats(operation string) (Stats, error) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return lt.statsLocked(operation)
}

func (lt *LatencyTracker) statsLocked(operation string) (Stats, error) {
	sketch, exists := lt.sketches[operation]
	if !exists {
		return Stats{}, fmt.Errorf("no data for operation: %s", operation)
	}

	stats := Stats{Operation: operation}
	if counts := lt.outcomes[operation]; len(counts) > 0 {
		stats.Outcomes = make(map[Outcome]int64, len(counts))
		for k, v := range counts {
			stats.Outcomes[k] = v
		}
	}

	count := sketch.GetCount()
	if count == 0 {
		return stats, nil
	}
	stats.Count = int64(count)
	stats.Min, _ = sketch.GetMinValue()
	stats.P50, _ = sketch.GetValueAtQuantile(0.50)
	stats.P90, _ = sketch.GetValueAtQuantile(0.90)
	stats.P99, _ = sketch.GetValueAtQuantile(0.99)
	stats.Max, _ = sketch.GetMaxValue()
	return stats, nil
}

// GetAllStats returns statistics for every tracked operation, sorted by name.
func (lt *LatencyTracker) GetAllStats() []Stats {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	names := make([]string, 0, len(lt.sketches))
	for name := range lt.sketches {
		names = append(names, name)
	}
	sort.Strings(names)

	stats := make([]Stats, 0, len(names))
	for _, name := range names {
		if s, err := lt.statsLocked(name); err == nil {
			stats = append(stats, s)
		}
	}
	return stats
}

// String formats s on one line.
func (s Stats) String() string {
	if s.Count == 0 {
		return fmt.Sprintf("  %s: no data", s.Operation)
	}
	return fmt.Sprintf("  %s (n=%d): min=%.2fms p50=%.2fms p90=%.2fms p99=%.2fms max=%.2fms synced=%d retry=%d dropped=%d",
		s.Operation, s.Count, s.Min, s.P50, s.P90, s.P99, s.Max,
		s.Outcomes[OutcomeSynced], s.Outcomes[OutcomeRetry], s.Outcomes[OutcomeDropped])
}
