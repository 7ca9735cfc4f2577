// Package telemetry keeps small rolling windows of recent request latencies
// and extraction outcomes for the alert heuristics to inspect.
package telemetry

import (
	"math"
	"sort"
	"sync"
	"time"
)

// LatencyWindow holds the most recent request latencies.
type LatencyWindow struct {
	mu      sync.Mutex
	samples []time.Duration
	next    int
	full    bool
}

func NewLatencyWindow(size int) *LatencyWindow {
	if size < 1 {
		size = 1
	}
	return &LatencyWindow{samples: make([]time.Duration, size)}
}

func (w *LatencyWindow) Record(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples[w.next] = d
	w.next = (w.next + 1) % len(w.samples)
	if w.next == 0 {
		w.full = true
	}
}

func (w *LatencyWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.full {
		return len(w.samples)
	}
	return w.next
}

// Percentile returns the p-th percentile (0-100) of the window, or 0 when
// empty. Nearest-rank method.
func (w *LatencyWindow) Percentile(p float64) time.Duration {
	w.mu.Lock()
	n := w.next
	if w.full {
		n = len(w.samples)
	}
	sorted := make([]time.Duration, n)
	copy(sorted, w.samples[:n])
	w.mu.Unlock()

	if n == 0 {
		return 0
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	rank := int(math.Ceil(p*float64(n)/100)) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= n {
		rank = n - 1
	}
	return sorted[rank]
}

// OutcomeWindow tracks success/failure of the most recent operations.
type OutcomeWindow struct {
	mu       sync.Mutex
	outcomes []bool
	next     int
	full     bool
}

func NewOutcomeWindow(size int) *OutcomeWindow {
	if size < 1 {
		size = 1
	}
	return &OutcomeWindow{outcomes: make([]bool, size)}
}

func (w *OutcomeWindow) Record(ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.outcomes[w.next] = ok
	w.next = (w.next + 1) % len(w.outcomes)
	if w.next == 0 {
		w.full = true
	}
}

// FailureRatio returns the share of failures in the window and the number
// of samples it was computed over.
func (w *OutcomeWindow) FailureRatio() (float64, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := w.next
	if w.full {
		n = len(w.outcomes)
	}
	if n == 0 {
		return 0, 0
	}
	failed := 0
	for _, ok := range w.outcomes[:n] {
		if !ok {
			failed++
		}
	}
	return float64(failed) / float64(n), n
}
