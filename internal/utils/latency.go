package utils

import (
	"sort"
	"sync"
	"time"
)

// LatencyTracker keeps a bounded window of duration samples per key
// (for example one key per pipeline stage) and computes percentiles.
type LatencyTracker struct {
	mu      sync.RWMutex
	samples map[string][]time.Duration
	maxSize int
}

// NewLatencyTracker creates a tracker storing up to maxSize samples per key.
func NewLatencyTracker(maxSize int) *LatencyTracker {
	if maxSize <= 0 {
		maxSize = 512
	}
	return &LatencyTracker{maxSize: maxSize, samples: make(map[string][]time.Duration)}
}

// Observe records a new duration under key.
func (l *LatencyTracker) Observe(key string, d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	window := append(l.samples[key], d)
	if len(window) > l.maxSize {
		window = window[len(window)-l.maxSize:]
	}
	l.samples[key] = window
}

// Percentile returns the p-th (0-100) percentile for key, or zero without samples.
func (l *LatencyTracker) Percentile(key string, p float64) time.Duration {
	l.mu.RLock()
	window := append([]time.Duration(nil), l.samples[key]...)
	l.mu.RUnlock()

	if len(window) == 0 {
		return 0
	}
	sort.Slice(window, func(i, j int) bool { return window[i] < window[j] })

	switch {
	case p <= 0:
		return window[0]
	case p >= 100:
		return window[len(window)-1]
	}
	index := int((p / 100.0) * float64(len(window)-1))
	return window[index]
}

// Count returns the number of samples held for key.
func (l *LatencyTracker) Count(key string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.samples[key])
}

// Keys lists the keys with at least one sample, sorted.
func (l *LatencyTracker) Keys() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	keys := make([]string, 0, len(l.samples))
	for k := range l.samples {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
