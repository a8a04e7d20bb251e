// Package memsys tracks system memory pressure and derives the adaptive
// buffer-size curve shared by the external sort-merge and bucketed
// streaming stages.
/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package memsys

import (
	"sync"
	"time"

	"github.com/caldera-data/retl/internal/metrics"
	"github.com/caldera-data/retl/sys"
)

// Source reports available memory as a fraction of total, in [0, 1]. It
// exists so tests can inject a scripted sequence of readings instead of the
// real /proc/meminfo.
type Source interface {
	AvailableFraction() (float64, error)
}

// procSource reads /proc/meminfo (linux) or reports 1.0 (unconstrained)
// elsewhere.
type procSource struct{}

func (procSource) AvailableFraction() (float64, error) {
	st, err := sys.ReadMemStat()
	if err != nil {
		return 1.0, nil //nolint:nilerr // unconstrained fallback, not a hard failure
	}
	if st.TotalBytes == 0 {
		return 1.0, nil
	}
	return float64(st.AvailableBytes) / float64(st.TotalBytes), nil
}

// Watcher caches the available-memory fraction, refreshing at most once per
// CacheFor so the read stays cheap on the hot ingest path.
type Watcher struct {
	src      Source
	mu       sync.Mutex
	last     time.Time
	frac     float64
	CacheFor time.Duration
}

func NewWatcher() *Watcher {
	return &Watcher{src: procSource{}, CacheFor: 500 * time.Millisecond, frac: 1.0}
}

// NewWatcherFrom builds a Watcher over an arbitrary Source, for tests.
func NewWatcherFrom(src Source) *Watcher {
	return &Watcher{src: src, CacheFor: 500 * time.Millisecond}
}

func (w *Watcher) AvailableFraction() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	if !w.last.IsZero() && now.Sub(w.last) < w.CacheFor {
		return w.frac
	}
	f, err := w.src.AvailableFraction()
	if err == nil {
		w.frac = f
	}
	w.last = now
	metrics.SetMemoryAvailableFraction(w.frac)
	return w.frac
}

func (w *Watcher) IsLow(threshold float64) bool {
	return w.AvailableFraction() < threshold
}

// MaybeThrottle sleeps briefly when free memory is under threshold, giving
// the allocator and the OS page cache room to catch up before the caller
// reads the next line.
func (w *Watcher) MaybeThrottle(threshold float64) {
	if w.IsLow(threshold) {
		time.Sleep(25 * time.Millisecond)
	}
}
