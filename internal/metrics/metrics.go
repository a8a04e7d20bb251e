// Package metrics exposes the engine's Prometheus counters and gauges:
// bytes processed, lines skipped to corruption, shard flushes, and
// corruption events.
/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	bytesProcessedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "retl_bytes_processed_total",
		Help: "Total compressed bytes read from monthly corpus files.",
	})
	linesSkippedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "retl_lines_skipped_total",
		Help: "Total lines skipped for malformed JSON or a missing grouping key.",
	})
	filesSkippedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "retl_files_skipped_total",
		Help: "Total monthly files skipped after a zstd decode error.",
	})
	shardFlushesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "retl_shard_flushes_total",
		Help: "Total adaptive buffer flushes in the bucket streaming stage.",
	})
	runsPerMerge = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "retl_merge_run_count",
		Help:    "Number of sorted runs fed into a single sort-merge pass.",
		Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64, 128, 256},
	})
	memoryAvailableFraction = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "retl_memory_available_fraction",
		Help: "Last observed fraction of system memory available, as seen by the memory watcher.",
	})
)

func init() {
	prometheus.MustRegister(
		bytesProcessedTotal,
		linesSkippedTotal,
		filesSkippedTotal,
		shardFlushesTotal,
		runsPerMerge,
		memoryAvailableFraction,
	)
}

func AddBytesProcessed(n uint64) { bytesProcessedTotal.Add(float64(n)) }

func IncLinesSkipped() { linesSkippedTotal.Inc() }

func IncFilesSkipped() { filesSkippedTotal.Inc() }

func IncShardFlushes() { shardFlushesTotal.Inc() }

func ObserveMergeRunCount(n int) { runsPerMerge.Observe(float64(n)) }

func SetMemoryAvailableFraction(f float64) { memoryAvailableFraction.Set(f) }

// ServeHTTP starts a background /metrics endpoint on addr. Safe to call at
// most once per process; a second call starts a second listener.
func ServeHTTP(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		_ = server.ListenAndServe()
	}()
}
