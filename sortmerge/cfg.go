// Package sortmerge implements external sort-merge deduplication: build
// sorted-by-key runs under adaptive memory pressure, then k-way merge them,
// delegating same-key collapsing to a caller-supplied function.
/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package sortmerge

import "github.com/caldera-data/retl/memsys"

// Cfg tunes run-building and merging.
type Cfg struct {
	MinBufMB        int64
	MaxBufMB        int64
	SoftLowFrac     float64
	HardLowFrac     float64
	HighFrac        float64
	AdaptCooldownMS int64
	BackoffMS       int64
	ReadBufBytes    int
	WriteBufBytes   int
}

func DefaultCfg() Cfg {
	return Cfg{
		MinBufMB:        512,
		MaxBufMB:        8192,
		SoftLowFrac:     0.18,
		HardLowFrac:     0.10,
		HighFrac:        0.85,
		AdaptCooldownMS: 400,
		BackoffMS:       25,
		ReadBufBytes:    4 << 20,
		WriteBufBytes:   4 << 20,
	}
}

func (c Cfg) adaptiveCfg() memsys.AdaptiveCfg {
	return memsys.AdaptiveCfg{
		MinBufMB: c.MinBufMB, MaxBufMB: c.MaxBufMB,
		SoftLowFrac: c.SoftLowFrac, HighFrac: c.HighFrac,
	}
}
