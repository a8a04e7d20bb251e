// Package bucket implements adaptive three-stage bucketed streaming for
// group-by-key reductions too large to hold entirely in memory: Stage 1
// shards arbitrary inputs by key, Stage 2 re-buckets each shard, and Stage 3
// streams a bucket in memory, flushing groups adaptively under memory
// pressure.
/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package bucket

import "github.com/caldera-data/retl/memsys"

type Cfg struct {
	SoftLowFrac     float64
	HardLowFrac     float64
	HighFrac        float64
	BackoffMS       int64
	MicroMinBufMB   int64
	MicroMaxBufMB   int64
	AdaptCooldownMS int64
}

func DefaultCfg() Cfg {
	return Cfg{
		SoftLowFrac:     0.18,
		HardLowFrac:     0.10,
		HighFrac:        0.85,
		BackoffMS:       25,
		MicroMinBufMB:   128,
		MicroMaxBufMB:   4096,
		AdaptCooldownMS: 400,
	}
}

func (c Cfg) adaptiveCfg() memsys.AdaptiveCfg {
	return memsys.AdaptiveCfg{
		MinBufMB: c.MicroMinBufMB, MaxBufMB: c.MicroMaxBufMB,
		SoftLowFrac: c.SoftLowFrac, HighFrac: c.HighFrac,
	}
}
