// Package shard provides disk-backed sharded writers: a deduplicating key
// writer and a key->int64 reducer, both routed by a seeded xxhash digest so
// the same key always lands in the same shard within a run.
/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package shard

// Seed is a named routing seed: every call site uses one fixed constant so
// shard(key) is a pure function of key for a given stage across the run.
type Seed uint64

const (
	SeedUsernames   Seed = 0x1234_5678_9abc_def0
	SeedParentT1    Seed = 0x0fed_cba9_8765_4321
	SeedParentT3    Seed = 0xdead_beef_cafe_babe
	SeedKV          Seed = 0x0123_4567_89ab_cdef
	SeedPartition   Seed = 0xcafe_babe_dead_beef
	SeedStage1      Seed = 0xface_feed_0bad_f00d
	SeedStage2      Seed = 0x5bd1_e995_1b87_3593
	SeedMicroBucket Seed = 0x2127_5994_3fef_52d7
)
