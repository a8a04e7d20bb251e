/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package shard

import (
	"github.com/OneOfOne/xxhash"
)

// Index returns the shard in [0, n) for key under seed. n<=0 is treated as 1.
func Index(key string, seed Seed, n int) int {
	if n <= 0 {
		n = 1
	}
	digest := xxhash.Checksum64S([]byte(key), uint64(seed))
	return int(digest % uint64(n))
}
