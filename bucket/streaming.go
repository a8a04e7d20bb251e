/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package bucket

import (
	"bufio"
	"os"
	"time"

	"github.com/caldera-data/retl/internal/metrics"
	"github.com/caldera-data/retl/keyx"
	"github.com/caldera-data/retl/memsys"
	"github.com/caldera-data/retl/rec"
	"github.com/caldera-data/retl/shard"
	"github.com/pkg/errors"
)

// OnGroup receives every line sharing a key. Under memory pressure a key may
// be flushed more than once with a partial group — the caller's downstream
// merge step must be commutative/associative or otherwise able to combine
// partial emissions for the same key.
type OnGroup func(key string, lines []string) error

// ProcessBucketStreaming reads bucketPath (as produced by BucketizeShard),
// routes lines into microBuckets in-memory maps keyed by the same extractor
// used upstream, and flushes the largest in-memory bucket whenever the
// adaptively-sized total buffer target is reached or free memory is low. A
// missing bucket file is silently treated as empty rather than an error —
// mirrors a downstream stage asking for a bucket index no upstream shard
// ever populated.
func ProcessBucketStreaming(bucketPath string, microBuckets int, cfg Cfg, key keyx.Extractor, mem *memsys.Watcher, onGroup OnGroup) error {
	f, err := os.Open(bucketPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "open %s", bucketPath)
	}
	defer f.Close()

	if microBuckets <= 0 {
		microBuckets = 1
	}
	maps := make([]map[string][]string, microBuckets)
	mbBytes := make([]int64, microBuckets)
	for i := range maps {
		maps[i] = map[string][]string{}
	}
	var totalBytes int64

	flushBucket := func(idx int) error {
		m := maps[idx]
		if len(m) == 0 {
			return nil
		}
		maps[idx] = map[string][]string{}
		totalBytes -= mbBytes[idx]
		if totalBytes < 0 {
			totalBytes = 0
		}
		mbBytes[idx] = 0
		metrics.IncShardFlushes()
		for k, lines := range m {
			if err := onGroup(k, lines); err != nil {
				return err
			}
		}
		return nil
	}

	flushLargest := func() error {
		maxIdx, maxVal := 0, int64(0)
		for i, b := range mbBytes {
			if b > maxVal {
				maxVal, maxIdx = b, i
			}
		}
		if maxVal > 0 {
			return flushBucket(maxIdx)
		}
		return nil
	}

	lastEval := time.Now()
	targetBytes := cfg.MicroMinBufMB << 20
	cooldown := time.Duration(cfg.AdaptCooldownMS) * time.Millisecond

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		v, err := rec.ParseFull(line)
		if err != nil {
			metrics.IncLinesSkipped()
			continue
		}
		k, ok := key.KeyFromValue(v)
		if !ok {
			metrics.IncLinesSkipped()
			continue
		}
		idx := shard.Index(k, shard.SeedMicroBucket, microBuckets)
		maps[idx][k] = append(maps[idx][k], line)
		add := int64(len(line)) + 1
		mbBytes[idx] += add
		totalBytes += add

		if mem != nil && time.Since(lastEval) >= cooldown {
			free := mem.AvailableFraction()
			targetBytes = memsys.AdaptiveTarget(cfg.adaptiveCfg(), free)
			lastEval = time.Now()
		}

		low := mem != nil && mem.IsLow(cfg.SoftLowFrac)
		if totalBytes >= targetBytes || low {
			if err := flushLargest(); err != nil {
				return err
			}
			if mem != nil && mem.IsLow(cfg.HardLowFrac) {
				time.Sleep(time.Duration(cfg.BackoffMS) * time.Millisecond)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}

	for i := range maps {
		if err := flushBucket(i); err != nil {
			return err
		}
	}
	return nil
}
