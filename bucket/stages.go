/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package bucket

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/caldera-data/retl/internal/metrics"
	"github.com/caldera-data/retl/keyx"
	"github.com/caldera-data/retl/orch"
	"github.com/caldera-data/retl/rec"
	"github.com/caldera-data/retl/shard"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// PartitionStage1 shards arbitrary NDJSON inputs by key into n files named
// stage1_####.jsonl, using the run's fixed Stage-1 seed so the same key
// always lands in the same shard regardless of which input file it came
// from.
func PartitionStage1(inputs []string, outDir string, n int, key keyx.Extractor) ([]string, error) {
	return partitionInto(inputs, outDir, "stage1", n, shard.SeedStage1, key)
}

// BucketizeShard re-buckets a single Stage-1 shard into n bucket_####.jsonl
// files using the run's fixed Stage-2 seed and the same key extractor.
func BucketizeShard(shardPath, outDir string, n int, key keyx.Extractor) ([]string, error) {
	return partitionInto([]string{shardPath}, outDir, "bucket", n, shard.SeedStage2, key)
}

func partitionInto(inputs []string, outDir, namePrefix string, n int, seed shard.Seed, key keyx.Extractor) ([]string, error) {
	if n <= 0 {
		n = 1
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create %s", outDir)
	}

	paths := make([]string, n)
	files := make([]*os.File, n)
	bufs := make([]*bufio.Writer, n)
	locks := make([]sync.Mutex, n)
	for i := 0; i < n; i++ {
		paths[i] = filepath.Join(outDir, fmt.Sprintf("%s_%04d.jsonl", namePrefix, i))
		f, err := os.Create(paths[i])
		if err != nil {
			return nil, errors.Wrapf(err, "create %s", paths[i])
		}
		files[i] = f
		bufs[i] = bufio.NewWriterSize(f, 64*1024)
	}
	defer func() {
		for i := range files {
			bufs[i].Flush()
			files[i].Close()
		}
	}()

	var g errgroup.Group
	for _, in := range inputs {
		in := in
		g.Go(func() error {
			f, err := orch.OpenWithBackoff(in)
			if err != nil {
				return errors.Wrapf(err, "open %s", in)
			}
			defer f.Close()
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
				idx := shard.Index(k, seed, n)
				locks[idx].Lock()
				bufs[idx].WriteString(line)
				bufs[idx].WriteByte('\n')
				locks[idx].Unlock()
			}
			return sc.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}
