// Package parentjoin implements the parent-comment/submission join: collect
// every t1_/t3_ id referenced as a parent in a set of derived JSONL files,
// resolve those ids to their body/title/selftext payloads from the corpus,
// then attach a "parent" object to every comment record (an empty one when
// the parent was not found).
/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package parentjoin

import (
	"bufio"
	"context"
	"strings"

	"github.com/caldera-data/retl/orch"
	"github.com/caldera-data/retl/rec"
	"github.com/caldera-data/retl/shard"
)

const defaultIDShardCount = 256

// IDShards is the deduplicated set of parent ids referenced anywhere in the
// corpus, split into sharded files on disk so the membership test never has
// to hold every id in memory at once.
type IDShards struct {
	T1Files    []string
	T3Files    []string
	ShardCount int
}

// CollectIDs scans every jsonl input for parent_id and link_id references,
// stripping the t1_/t3_ type prefix reddit uses, and writes each referenced
// id into its stable shard. fileConcurrency bounds how many input files are
// scanned in parallel.
func CollectIDs(paths []string, workDir string, fileConcurrency int) (*IDShards, error) {
	if len(paths) == 0 {
		return &IDShards{ShardCount: defaultIDShardCount}, nil
	}

	t1w, err := shard.NewWriter(workDir, "t1", defaultIDShardCount, shard.SeedParentT1)
	if err != nil {
		return nil, err
	}
	t3w, err := shard.NewWriter(workDir, "t3", defaultIDShardCount, shard.SeedParentT3)
	if err != nil {
		return nil, err
	}

	jobs := make([]rec.FileJob, len(paths))
	for i, p := range paths {
		jobs[i] = rec.FileJob{Path: p}
	}

	err = orch.ForEachFileLimited(context.Background(), jobs, fileConcurrency, func(_ context.Context, job rec.FileJob) error {
		return scanParentRefs(job.Path, t1w, t3w)
	})
	if err != nil {
		return nil, err
	}

	t1Files, err := t1w.Dedup("t1")
	if err != nil {
		return nil, err
	}
	t3Files, err := t3w.Dedup("t3")
	if err != nil {
		return nil, err
	}
	return &IDShards{T1Files: t1Files, T3Files: t3Files, ShardCount: defaultIDShardCount}, nil
}

func scanParentRefs(path string, t1w, t3w *shard.Writer) error {
	f, err := orch.OpenWithBackoff(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		m, err := rec.ParseMinimal(line)
		if err != nil {
			continue
		}
		if m.ParentID != nil {
			if rest, ok := strings.CutPrefix(*m.ParentID, "t1_"); ok {
				if err := t1w.Write(rest); err != nil {
					return err
				}
			} else if rest, ok := strings.CutPrefix(*m.ParentID, "t3_"); ok {
				if err := t3w.Write(rest); err != nil {
					return err
				}
			}
		}
		if m.LinkID != nil {
			if rest, ok := strings.CutPrefix(*m.LinkID, "t3_"); ok {
				if err := t3w.Write(rest); err != nil {
					return err
				}
			}
		}
	}
	return sc.Err()
}
