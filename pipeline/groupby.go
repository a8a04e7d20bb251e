/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/caldera-data/retl/bucket"
	"github.com/caldera-data/retl/keyx"
	"github.com/caldera-data/retl/orch"
	"github.com/caldera-data/retl/partition"
	"github.com/caldera-data/retl/query"
	"github.com/caldera-data/retl/rec"
	"github.com/caldera-data/retl/sortmerge"
	"golang.org/x/sync/errgroup"
)

// DedupeByKey collapses every group of lines in input sharing a key into a
// single output record via sort-merge: adaptive sorted runs, then a k-way
// merge calling collapse once per distinct key. The runs directory lives
// under the work dir and is removed with the runs on success. Pass
// sortmerge.DefaultCfg() unless the input's run sizing needs tuning.
func (e *Engine) DedupeByKey(input, output string, key keyx.Extractor, cfg sortmerge.Cfg, collapse sortmerge.CollapseFunc) error {
	workDir, err := e.ensureWorkDir()
	if err != nil {
		return err
	}
	runsDir := filepath.Join(workDir, "dedupe_runs")

	runs, err := sortmerge.BuildRuns(context.Background(), input, runsDir, key, cfg, e.Mem)
	if err != nil {
		return err
	}
	if err := sortmerge.Merge(runs, output, key, cfg, collapse); err != nil {
		return err
	}
	return os.RemoveAll(runsDir)
}

// GroupByKey streams every group of lines in inputs sharing a key to
// onGroup, via the three-stage bucketed partitioner. Partial groups are
// possible under memory pressure; onGroup must combine repeated emissions
// for the same key. Stage directories live under the work dir and are
// removed on success.
func (e *Engine) GroupByKey(inputs []string, key keyx.Extractor, buckets int, onGroup bucket.OnGroup) error {
	workDir, err := e.ensureWorkDir()
	if err != nil {
		return err
	}
	stageDir := filepath.Join(workDir, "groupby")

	stage1, err := bucket.PartitionStage1(inputs, filepath.Join(stageDir, "stage1"), e.Opts.ShardCount, key)
	if err != nil {
		return err
	}

	limit := e.Opts.FileConcurrency
	if limit < 1 {
		limit = 1
	}
	cfg := bucket.DefaultCfg()
	var g errgroup.Group
	g.SetLimit(limit)
	for i, sh := range stage1 {
		i, sh := i, sh
		g.Go(func() error {
			stage2, err := bucket.BucketizeShard(sh, filepath.Join(stageDir, fmt.Sprintf("stage2_%04d", i)), buckets, key)
			if err != nil {
				return err
			}
			for _, b := range stage2 {
				if err := bucket.ProcessBucketStreaming(b, buckets, cfg, key, e.Mem, onGroup); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return os.RemoveAll(stageDir)
}

// ExportPartitionedByAuthor streams matching records into a fixed number of
// author-routed partition files under outDir: all of one author's records
// land in the same part, staged and atomically promoted on completion.
// Returns the final partition paths.
func (e *Engine) ExportPartitionedByAuthor(q query.Spec, outDir, stem string, parts int) ([]string, error) {
	q = q.Normalize()
	targets := query.ResolveTargetSubs(q.Subreddits, e.Opts.Subreddit)
	jobs := e.planFiles()
	bounds := e.bounds()

	sink, err := partition.New(outDir, stem, parts, e.Opts.WriteBufferBytes)
	if err != nil {
		return nil, err
	}

	sw := &sinkWriter{sink: sink}
	err = orch.ForEachFileLimited(context.Background(), jobs, e.Opts.FileConcurrency, func(_ context.Context, job rec.FileJob) error {
		_, err := streamJob(job, sw, targets, q, e.Opts.WhitelistFields, bounds, e.Opts.HumanReadableTimestamps, e.Opts.ReadBufferBytes, e.Mem)
		return err
	})
	if err != nil {
		sink.Abort()
		return nil, err
	}
	return sink.Finalize()
}

// sinkWriter adapts partition.Sink to the recordWriter fast path, routing
// each line by its author. Records without an author route under "" and
// still land in one stable partition.
type sinkWriter struct {
	sink *partition.Sink
}

func (s *sinkWriter) WriteRawLine(line string) error {
	user := ""
	if min, err := rec.ParseMinimal(line); err == nil && min.Author != nil {
		user = *min.Author
	}
	return s.sink.WriteWith(user, func(w io.Writer) error {
		if _, err := io.WriteString(w, line); err != nil {
			return err
		}
		_, err := io.WriteString(w, "\n")
		return err
	})
}

func (s *sinkWriter) WriteRecord(v map[string]any) error {
	user, _ := v["author"].(string)
	line, err := aggregateJSON.MarshalToString(v)
	if err != nil {
		return err
	}
	return s.sink.WriteWith(user, func(w io.Writer) error {
		if _, err := io.WriteString(w, line); err != nil {
			return err
		}
		_, err := io.WriteString(w, "\n")
		return err
	})
}
