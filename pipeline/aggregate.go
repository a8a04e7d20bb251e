/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package pipeline

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/caldera-data/retl/orch"
	"github.com/caldera-data/retl/rec"
)

var aggregateJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// Aggregator accumulates arbitrary per-record state and combines partial
// results computed from disjoint inputs. Implementations are expected to be
// JSON round-trippable (plain structs with exported fields work directly).
type Aggregator interface {
	Ingest(record map[string]any)
	Merge(other Aggregator)
}

// shardNameForInput maps a spooled part file (e.g. part_RC_2020-01.jsonl) to
// its aggregation shard name, stripping the common "part_" prefix.
func shardNameForInput(shardsDir, input string) string {
	stem := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	stem = strings.TrimPrefix(stem, "part_")
	return filepath.Join(shardsDir, "agg_"+stem+".json")
}

// AggregateJSONLs builds one aggregation shard per input file (in parallel,
// always rebuilt — no resume support) and merges them into finalOut. newAgg
// must return a fresh, zero-valued Aggregator each call.
func AggregateJSONLs(inputs []string, shardsDir, finalOut string, pretty bool, fileConcurrency int, newAgg func() Aggregator) error {
	if err := os.MkdirAll(shardsDir, 0o755); err != nil {
		return errors.Wrapf(err, "create %s", shardsDir)
	}

	jobs := make([]rec.FileJob, len(inputs))
	for i, in := range inputs {
		jobs[i] = rec.FileJob{Path: in}
	}

	err := orch.ForEachFileLimited(context.Background(), jobs, fileConcurrency, func(_ context.Context, job rec.FileJob) error {
		agg := newAgg()
		if err := ingestLines(job.Path, agg); err != nil {
			return err
		}
		return writeAggShard(shardNameForInput(shardsDir, job.Path), agg)
	})
	if err != nil {
		return err
	}

	entries, err := os.ReadDir(shardsDir)
	if err != nil {
		return errors.Wrapf(err, "read %s", shardsDir)
	}
	var shardPaths []string
	for _, e := range entries {
		if !e.IsDir() {
			shardPaths = append(shardPaths, filepath.Join(shardsDir, e.Name()))
		}
	}
	sort.Strings(shardPaths)

	total := newAgg()
	for _, p := range shardPaths {
		part := newAgg()
		if err := readAggShard(p, part); err != nil {
			return err
		}
		total.Merge(part)
	}

	return writeFinalAgg(finalOut, total, pretty)
}

func ingestLines(path string, agg Aggregator) error {
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
		v, err := jsonObject(line)
		if err != nil {
			continue
		}
		agg.Ingest(v)
	}
	return sc.Err()
}

func jsonObject(line string) (map[string]any, error) {
	var v map[string]any
	err := aggregateJSON.UnmarshalFromString(line, &v)
	return v, err
}

func writeAggShard(path string, agg Aggregator) error {
	f, err := orch.CreateWithBackoff(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return aggregateJSON.NewEncoder(f).Encode(agg)
}

func readAggShard(path string, into Aggregator) error {
	f, err := orch.OpenWithBackoff(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return aggregateJSON.NewDecoder(f).Decode(into)
}

func writeFinalAgg(path string, agg Aggregator, pretty bool) error {
	f, err := orch.CreateWithBackoff(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := aggregateJSON.NewEncoder(f)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(agg)
}
