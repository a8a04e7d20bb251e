// Package pipeline wires discovery, filtering, and the export/shard/bucket
// stages into the engine's named end-to-end operations: usernames,
// count-by-month, extract (JSONL/JSON array/spooled/partitioned), author
// counts, first-seen index, and the parent-join.
/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/caldera-data/retl/cmn/cos"
	"github.com/caldera-data/retl/cmn/nlog"
	"github.com/caldera-data/retl/discover"
	"github.com/caldera-data/retl/export"
	"github.com/caldera-data/retl/internal/config"
	"github.com/caldera-data/retl/memsys"
	"github.com/caldera-data/retl/orch"
	"github.com/caldera-data/retl/parentjoin"
	"github.com/caldera-data/retl/query"
	"github.com/caldera-data/retl/rec"
	"github.com/caldera-data/retl/shard"
	"github.com/caldera-data/retl/zstdio"
	"github.com/pkg/errors"
)

// ExportFormat selects the file format export_partitioned writes.
type ExportFormat int

const (
	FormatJSONL ExportFormat = iota
	FormatZstd
)

// Engine runs operations over a fixed set of Options and an optional memory
// watcher. It carries no other state; every method call re-discovers and re-plans files, so Options
// changes (e.g. a narrower date range) between calls take effect immediately.
type Engine struct {
	Opts config.Options
	Mem  *memsys.Watcher
}

func New(opts config.Options) *Engine {
	return &Engine{Opts: opts, Mem: memsys.NewWatcher()}
}

func (e *Engine) ensureWorkDir() (string, error) {
	dir := e.Opts.EnsureWorkDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "create work dir %s", dir)
	}
	return dir, nil
}

func (e *Engine) planFiles() []rec.FileJob {
	d := discover.All(e.Opts.CommentsDir, e.Opts.SubmissionsDir)
	jobs := discover.Plan(d, e.Opts.Sources, e.Opts.Start, e.Opts.End)
	if len(jobs) == 0 {
		nlog.Warningf("no files found matching selection (base_dir=%s)", e.Opts.BaseDir)
	} else {
		nlog.Infof("planned %d files for processing", len(jobs))
	}
	return jobs
}

func (e *Engine) bounds() query.Bounds { return query.BoundsTuple(e.Opts.Start, e.Opts.End) }

// UsernamesSimple streams deduped authors who posted to subreddit, using a
// plain case-insensitive subreddit match (no query.Spec).
func (e *Engine) UsernamesSimple(subreddit string) (*shard.LineStream, error) {
	if subreddit == "" {
		return nil, errors.New("pipeline: subreddit is required")
	}
	workDir, err := e.ensureWorkDir()
	if err != nil {
		return nil, err
	}
	jobs := e.planFiles()

	sw, err := shard.NewWriter(workDir, "usernames", e.Opts.ShardCount, shard.SeedUsernames)
	if err != nil {
		return nil, err
	}

	err = orch.ForEachFileLimited(context.Background(), jobs, e.Opts.FileConcurrency, func(_ context.Context, job rec.FileJob) error {
		return zstdio.ForEachLine(job.Path, zstdio.Options{ReadBufferBytes: e.Opts.ReadBufferBytes, Throttle: true}, e.Mem, func(line string) error {
			min, err := rec.ParseMinimal(line)
			if err != nil {
				return nil
			}
			if !query.MatchesSubredditBasic(min, subreddit) {
				return nil
			}
			a, ok := usernamesFromLine(min)
			if !ok {
				return nil
			}
			return sw.Write(a)
		})
	})
	if err != nil {
		return nil, err
	}

	deduped, err := sw.Dedup("usernames")
	if err != nil {
		return nil, err
	}
	return shard.NewLineStream(deduped), nil
}

// Usernames streams deduped authors matching q.
func (e *Engine) Usernames(q query.Spec) (*shard.LineStream, error) {
	workDir, err := e.ensureWorkDir()
	if err != nil {
		return nil, err
	}
	q = q.Normalize()
	targets := query.ResolveTargetSubs(q.Subreddits, e.Opts.Subreddit)
	jobs := e.planFiles()
	bounds := e.bounds()

	sw, err := shard.NewWriter(workDir, "usernames_q", e.Opts.ShardCount, shard.SeedUsernames)
	if err != nil {
		return nil, err
	}

	err = orch.ForEachFileLimited(context.Background(), jobs, e.Opts.FileConcurrency, func(_ context.Context, job rec.FileJob) error {
		return zstdio.ForEachLine(job.Path, zstdio.Options{ReadBufferBytes: e.Opts.ReadBufferBytes, Throttle: true}, e.Mem, func(line string) error {
			min, err := rec.ParseMinimal(line)
			if err != nil {
				return nil
			}
			if !query.MatchesMinimal(min, targets, q) {
				return nil
			}
			if !query.WithinBounds(min, bounds) {
				return nil
			}
			a, ok := usernamesFromLine(min)
			if !ok {
				return nil
			}
			return sw.Write(a)
		})
	})
	if err != nil {
		return nil, err
	}

	deduped, err := sw.Dedup("usernames_q")
	if err != nil {
		return nil, err
	}
	return shard.NewLineStream(deduped), nil
}

// CountByMonth tallies matching records per calendar month.
func (e *Engine) CountByMonth(q query.Spec) (map[rec.YearMonth]uint64, error) {
	q = q.Normalize()
	targets := query.ResolveTargetSubs(q.Subreddits, e.Opts.Subreddit)
	jobs := e.planFiles()
	bounds := e.bounds()

	total := map[rec.YearMonth]uint64{}
	var mu sync.Mutex
	err := orch.ForEachFileLimited(context.Background(), jobs, e.Opts.FileConcurrency, func(_ context.Context, job rec.FileJob) error {
		part := map[rec.YearMonth]uint64{}
		err := zstdio.ForEachLine(job.Path, zstdio.Options{ReadBufferBytes: e.Opts.ReadBufferBytes, Throttle: true}, e.Mem, func(line string) error {
			min, err := rec.ParseMinimal(line)
			if err != nil {
				return nil
			}
			if !query.MatchesMinimal(min, targets, q) {
				return nil
			}
			if min.CreatedUTC == nil || !query.WithinBounds(min, bounds) {
				return nil
			}
			part[rec.YearMonthFromEpoch(*min.CreatedUTC)]++
			return nil
		})
		if err != nil {
			return err
		}
		mu.Lock()
		for k, v := range part {
			total[k] += v
		}
		mu.Unlock()
		return nil
	})
	return total, err
}

// ExtractToJSONL scans matching records and stitches them, in file-plan
// order, into a single JSONL file.
func (e *Engine) ExtractToJSONL(q query.Spec) (string, error) {
	return e.extractCommon(q, "extract_jsonl_tmp", finalizeJSONL{})
}

// ExtractToJSONArray is ExtractToJSONL's JSON-array counterpart.
func (e *Engine) ExtractToJSONArray(q query.Spec, pretty bool) (string, error) {
	return e.extractCommon(q, "extract_json_tmp", finalizeJSONArray{pretty: pretty})
}

type finalizer interface {
	empty(outPath string, writeBuf int) error
	stitch(tmpDir, outPath string, writeBuf int) error
}

type finalizeJSONL struct{}

func (finalizeJSONL) empty(outPath string, writeBuf int) error {
	f, err := orch.CreateWithBackoff(outPath)
	if err != nil {
		return err
	}
	return f.Close()
}
func (finalizeJSONL) stitch(tmpDir, outPath string, writeBuf int) error {
	return export.StitchParts(tmpDir, outPath, writeBuf)
}

type finalizeJSONArray struct{ pretty bool }

func (f finalizeJSONArray) empty(outPath string, writeBuf int) error {
	file, err := orch.CreateWithBackoff(outPath)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = file.WriteString("[]")
	return err
}
func (f finalizeJSONArray) stitch(tmpDir, outPath string, writeBuf int) error {
	return export.StitchPartsToJSONArray(tmpDir, outPath, f.pretty, writeBuf)
}

func (e *Engine) extractCommon(q query.Spec, tmpDirName string, fin finalizer) (string, error) {
	q = q.Normalize()
	targets := query.ResolveTargetSubs(q.Subreddits, e.Opts.Subreddit)
	jobs := e.planFiles()
	bounds := e.bounds()

	workDir, err := e.ensureWorkDir()
	if err != nil {
		return "", err
	}
	outPath := filepath.Join(workDir, tmpDirName+".out")

	if len(jobs) == 0 {
		return outPath, fin.empty(outPath, e.Opts.WriteBufferBytes)
	}

	tmpDir := filepath.Join(workDir, tmpDirName)
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return "", err
	}

	err = orch.ForEachFileLimited(context.Background(), jobs, e.Opts.FileConcurrency, func(_ context.Context, job rec.FileJob) error {
		tmpFile := filepath.Join(tmpDir, job.TmpPartName())
		w, err := export.CreateJSONLWriter(tmpFile)
		if err != nil {
			return err
		}
		w.Whitelist = e.Opts.WhitelistFields
		w.HumanizeTimestamps = e.Opts.HumanReadableTimestamps
		if _, err := streamJob(job, w, targets, q, e.Opts.WhitelistFields, bounds, e.Opts.HumanReadableTimestamps, e.Opts.ReadBufferBytes, e.Mem); err != nil {
			w.Close()
			return err
		}
		return w.Close()
	})
	if err != nil {
		return "", err
	}

	if err := fin.stitch(tmpDir, outPath, e.Opts.WriteBufferBytes); err != nil {
		return "", err
	}
	return outPath, nil
}

// ExtractSpoolMonthly writes one output file per (kind, month), named
// part_RC_YYYY-MM.jsonl / part_RS_YYYY-MM.jsonl, for later parent-join and
// aggregation stages.
func (e *Engine) ExtractSpoolMonthly(q query.Spec, outDir string) ([]string, uint64, error) {
	q = q.Normalize()
	targets := query.ResolveTargetSubs(q.Subreddits, e.Opts.Subreddit)
	jobs := e.planFiles()
	bounds := e.bounds()

	if len(jobs) == 0 {
		return nil, 0, nil
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, 0, err
	}

	var total uint64
	var mu sync.Mutex
	var parts []string
	var skipped cos.Errs

	err := orch.ForEachFileLimited(context.Background(), jobs, e.Opts.FileConcurrency, func(_ context.Context, job rec.FileJob) error {
		prefix := "part_RC"
		if job.Kind == rec.Submission {
			prefix = "part_RS"
		}
		outPath := filepath.Join(outDir, fmt.Sprintf("%s_%s.jsonl", prefix, job.YM))

		w, err := export.CreateJSONLWriter(outPath)
		if err != nil {
			skipped.Add(errors.Wrapf(err, "month %s", job.YM))
			return nil
		}
		w.Whitelist = e.Opts.WhitelistFields
		w.HumanizeTimestamps = e.Opts.HumanReadableTimestamps

		n, err := streamJob(job, w, targets, q, e.Opts.WhitelistFields, bounds, e.Opts.HumanReadableTimestamps, e.Opts.ReadBufferBytes, e.Mem)
		if err != nil {
			w.Close()
			return err
		}
		if err := w.Close(); err != nil {
			return err
		}

		mu.Lock()
		total += n
		parts = append(parts, outPath)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	if n, err := skipped.JoinErr(); n > 0 {
		nlog.Warningf("spool: skipped %d month(s): %v", n, err)
	}
	sort.Strings(parts)
	return parts, total, nil
}

// ExportPartitioned re-exports the corpus as per-month JSONL or zstd files
// under outBaseDir/{comments,submissions}, filtered by q.
func (e *Engine) ExportPartitioned(q query.Spec, outBaseDir string, format ExportFormat) error {
	q = q.Normalize()
	targets := query.ResolveTargetSubs(q.Subreddits, e.Opts.Subreddit)
	jobs := e.planFiles()
	bounds := e.bounds()

	commentsDir := filepath.Join(outBaseDir, "comments")
	submissionsDir := filepath.Join(outBaseDir, "submissions")
	if err := os.MkdirAll(commentsDir, 0o755); err != nil {
		return err
	}
	if err := os.MkdirAll(submissionsDir, 0o755); err != nil {
		return err
	}

	return orch.ForEachFileLimited(context.Background(), jobs, e.Opts.FileConcurrency, func(_ context.Context, job rec.FileJob) error {
		prefix, dir := "RC", commentsDir
		if job.Kind == rec.Submission {
			prefix, dir = "RS", submissionsDir
		}

		var w recordWriter
		var outPath string
		var closeFn func() error
		switch format {
		case FormatZstd:
			outPath = filepath.Join(dir, fmt.Sprintf("%s_%s.zst", prefix, job.YM))
			zw, err := export.CreateZstdJSONLWriter(outPath)
			if err != nil {
				return errors.Wrapf(err, "create %s", outPath)
			}
			w, closeFn = zw, zw.Close
		default:
			outPath = filepath.Join(dir, fmt.Sprintf("%s_%s.jsonl", prefix, job.YM))
			jw, err := export.CreateJSONLWriter(outPath)
			if err != nil {
				return errors.Wrapf(err, "create %s", outPath)
			}
			jw.Whitelist = e.Opts.WhitelistFields
			jw.HumanizeTimestamps = e.Opts.HumanReadableTimestamps
			w, closeFn = jw, jw.Close
		}

		n, err := streamJob(job, w, targets, q, e.Opts.WhitelistFields, bounds, e.Opts.HumanReadableTimestamps, e.Opts.ReadBufferBytes, e.Mem)
		if err != nil {
			closeFn()
			return err
		}
		if err := closeFn(); err != nil {
			return err
		}
		if n == 0 {
			_ = os.Remove(outPath)
		}
		return nil
	})
}

// AuthorCountsToTSV writes "author\tcount" rows for every author matching q.
func (e *Engine) AuthorCountsToTSV(q query.Spec, outPath string) error {
	return e.reduceKV(q, outPath, "author_counts", func(kv *shard.KVWriter, min rec.Minimal) error {
		if min.Author == nil {
			return nil
		}
		a := strings.TrimSpace(*min.Author)
		if a == "" {
			return nil
		}
		return kv.WriteKV(a, 1)
	}, func(kv *shard.KVWriter, prefix string) ([]string, error) { return kv.ReduceSum(prefix) })
}

// FirstSeenIndexToTSV writes "author\tearliest_created_utc" rows.
func (e *Engine) FirstSeenIndexToTSV(q query.Spec, outPath string) error {
	return e.reduceKV(q, outPath, "first_seen", func(kv *shard.KVWriter, min rec.Minimal) error {
		if min.Author == nil || min.CreatedUTC == nil {
			return nil
		}
		a := strings.TrimSpace(*min.Author)
		if a == "" {
			return nil
		}
		return kv.WriteKV(a, *min.CreatedUTC)
	}, func(kv *shard.KVWriter, prefix string) ([]string, error) { return kv.ReduceMin(prefix) })
}

func (e *Engine) reduceKV(q query.Spec, outPath, prefix string, ingest func(*shard.KVWriter, rec.Minimal) error, reduce func(*shard.KVWriter, string) ([]string, error)) error {
	q = q.Normalize()
	targets := query.ResolveTargetSubs(q.Subreddits, e.Opts.Subreddit)
	jobs := e.planFiles()
	bounds := e.bounds()

	workDir, err := e.ensureWorkDir()
	if err != nil {
		return err
	}
	kv, err := shard.NewKVWriter(workDir, prefix, e.Opts.ShardCount, shard.SeedKV)
	if err != nil {
		return err
	}

	err = orch.ForEachFileLimited(context.Background(), jobs, e.Opts.FileConcurrency, func(_ context.Context, job rec.FileJob) error {
		return zstdio.ForEachLine(job.Path, zstdio.Options{ReadBufferBytes: e.Opts.ReadBufferBytes, Throttle: true}, e.Mem, func(line string) error {
			min, err := rec.ParseMinimal(line)
			if err != nil {
				return nil
			}
			if !query.MatchesMinimal(min, targets, q) {
				return nil
			}
			if !query.WithinBounds(min, bounds) {
				return nil
			}
			return ingest(kv, min)
		})
	})
	if err != nil {
		return err
	}

	shards, err := reduce(kv, prefix)
	if err != nil {
		return err
	}
	return export.ConcatTSVs(shards, outPath, e.Opts.WriteBufferBytes)
}

// ParentJoinResult names the outputs of a full spool -> collect -> resolve ->
// attach pipeline.
type ParentJoinResult struct {
	CommentPartsWithParent []string
	SubmissionParts        []string
	RecordsWritten         uint64
}

// ParentJoin spools matching records monthly, collects parent-id references
// from the comment spool, resolves parent payloads from the full corpus, and
// attaches a "parent" object to each spooled comment.
// A configured WhitelistFields must include parent_id, link_id, and id for
// ParentJoin to find anything to join — spooling projects records before
// collection ever sees them.
func (e *Engine) ParentJoin(q query.Spec, outDir string) (*ParentJoinResult, error) {
	workDir, err := e.ensureWorkDir()
	if err != nil {
		return nil, err
	}

	parts, n, err := e.ExtractSpoolMonthly(q, filepath.Join(outDir, "spool"))
	if err != nil {
		return nil, err
	}

	var commentParts, submissionParts []string
	for _, p := range parts {
		if strings.HasPrefix(filepath.Base(p), "part_RC") {
			commentParts = append(commentParts, p)
		} else {
			submissionParts = append(submissionParts, p)
		}
	}

	ids, err := parentjoin.CollectIDs(commentParts, workDir, e.Opts.FileConcurrency)
	if err != nil {
		return nil, err
	}

	allJobs := e.planFiles()
	cacheCap := parentjoin.CacheCapForFree(e.Mem.AvailableFraction())
	idx, err := parentjoin.ResolvePayloads(context.Background(), allJobs, ids, filepath.Join(workDir, "parent_shards"), e.Opts.FileConcurrency, cacheCap, e.Opts.Resume, e.Mem)
	if err != nil {
		return nil, err
	}
	defer idx.Close()

	attached, err := parentjoin.Attach(context.Background(), commentParts, filepath.Join(outDir, "attached"), idx, e.Opts.FileConcurrency, e.Opts.Resume)
	if err != nil {
		return nil, err
	}

	return &ParentJoinResult{
		CommentPartsWithParent: attached,
		SubmissionParts:        submissionParts,
		RecordsWritten:         n,
	}, nil
}
