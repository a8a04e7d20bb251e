// Package discover finds monthly corpus files on disk and plans the
// ordered, bounds-clamped file list an operation should scan.
/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package discover

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/caldera-data/retl/internal/config"
	"github.com/caldera-data/retl/rec"
)

var (
	commentFileRe    = regexp.MustCompile(`^RC_(\d{4})-(\d{2})\.zst$`)
	submissionFileRe = regexp.MustCompile(`^RS_(\d{4})-(\d{2})\.zst$`)
)

// Discovered holds every monthly file found under a comments/submissions
// directory pair, keyed by YearMonth so callers can clamp to what actually
// exists on disk.
type Discovered struct {
	Comments    map[rec.YearMonth]string
	Submissions map[rec.YearMonth]string
}

func discoverMonthMap(dir string, re *regexp.Regexp) map[rec.YearMonth]string {
	out := map[rec.YearMonth]string{}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return out
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := re.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		ym, err := rec.ParseYearMonth(m[1] + "-" + m[2])
		if err != nil {
			continue
		}
		out[ym] = filepath.Join(dir, e.Name())
	}
	return out
}

// All scans both directories for RC_YYYY-MM.zst / RS_YYYY-MM.zst files. A
// nonexistent directory yields an empty map for that source rather than an
// error, mirroring the original's tolerant discovery.
func All(commentsDir, submissionsDir string) Discovered {
	return Discovered{
		Comments:    discoverMonthMap(commentsDir, commentFileRe),
		Submissions: discoverMonthMap(submissionsDir, submissionFileRe),
	}
}

func sortedKeys(m map[rec.YearMonth]string) []rec.YearMonth {
	keys := make([]rec.YearMonth, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// Plan builds the ordered FileJob list for sources within [start, end]. A
// nil bound on one or both sides defaults to the discovered min/max for that
// source, so an unbounded request still terminates. Months requested but
// absent on disk are silently skipped, not an error — a run spanning years
// before the corpus began is not a misconfiguration.
func Plan(d Discovered, sources config.Sources, start, end *rec.YearMonth) []rec.FileJob {
	var jobs []rec.FileJob

	push := func(kind rec.Kind, m map[rec.YearMonth]string) {
		if len(m) == 0 {
			return
		}
		keys := sortedKeys(m)
		lo, hi := keys[0], keys[len(keys)-1]
		if start != nil {
			lo = *start
		}
		if end != nil {
			hi = *end
		}
		rec.IterYearMonths(lo, hi, func(ym rec.YearMonth) bool {
			if p, ok := m[ym]; ok {
				jobs = append(jobs, rec.FileJob{Kind: kind, YM: ym, Path: p})
			}
			return true
		})
	}

	switch sources {
	case config.SourcesComments:
		push(rec.Comment, d.Comments)
	case config.SourcesSubmissions:
		push(rec.Submission, d.Submissions)
	default:
		push(rec.Comment, d.Comments)
		push(rec.Submission, d.Submissions)
	}
	return jobs
}
