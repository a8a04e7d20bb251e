/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package parentjoin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/tidwall/buntdb"

	"github.com/caldera-data/retl/cmn/nlog"
	"github.com/caldera-data/retl/memsys"
	"github.com/caldera-data/retl/orch"
	"github.com/caldera-data/retl/rec"
	"github.com/caldera-data/retl/zstdio"
)

var resolveJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// eagerLoadFrac is the free-memory fraction above which the whole payload
// cache is pulled into memory after resolution. Stricter than the 0.10
// low-memory threshold used elsewhere: eager loading is an all-or-nothing
// commitment sized by the corpus, not a short-lived buffer.
const eagerLoadFrac = 0.50

// submissionPayload mirrors a resolved submission's (title, selftext) pair.
type submissionPayload struct {
	Title    string `json:"title"`
	Selftext string `json:"selftext"`
}

// ParentIndex maps every resolved parent id to the shard file holding its
// payload. The index itself lives in an embedded buntdb database file under
// the cache directory; buntdb keeps its keys in process memory and persists
// them to that file. When memory allows, an eager in-memory copy of all
// payloads short-circuits the per-shard reads entirely.
type ParentIndex struct {
	CommentsDir    string
	SubmissionsDir string
	commentsDB     *buntdb.DB
	submissionsDB  *buntdb.DB

	eagerC map[string]string
	eagerS map[string]submissionPayload
}

// Close releases the index's backing databases.
func (p *ParentIndex) Close() error {
	var errs []error
	if p.commentsDB != nil {
		if err := p.commentsDB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if p.submissionsDB != nil {
		if err := p.submissionsDB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

func (p *ParentIndex) commentShardFor(id string) (string, bool) {
	return lookup(p.commentsDB, id)
}

func (p *ParentIndex) submissionShardFor(id string) (string, bool) {
	return lookup(p.submissionsDB, id)
}

func (p *ParentIndex) eagerComment(id string) (string, bool) {
	if p.eagerC == nil {
		return "", false
	}
	body, ok := p.eagerC[id]
	return body, ok
}

func (p *ParentIndex) eagerSubmission(id string) (submissionPayload, bool) {
	if p.eagerS == nil {
		return submissionPayload{}, false
	}
	payload, ok := p.eagerS[id]
	return payload, ok
}

func lookup(db *buntdb.DB, key string) (string, bool) {
	if db == nil {
		return "", false
	}
	var val string
	err := db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(key)
		if err != nil {
			return err
		}
		val = v
		return nil
	})
	return val, err == nil
}

// ResolvePayloads scans every comment/submission file, checks each record's
// id against the collected parent-id shards, and writes the matched records'
// payloads (comment body; submission title+selftext) into small per-month
// JSON shard files, indexed by id -> shard path in an embedded database.
// cacheCap bounds how many id-shard cuckoo filters each worker keeps
// resident; pass parentjoin.CacheCapForFree(mem.AvailableFraction()). With
// resume, a month whose shard file already exists is re-indexed from that
// file instead of re-scanned. After all months resolve, the whole cache is
// loaded into memory when free memory allows.
func ResolvePayloads(ctx context.Context, jobs []rec.FileJob, ids *IDShards, cacheDir string, fileConcurrency, cacheCap int, resume bool, mem *memsys.Watcher) (*ParentIndex, error) {
	commentsOut := filepath.Join(cacheDir, "comments")
	submissionsOut := filepath.Join(cacheDir, "submissions")
	if err := os.MkdirAll(commentsOut, 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(submissionsOut, 0o755); err != nil {
		return nil, err
	}

	commentsDB, err := buntdb.Open(filepath.Join(cacheDir, "comments_index.db"))
	if err != nil {
		return nil, errors.Wrap(err, "open comments index")
	}
	submissionsDB, err := buntdb.Open(filepath.Join(cacheDir, "submissions_index.db"))
	if err != nil {
		return nil, errors.Wrap(err, "open submissions index")
	}
	idx := &ParentIndex{CommentsDir: commentsOut, SubmissionsDir: submissionsOut, commentsDB: commentsDB, submissionsDB: submissionsDB}

	if len(jobs) == 0 {
		return idx, nil
	}

	err = orch.ForEachFileLimited(ctx, jobs, fileConcurrency, func(_ context.Context, job rec.FileJob) error {
		return resolveOneFile(job, ids, idx, cacheCap, resume, mem)
	})
	if err != nil {
		idx.Close()
		return nil, err
	}

	if mem != nil && mem.AvailableFraction() > eagerLoadFrac {
		if err := idx.loadEager(); err != nil {
			nlog.Warningf("eager parent-cache load failed, falling back to shard reads: %v", err)
			idx.eagerC, idx.eagerS = nil, nil
		}
	}
	return idx, nil
}

func resolveOneFile(job rec.FileJob, ids *IDShards, idx *ParentIndex, cacheCap int, resume bool, mem *memsys.Watcher) error {
	var outPath string
	switch job.Kind {
	case rec.Comment:
		outPath = filepath.Join(idx.CommentsDir, fmt.Sprintf("RC_%s.json", job.YM))
	case rec.Submission:
		outPath = filepath.Join(idx.SubmissionsDir, fmt.Sprintf("RS_%s.json", job.YM))
	}

	if resume {
		if _, err := os.Stat(outPath); err == nil {
			return reindexExisting(job.Kind, outPath, idx)
		}
	}

	t1 := ids.T1Cache(cacheCap)
	t3 := ids.T3Cache(cacheCap)

	outMapC := map[string]string{}
	outMapS := map[string]submissionPayload{}

	onLine := func(line string) error {
		m, err := rec.ParseMinimal(line)
		if err != nil || m.ID == nil {
			return nil
		}
		switch job.Kind {
		case rec.Comment:
			ok, err := t1.Contains(*m.ID)
			if err != nil {
				return err
			}
			if ok && m.Body != nil {
				outMapC[*m.ID] = *m.Body
			}
		case rec.Submission:
			ok, err := t3.Contains(*m.ID)
			if err != nil {
				return err
			}
			if ok {
				title, selftext := "", ""
				if m.Title != nil {
					title = *m.Title
				}
				if m.Selftext != nil {
					selftext = *m.Selftext
				}
				outMapS[*m.ID] = submissionPayload{Title: title, Selftext: selftext}
			}
		}
		return nil
	}

	if err := zstdio.ForEachLine(job.Path, zstdio.Options{}, mem, onLine); err != nil {
		return err
	}

	switch job.Kind {
	case rec.Comment:
		if len(outMapC) == 0 {
			return nil
		}
		if err := writeJSONShard(outPath, outMapC); err != nil {
			return err
		}
		return indexIDs(idx.commentsDB, keysOf(outMapC), outPath)
	case rec.Submission:
		if len(outMapS) == 0 {
			return nil
		}
		if err := writeJSONShard(outPath, outMapS); err != nil {
			return err
		}
		return indexIDs(idx.submissionsDB, keysOfPayload(outMapS), outPath)
	}
	return nil
}

// reindexExisting points the id index at a shard file left by a previous
// run without re-scanning the month it came from.
func reindexExisting(kind rec.Kind, path string, idx *ParentIndex) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch kind {
	case rec.Comment:
		var m map[string]string
		if err := resolveJSON.Unmarshal(b, &m); err != nil {
			return errors.Wrapf(err, "decode shard %s", path)
		}
		return indexIDs(idx.commentsDB, keysOf(m), path)
	case rec.Submission:
		var m map[string]submissionPayload
		if err := resolveJSON.Unmarshal(b, &m); err != nil {
			return errors.Wrapf(err, "decode shard %s", path)
		}
		return indexIDs(idx.submissionsDB, keysOfPayload(m), path)
	}
	return nil
}

// loadEager pulls every written payload shard into two in-memory maps.
func (p *ParentIndex) loadEager() error {
	eagerC := map[string]string{}
	eagerS := map[string]submissionPayload{}

	centries, err := os.ReadDir(p.CommentsDir)
	if err != nil {
		return err
	}
	for _, e := range centries {
		if e.IsDir() {
			continue
		}
		b, err := os.ReadFile(filepath.Join(p.CommentsDir, e.Name()))
		if err != nil {
			return err
		}
		var m map[string]string
		if err := resolveJSON.Unmarshal(b, &m); err != nil {
			return errors.Wrapf(err, "decode shard %s", e.Name())
		}
		for k, v := range m {
			eagerC[k] = v
		}
	}

	sentries, err := os.ReadDir(p.SubmissionsDir)
	if err != nil {
		return err
	}
	for _, e := range sentries {
		if e.IsDir() {
			continue
		}
		b, err := os.ReadFile(filepath.Join(p.SubmissionsDir, e.Name()))
		if err != nil {
			return err
		}
		var m map[string]submissionPayload
		if err := resolveJSON.Unmarshal(b, &m); err != nil {
			return errors.Wrapf(err, "decode shard %s", e.Name())
		}
		for k, v := range m {
			eagerS[k] = v
		}
	}

	p.eagerC, p.eagerS = eagerC, eagerS
	return nil
}

func writeJSONShard(path string, v any) error {
	f, err := orch.CreateWithBackoff(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := resolveJSON.NewEncoder(f)
	return enc.Encode(v)
}

func indexIDs(db *buntdb.DB, ids []string, path string) error {
	return db.Update(func(tx *buntdb.Tx) error {
		for _, id := range ids {
			if _, _, err := tx.Set(id, path, nil); err != nil {
				return err
			}
		}
		return nil
	})
}

func keysOf(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func keysOfPayload(m map[string]submissionPayload) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
