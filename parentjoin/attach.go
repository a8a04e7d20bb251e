/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package parentjoin

import (
	"bufio"
	"container/list"
	"context"
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/caldera-data/retl/orch"
	"github.com/caldera-data/retl/rec"
)

var attachJSON = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	commentShardCacheCap    = 8
	submissionShardCacheCap = 6
)

// shardLRU is a small fixed-capacity LRU of decoded JSON shard files, used
// so attaching parents to a stream of comments doesn't re-decode the same
// shard file for every line that references it.
type shardLRU struct {
	cap   int
	order *list.List
	elems map[string]*list.Element
}

type lruEntry struct {
	path string
	data map[string]jsoniter.RawMessage
}

func newShardLRU(cap int) *shardLRU {
	return &shardLRU{cap: cap, order: list.New(), elems: map[string]*list.Element{}}
}

func (l *shardLRU) get(path string) (map[string]jsoniter.RawMessage, error) {
	if el, ok := l.elems[path]; ok {
		l.order.MoveToBack(el)
		return el.Value.(*lruEntry).data, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m map[string]jsoniter.RawMessage
	if err := attachJSON.Unmarshal(b, &m); err != nil {
		return nil, errors.Wrapf(err, "decode shard %s", path)
	}
	if l.order.Len() >= l.cap {
		if front := l.order.Front(); front != nil {
			old := front.Value.(*lruEntry)
			delete(l.elems, old.path)
			l.order.Remove(front)
		}
	}
	el := l.order.PushBack(&lruEntry{path: path, data: m})
	l.elems[path] = el
	return m, nil
}

// Attach reads every input jsonl file and, for each comment record (one with
// both "body" and "parent_id"), injects a "parent" object describing the
// parent comment or submission. A comment whose parent wasn't resolved (or
// whose parent_id has no t1_/t3_ prefix) still gets an empty "parent"
// object, so downstream consumers can distinguish "not a comment" from
// "parent not found". Records that aren't comments pass through unchanged.
// With resume, an input whose output file already exists is skipped.
func Attach(ctx context.Context, inputs []string, outDir string, idx *ParentIndex, fileConcurrency int, resume bool) ([]string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}
	jobs := make([]rec.FileJob, len(inputs))
	for i, p := range inputs {
		jobs[i] = rec.FileJob{Path: p}
	}

	outPaths := make([]string, len(inputs))
	err := orch.ForEachFileLimited(ctx, jobs, fileConcurrency, func(_ context.Context, job rec.FileJob) error {
		i := indexOf(inputs, job.Path)
		out := filepath.Join(outDir, filepath.Base(job.Path))
		outPaths[i] = out
		if resume {
			if _, err := os.Stat(out); err == nil {
				return nil
			}
		}
		return attachOneFile(job.Path, out, idx)
	})
	if err != nil {
		return nil, err
	}
	return outPaths, nil
}

func indexOf(paths []string, p string) int {
	for i, x := range paths {
		if x == p {
			return i
		}
	}
	return -1
}

func attachOneFile(inPath, outPath string, idx *ParentIndex) error {
	in, err := orch.OpenWithBackoff(inPath)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := orch.CreateWithBackoff(outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	w := bufio.NewWriterSize(out, 256*1024)
	defer w.Flush()

	commentCache := newShardLRU(commentShardCacheCap)
	submissionCache := newShardLRU(submissionShardCacheCap)

	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		v, err := rec.ParseFull(line)
		if err != nil {
			continue
		}
		attachParent(v, idx, commentCache, submissionCache)

		b, err := attachJSON.Marshal(v)
		if err != nil {
			continue
		}
		if _, err := w.Write(b); err != nil {
			return err
		}
		if _, err := w.WriteString("\n"); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return w.Flush()
}

func attachParent(v map[string]any, idx *ParentIndex, commentCache, submissionCache *shardLRU) {
	_, hasBody := v["body"]
	parentID, hasParent := v["parent_id"].(string)
	if !hasBody || !hasParent {
		return
	}

	parentObj := map[string]any{}
	switch {
	case strings.HasPrefix(parentID, "t1_"):
		rest := strings.TrimPrefix(parentID, "t1_")
		if body, ok := idx.eagerComment(rest); ok {
			parentObj["kind"] = "comment"
			parentObj["id"] = rest
			parentObj["body"] = body
		} else if path, ok := idx.commentShardFor(rest); ok {
			shard, err := commentCache.get(path)
			if err == nil {
				if raw, ok := shard[rest]; ok {
					var body string
					if attachJSON.Unmarshal(raw, &body) == nil {
						parentObj["kind"] = "comment"
						parentObj["id"] = rest
						parentObj["body"] = body
					}
				}
			}
		}
	case strings.HasPrefix(parentID, "t3_"):
		rest := strings.TrimPrefix(parentID, "t3_")
		if payload, ok := idx.eagerSubmission(rest); ok {
			parentObj["kind"] = "submission"
			parentObj["id"] = rest
			parentObj["title"] = payload.Title
			parentObj["selftext"] = payload.Selftext
		} else if path, ok := idx.submissionShardFor(rest); ok {
			shard, err := submissionCache.get(path)
			if err == nil {
				if raw, ok := shard[rest]; ok {
					var payload submissionPayload
					if attachJSON.Unmarshal(raw, &payload) == nil {
						parentObj["kind"] = "submission"
						parentObj["id"] = rest
						parentObj["title"] = payload.Title
						parentObj["selftext"] = payload.Selftext
					}
				}
			}
		}
	}

	// always attached, even when empty: a comment with an unresolvable
	// parent (or an unrecognized parent_id prefix) still carries the key
	v["parent"] = parentObj
}
