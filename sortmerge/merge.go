/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package sortmerge

import (
	"bufio"
	"container/heap"
	"io"
	"os"

	"github.com/caldera-data/retl/internal/metrics"
	"github.com/caldera-data/retl/keyx"
	"github.com/caldera-data/retl/orch"
	"github.com/pkg/errors"
)

// CollapseFunc writes exactly one output record for all lines sharing key,
// chosen and formatted by the caller (e.g. "keep the first", "merge JSON
// objects", "count and emit a total").
type CollapseFunc func(key string, lines []string, w io.Writer) error

// Merge k-way merges runs (assumed individually sorted by key, as BuildRuns
// produces) into output, calling collapse once per distinct key with every
// line that shares it. Two configuration caveats carried from the original
// implementation: zero runs promotes an empty output, and exactly one run is
// promoted verbatim via atomic rename WITHOUT invoking collapse — a run of
// one is assumed already deduplicated/sorted by an upstream single-pass
// writer, so paying for the merge pass would be wasted work. Callers relying
// on collapse's side effects (e.g. counting) must not assume it always runs.
func Merge(runs []string, output string, key keyx.Extractor, cfg Cfg, collapse CollapseFunc) error {
	metrics.ObserveMergeRunCount(len(runs))
	if len(runs) == 0 {
		out, err := orch.CreateWithBackoff(output)
		if err != nil {
			return err
		}
		return out.Close()
	}
	if len(runs) == 1 {
		return orch.ReplaceAtomic(runs[0], output)
	}

	type reader struct {
		f  *os.File
		sc *bufio.Scanner
	}
	readers := make([]*reader, len(runs))
	for i, p := range runs {
		f, err := orch.OpenWithBackoff(p)
		if err != nil {
			return errors.Wrapf(err, "open run %s", p)
		}
		sc := bufio.NewScanner(f)
		sc.Buffer(make([]byte, 0, cfg.ReadBufBytes), 16*1024*1024)
		readers[i] = &reader{f: f, sc: sc}
	}
	defer func() {
		for _, r := range readers {
			r.f.Close()
		}
	}()

	tmp := output + ".inprogress"
	outFile, err := orch.CreateWithBackoff(tmp)
	if err != nil {
		return err
	}
	outBuf := bufio.NewWriterSize(outFile, cfg.WriteBufBytes)

	h := &mergeHeap{}
	heap.Init(h)

	next := func(runIdx int) {
		r := readers[runIdx]
		for r.sc.Scan() {
			line := r.sc.Text()
			if line == "" {
				continue
			}
			if k, ok := key.KeyFromLine(line); ok {
				heap.Push(h, mergeItem{key: k, runIdx: runIdx, line: line})
				return
			}
			metrics.IncLinesSkipped()
		}
	}

	for i := range readers {
		next(i)
	}

	for h.Len() > 0 {
		top := heap.Pop(h).(mergeItem)
		currentKey := top.key
		group := []string{top.line}
		next(top.runIdx)

		for h.Len() > 0 && (*h)[0].key == currentKey {
			item := heap.Pop(h).(mergeItem)
			group = append(group, item.line)
			next(item.runIdx)
		}

		if err := collapse(currentKey, group, outBuf); err != nil {
			outFile.Close()
			return err
		}
	}

	if err := outBuf.Flush(); err != nil {
		outFile.Close()
		return err
	}
	if err := outFile.Close(); err != nil {
		return err
	}
	if err := orch.ReplaceAtomic(tmp, output); err != nil {
		return err
	}
	for _, p := range runs {
		_ = orch.RemoveWithBackoff(p)
	}
	return nil
}

type mergeItem struct {
	key    string
	runIdx int
	line   string
}

// mergeHeap is a min-heap by key, tie-broken by run index so repeated
// merges over identical inputs pop in the same order.
type mergeHeap []mergeItem

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	if h[i].key != h[j].key {
		return h[i].key < h[j].key
	}
	return h[i].runIdx < h[j].runIdx
}
func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x any) { *h = append(*h, x.(mergeItem)) }
func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
