/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package shard

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// KVWriter is a disk-backed sharded key->int64 writer used for sum/min
// reductions over large key spaces (e.g. per-author comment counts).
type KVWriter struct {
	dir   string
	n     int
	seed  Seed
	mu    []sync.Mutex
	files []*os.File
	bufw  []*bufio.Writer
}

func NewKVWriter(workDir, prefix string, n int, seed Seed) (*KVWriter, error) {
	if n <= 0 {
		n = 1
	}
	dir := filepath.Join(workDir, prefix+"_kv_shards")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create kv shard dir %s", dir)
	}
	w := &KVWriter{dir: dir, n: n, seed: seed}
	w.mu = make([]sync.Mutex, n)
	w.files = make([]*os.File, n)
	w.bufw = make([]*bufio.Writer, n)
	for i := 0; i < n; i++ {
		f, err := os.Create(w.shardPath(i))
		if err != nil {
			return nil, errors.Wrapf(err, "create kv shard %d", i)
		}
		w.files[i] = f
		w.bufw[i] = bufio.NewWriterSize(f, 64*1024)
	}
	return w, nil
}

func (w *KVWriter) shardPath(i int) string {
	return filepath.Join(w.dir, fmt.Sprintf("kv_%04d.tmp", i))
}

func (w *KVWriter) WriteKV(key string, val int64) error {
	i := Index(key, w.seed, w.n)
	w.mu[i].Lock()
	defer w.mu[i].Unlock()
	_, err := fmt.Fprintf(w.bufw[i], "%s\t%d\n", key, val)
	return err
}

func (w *KVWriter) flushAll() error {
	for i := 0; i < w.n; i++ {
		w.mu[i].Lock()
		err := w.bufw[i].Flush()
		w.mu[i].Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

func (w *KVWriter) closeAll() error {
	for i := 0; i < w.n; i++ {
		if err := w.files[i].Close(); err != nil {
			return err
		}
	}
	return nil
}

type reduceFn func(acc map[string]int64, key string, val int64)

func reduceSum(acc map[string]int64, key string, val int64) { acc[key] += val }

func reduceMin(acc map[string]int64, key string, val int64) {
	if cur, ok := acc[key]; !ok || val < cur {
		acc[key] = val
	}
}

// ReduceSum flushes, closes, and reduces each shard by summing values per
// key, writing one TSV output file per shard.
func (w *KVWriter) ReduceSum(prefix string) ([]string, error) { return w.reduce(prefix, "kv_sum", reduceSum) }

// ReduceMin is ReduceSum's minimum-valued counterpart.
func (w *KVWriter) ReduceMin(prefix string) ([]string, error) { return w.reduce(prefix, "kv_min", reduceMin) }

func (w *KVWriter) reduce(prefix, suffix string, fn reduceFn) ([]string, error) {
	if err := w.flushAll(); err != nil {
		return nil, err
	}
	if err := w.closeAll(); err != nil {
		return nil, err
	}

	outDir := filepath.Join(filepath.Dir(w.dir), prefix+"_"+suffix)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}

	out := make([]string, w.n)
	var g errgroup.Group
	for i := 0; i < w.n; i++ {
		i := i
		g.Go(func() error {
			dst := filepath.Join(outDir, fmt.Sprintf("kv_%04d.tsv", i))
			if err := reduceShard(w.shardPath(i), dst, fn); err != nil {
				return err
			}
			out[i] = dst
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func reduceShard(input, output string, fn reduceFn) error {
	in, err := os.Open(input)
	if err != nil {
		return errors.Wrapf(err, "open %s", input)
	}
	defer in.Close()

	acc := make(map[string]int64, 64000)
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, "\t")
		if !ok {
			continue
		}
		val, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		fn(acc, k, val)
	}
	if err := sc.Err(); err != nil {
		return err
	}

	out, err := os.Create(output)
	if err != nil {
		return err
	}
	defer out.Close()
	w := bufio.NewWriterSize(out, 64*1024)
	for k, v := range acc {
		if _, err := fmt.Fprintf(w, "%s\t%d\n", k, v); err != nil {
			return err
		}
	}
	return w.Flush()
}
