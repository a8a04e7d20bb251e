/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package shard

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Writer is a disk-backed sharded key writer: concurrent Write calls route
// to one of n per-shard buffered files, each guarded by its own mutex so
// writers to different shards never contend.
type Writer struct {
	dir    string
	prefix string
	n      int
	seed   Seed
	mu     []sync.Mutex
	files  []*os.File
	bufw   []*bufio.Writer
}

func NewWriter(workDir, prefix string, n int, seed Seed) (*Writer, error) {
	if n <= 0 {
		n = 1
	}
	dir := filepath.Join(workDir, prefix+"_shards")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create shard dir %s", dir)
	}
	w := &Writer{dir: dir, prefix: prefix, n: n, seed: seed}
	w.mu = make([]sync.Mutex, n)
	w.files = make([]*os.File, n)
	w.bufw = make([]*bufio.Writer, n)
	for i := 0; i < n; i++ {
		f, err := os.Create(w.shardPath(i))
		if err != nil {
			return nil, errors.Wrapf(err, "create shard %d", i)
		}
		w.files[i] = f
		w.bufw[i] = bufio.NewWriterSize(f, 64*1024)
	}
	return w, nil
}

func (w *Writer) shardPath(i int) string {
	return filepath.Join(w.dir, fmt.Sprintf("shard_%04d.tmp", i))
}

// Write appends key to its routed shard.
func (w *Writer) Write(key string) error {
	i := Index(key, w.seed, w.n)
	w.mu[i].Lock()
	defer w.mu[i].Unlock()
	if _, err := w.bufw[i].WriteString(key); err != nil {
		return err
	}
	return w.bufw[i].WriteByte('\n')
}

func (w *Writer) flushAll() error {
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

func (w *Writer) closeAll() error {
	for i := 0; i < w.n; i++ {
		if err := w.files[i].Close(); err != nil {
			return err
		}
	}
	return nil
}

// Dedup flushes and closes every shard, deduplicates each independently
// (in parallel), and returns the resulting deduped file paths in shard order.
func (w *Writer) Dedup(prefix string) ([]string, error) {
	if err := w.flushAll(); err != nil {
		return nil, err
	}
	if err := w.closeAll(); err != nil {
		return nil, err
	}

	dedupDir := filepath.Join(filepath.Dir(w.dir), prefix+"_dedup")
	if err := os.MkdirAll(dedupDir, 0o755); err != nil {
		return nil, err
	}

	out := make([]string, w.n)
	var g errgroup.Group
	for i := 0; i < w.n; i++ {
		i := i
		g.Go(func() error {
			in := w.shardPath(i)
			dst := filepath.Join(dedupDir, fmt.Sprintf("shard_%04d.txt", i))
			if err := dedupSingleShard(in, dst); err != nil {
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

func dedupSingleShard(input, output string) error {
	in, err := os.Open(input)
	if err != nil {
		return errors.Wrapf(err, "open shard for dedup: %s", input)
	}
	defer in.Close()
	out, err := os.Create(output)
	if err != nil {
		return errors.Wrapf(err, "create dedup output: %s", output)
	}
	defer out.Close()

	w := bufio.NewWriterSize(out, 64*1024)
	seen := make(map[string]struct{}, 64000)
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		if _, err := w.WriteString(line); err != nil {
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return w.Flush()
}
