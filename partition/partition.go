// Package partition implements the stable user-keyed partition sink: every
// call for the same user lands in the same partition file, written through a
// staging directory and promoted atomically on Finalize.
/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package partition

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/caldera-data/retl/orch"
	"github.com/caldera-data/retl/shard"
	"github.com/pkg/errors"
)

// Sink routes writes keyed by user into a fixed number of partition files.
// The caller supplies the bytes via WriteWith's closure and is responsible
// for terminating each record with its own line break.
type Sink struct {
	dir        string
	stem       string
	tmpPaths   []string
	finalPaths []string
	files      []*os.File
	bufs       []*bufio.Writer
	locks      []sync.Mutex
	closed     bool
}

// New creates parts writers under dir with the given file stem. Writes go
// into a _staging subdirectory and are promoted to final files only on
// Finalize.
func New(dir, stem string, parts, writeBuf int) (*Sink, error) {
	if parts <= 0 {
		parts = 1
	}
	staging := filepath.Join(dir, "_staging")
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create %s", staging)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create %s", dir)
	}

	s := &Sink{
		dir:        dir,
		stem:       stem,
		tmpPaths:   make([]string, parts),
		finalPaths: make([]string, parts),
		files:      make([]*os.File, parts),
		bufs:       make([]*bufio.Writer, parts),
		locks:      make([]sync.Mutex, parts),
	}
	for i := 0; i < parts; i++ {
		tmp := filepath.Join(staging, fmt.Sprintf("%s_part_%04d.inprogress", stem, i))
		final := filepath.Join(dir, fmt.Sprintf("%s_part_%04d.ndjson", stem, i))
		f, err := orch.CreateWithBackoff(tmp)
		if err != nil {
			return nil, errors.Wrapf(err, "create %s", tmp)
		}
		s.tmpPaths[i] = tmp
		s.finalPaths[i] = final
		s.files[i] = f
		s.bufs[i] = bufio.NewWriterSize(f, writeBuf)
	}
	return s, nil
}

func (s *Sink) shardIndex(user string) int {
	return shard.Index(user, shard.SeedPartition, len(s.files))
}

// WriteWith routes user to its stable partition and calls f with that
// partition's writer, holding the partition's lock for the duration.
func (s *Sink) WriteWith(user string, f func(w io.Writer) error) error {
	idx := s.shardIndex(user)
	s.locks[idx].Lock()
	defer s.locks[idx].Unlock()
	return f(s.bufs[idx])
}

// FlushAll flushes every partition's buffered writer without closing it.
func (s *Sink) FlushAll() error {
	for i := range s.bufs {
		s.locks[i].Lock()
		err := s.bufs[i].Flush()
		s.locks[i].Unlock()
		if err != nil {
			return errors.Wrapf(err, "flush partition %d", i)
		}
	}
	return nil
}

// Finalize flushes, closes, and atomically promotes every staged partition
// file to its final path, returning the final paths in stable order.
func (s *Sink) Finalize() ([]string, error) {
	if err := s.FlushAll(); err != nil {
		return nil, err
	}
	for i, f := range s.files {
		if err := f.Close(); err != nil {
			return nil, errors.Wrapf(err, "close partition %d", i)
		}
	}
	s.closed = true

	for i, tmp := range s.tmpPaths {
		if err := orch.ReplaceAtomic(tmp, s.finalPaths[i]); err != nil {
			return nil, errors.Wrapf(err, "promote partition %d", i)
		}
	}
	return append([]string(nil), s.finalPaths...), nil
}

// Abort closes and removes every staged file without promoting them, for
// callers that bail out before Finalize.
func (s *Sink) Abort() {
	if s.closed {
		return
	}
	for _, f := range s.files {
		f.Close()
	}
	s.closed = true
	for _, tmp := range s.tmpPaths {
		orch.RemoveWithBackoff(tmp)
	}
}
