/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package shard

import (
	"bufio"
	"os"
	"sort"
)

// LineStream yields every line across a sorted set of deduped shard files,
// one file at a time. Used by operations (e.g. usernames()) that want a
// single ordered stream over all shards without loading them into memory at
// once.
type LineStream struct {
	files   []string
	idx     int
	f       *os.File
	sc      *bufio.Scanner
	lastErr error
}

// NewLineStream sorts files for determinism and prepares to stream them.
func NewLineStream(files []string) *LineStream {
	sorted := append([]string(nil), files...)
	sort.Strings(sorted)
	return &LineStream{files: sorted}
}

// Next returns the next non-empty line and true, or "", false at end of
// stream (or on an unrecoverable read error, in which case Err reports it).
func (s *LineStream) Next() (string, bool) {
	for {
		if s.sc == nil {
			if !s.openNext() {
				return "", false
			}
		}
		if s.sc.Scan() {
			line := s.sc.Text()
			if line == "" {
				continue
			}
			return line, true
		}
		if err := s.sc.Err(); err != nil {
			s.lastErr = err
		}
		s.closeCurrent()
	}
}

func (s *LineStream) openNext() bool {
	for s.idx < len(s.files) {
		path := s.files[s.idx]
		s.idx++
		f, err := os.Open(path)
		if err != nil {
			s.lastErr = err
			continue
		}
		s.f = f
		s.sc = bufio.NewScanner(f)
		s.sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		return true
	}
	return false
}

func (s *LineStream) closeCurrent() {
	if s.f != nil {
		s.f.Close()
	}
	s.f, s.sc = nil, nil
}

func (s *LineStream) Err() error { return s.lastErr }

// Close releases the current file handle, if any.
func (s *LineStream) Close() error {
	if s.f != nil {
		return s.f.Close()
	}
	return nil
}
