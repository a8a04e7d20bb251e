// Package config holds the engine's user-facing options: corpus location,
// subreddit/date scoping, shard/concurrency tuning, and output formatting.
/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package config

import (
	"path/filepath"
	"strings"

	"github.com/caldera-data/retl/rec"
)

// Sources selects which corpus file families an operation scans.
type Sources int

const (
	SourcesComments Sources = iota
	SourcesSubmissions
	SourcesBoth
)

// Options is the engine's tunable configuration. Zero value is invalid for
// directory fields; use Default() and the With* methods to build one.
type Options struct {
	BaseDir        string
	CommentsDir    string
	SubmissionsDir string

	Subreddit string // normalized lowercase, no "r/"; empty means all
	Sources   Sources
	Start     *rec.YearMonth // inclusive
	End       *rec.YearMonth // inclusive

	ShardCount      int
	WhitelistFields []string
	WorkDir         string // if empty, derived as BaseDir/.retl_work
	FileConcurrency int

	Progress      bool
	ProgressLabel string

	ReadBufferBytes  int
	WriteBufferBytes int

	HumanReadableTimestamps bool

	// Resume skips parent-join outputs that already exist on disk.
	Resume bool
}

// Default mirrors the original's safe-but-fast defaults: a conservative
// file_concurrency of 1 to avoid OOM on wide zstd windows, generous 256KiB
// I/O buffers, and 256 dedup shards.
func Default() Options {
	base := filepath.Join("..", "reddit")
	return Options{
		BaseDir:          base,
		CommentsDir:      filepath.Join(base, "comments"),
		SubmissionsDir:   filepath.Join(base, "submissions"),
		Sources:          SourcesBoth,
		ShardCount:       256,
		FileConcurrency:  1,
		Progress:         true,
		ReadBufferBytes:  256 * 1024,
		WriteBufferBytes: 256 * 1024,
	}
}

func (o Options) WithBaseDir(dir string) Options {
	o.BaseDir = dir
	o.CommentsDir = filepath.Join(dir, "comments")
	o.SubmissionsDir = filepath.Join(dir, "submissions")
	return o
}

func (o Options) WithSubreddit(sub string) Options {
	s := strings.ToLower(strings.TrimSpace(sub))
	o.Subreddit = strings.TrimPrefix(s, "r/")
	return o
}

func (o Options) WithSources(s Sources) Options { o.Sources = s; return o }

func (o Options) WithDateRange(start, end *rec.YearMonth) Options {
	o.Start, o.End = start, end
	return o
}

func (o Options) WithShardCount(n int) Options {
	if n < 1 {
		n = 1
	}
	o.ShardCount = n
	return o
}

func (o Options) WithWhitelistFields(fields []string) Options {
	o.WhitelistFields = fields
	return o
}

func (o Options) WithWorkDir(dir string) Options { o.WorkDir = dir; return o }

func (o Options) WithFileConcurrency(n int) Options {
	if n < 1 {
		n = 1
	}
	o.FileConcurrency = n
	return o
}

func (o Options) WithProgress(yes bool) Options { o.Progress = yes; return o }

func (o Options) WithProgressLabel(label string) Options { o.ProgressLabel = label; return o }

func (o Options) WithIOBuffers(readBytes, writeBytes int) Options {
	if readBytes < 8*1024 {
		readBytes = 8 * 1024
	}
	if writeBytes < 8*1024 {
		writeBytes = 8 * 1024
	}
	o.ReadBufferBytes, o.WriteBufferBytes = readBytes, writeBytes
	return o
}

func (o Options) WithResume(yes bool) Options { o.Resume = yes; return o }

func (o Options) WithHumanTimestamps(yes bool) Options {
	o.HumanReadableTimestamps = yes
	return o
}

// EnsureWorkDir returns the effective work directory: the configured one,
// or BaseDir/.retl_work when unset.
func (o Options) EnsureWorkDir() string {
	if o.WorkDir != "" {
		return o.WorkDir
	}
	return filepath.Join(o.BaseDir, ".retl_work")
}
