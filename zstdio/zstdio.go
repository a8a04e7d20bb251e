// Package zstdio streams newline-delimited JSON out of zstd-compressed
// monthly corpus files, tolerating trailing corruption by logging and
// skipping rather than aborting the run.
/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package zstdio

import (
	"bufio"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/caldera-data/retl/cmn/nlog"
	"github.com/caldera-data/retl/internal/metrics"
	"github.com/caldera-data/retl/memsys"
	"github.com/caldera-data/retl/orch"
	"github.com/klauspost/compress/zstd"
)

const (
	defaultReadBuf = 16 * 1024
	windowLogMax   = 31
	lowMemThrottle = 0.10
)

// Options tunes a single streaming pass.
type Options struct {
	ReadBufferBytes int  // BufReader-equivalent capacity; 0 uses defaultReadBuf
	Throttle        bool // sleep briefly under memory pressure between lines
}

// ForEachLine decompresses path and calls onLine for every JSON line, with
// trailing \r\n stripped. Decode errors (most often trailing corruption) are
// logged and treated as end-of-file for this call: the file is skipped, the
// pipeline keeps going.
func ForEachLine(path string, opts Options, mem *memsys.Watcher, onLine func(line string) error) error {
	return ForEachLineProgress(path, opts, mem, nil, onLine)
}

// ForEachLineProgress is ForEachLine plus a byte-progress callback invoked
// with the number of *compressed* bytes consumed since the last call. On a
// decode error the remaining file size is flushed to onProgress so overall
// progress still reaches 100% for a skipped file.
func ForEachLineProgress(path string, opts Options, mem *memsys.Watcher, onProgress func(uint64), onLine func(line string) error) error {
	reported, err := forEachLineAttempt(path, opts, mem, onProgress, onLine)
	if err == nil {
		return nil
	}
	var cbErr *callbackError
	if errors.As(err, &cbErr) {
		// the caller's own failure, not input corruption — propagate
		return cbErr.err
	}
	metrics.IncFilesSkipped()
	warnDecodeSkip(path, err)
	if onProgress != nil {
		if fi, serr := os.Stat(path); serr == nil && uint64(fi.Size()) > reported {
			onProgress(uint64(fi.Size()) - reported)
		}
	}
	return nil
}

// callbackError marks an error returned by the caller's onLine so it isn't
// mistaken for input corruption and silently skipped.
type callbackError struct{ err error }

func (e *callbackError) Error() string { return e.err.Error() }

type countingReader struct {
	inner   io.Reader
	counter *uint64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.inner.Read(p)
	if n > 0 {
		atomic.AddUint64(c.counter, uint64(n))
	}
	return n, err
}

// forEachLineAttempt returns how many compressed bytes it reported to
// onProgress, so a decode-error skip can flush exactly the remainder.
func forEachLineAttempt(path string, opts Options, mem *memsys.Watcher, onProgress func(uint64), onLine func(string) error) (uint64, error) {
	f, err := orch.OpenWithBackoff(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var counter uint64
	src := &countingReader{inner: f, counter: &counter}

	dec, err := zstd.NewReader(src, zstd.WithDecoderMaxWindow(1<<windowLogMax))
	if err != nil {
		return 0, err
	}
	defer dec.Close()

	bufSize := opts.ReadBufferBytes
	if bufSize <= 0 {
		bufSize = defaultReadBuf
	}
	r := bufio.NewReaderSize(dec, bufSize)

	var last uint64
	for {
		line, rerr := r.ReadString('\n')
		if len(line) > 0 {
			line = strings.TrimSuffix(line, "\n")
			line = strings.TrimSuffix(line, "\r")
			if cur := atomic.LoadUint64(&counter); cur > last {
				delta := cur - last
				if onProgress != nil {
					onProgress(delta)
				}
				metrics.AddBytesProcessed(delta)
				last = cur
			}
			if err := onLine(line); err != nil {
				return last, &callbackError{err: err}
			}
			if opts.Throttle && mem != nil {
				mem.MaybeThrottle(lowMemThrottle)
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				if cur := atomic.LoadUint64(&counter); cur > last {
					delta := cur - last
					if onProgress != nil {
						onProgress(delta)
					}
					metrics.AddBytesProcessed(delta)
					last = cur
				}
				return last, nil
			}
			return last, rerr
		}
	}
}

func warnDecodeSkip(path string, err error) {
	abs := path
	if a, aerr := filepath.Abs(path); aerr == nil {
		abs = a
	}
	nlog.Warningf("skipping zstd file after decode error\n  path : %s\n  error: %v\n"+
		"  note : this usually indicates trailing file corruption; the pipeline will skip it and continue", abs, err)
}
