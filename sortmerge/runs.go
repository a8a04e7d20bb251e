/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package sortmerge

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/caldera-data/retl/keyx"
	"github.com/caldera-data/retl/memsys"
	"github.com/pkg/errors"
)

// BuildRuns scans input line by line, buffering lines by key in memory and
// periodically flushing a sorted-by-key run file once the buffered size
// reaches an adaptively-sized target (or free memory drops below
// cfg.SoftLowFrac). Returns the run file paths in creation order.
func BuildRuns(ctx context.Context, input, runsDir string, key keyx.Extractor, cfg Cfg, mem *memsys.Watcher) ([]string, error) {
	if err := os.MkdirAll(runsDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create runs dir %s", runsDir)
	}

	f, err := os.Open(input)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", input)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	buffered := map[string][]string{}
	var bufferedBytes int64
	targetBytes := cfg.MinBufMB << 20
	lastEval := time.Now().Add(-2 * time.Duration(cfg.AdaptCooldownMS) * time.Millisecond)

	var runPaths []string
	runIdx := 0

	flush := func() error {
		if len(buffered) == 0 {
			return nil
		}
		runIdx++
		path := filepath.Join(runsDir, fmt.Sprintf("run_%04d.ndjson", runIdx))
		if err := writeRunSorted(path, buffered, cfg.WriteBufBytes); err != nil {
			return err
		}
		buffered = map[string][]string{}
		bufferedBytes = 0
		runPaths = append(runPaths, path)
		return nil
	}

	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line := sc.Text()
		if line == "" {
			continue
		}
		if k, ok := key.KeyFromLine(line); ok {
			buffered[k] = append(buffered[k], line)
			bufferedBytes += int64(len(line)) + 1
		}

		cooldown := time.Duration(cfg.AdaptCooldownMS) * time.Millisecond
		if mem != nil && time.Since(lastEval) >= cooldown {
			free := mem.AvailableFraction()
			targetBytes = memsys.AdaptiveTarget(cfg.adaptiveCfg(), free)
			lastEval = time.Now()
		}

		low := mem != nil && mem.IsLow(cfg.SoftLowFrac)
		if bufferedBytes >= targetBytes || low {
			if err := flush(); err != nil {
				return nil, err
			}
			if mem != nil && mem.IsLow(cfg.HardLowFrac) {
				time.Sleep(time.Duration(cfg.BackoffMS) * time.Millisecond)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return runPaths, nil
}

func writeRunSorted(path string, buffered map[string][]string, writeBuf int) error {
	keys := make([]string, 0, len(buffered))
	for k := range buffered {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	defer out.Close()
	w := bufio.NewWriterSize(out, writeBuf)
	for _, k := range keys {
		for _, line := range buffered[k] {
			if _, err := w.WriteString(line); err != nil {
				return err
			}
			if err := w.WriteByte('\n'); err != nil {
				return err
			}
		}
	}
	return w.Flush()
}
