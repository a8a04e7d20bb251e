/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package pipeline

import (
	"strings"

	"github.com/caldera-data/retl/export"
	"github.com/caldera-data/retl/memsys"
	"github.com/caldera-data/retl/query"
	"github.com/caldera-data/retl/rec"
	"github.com/caldera-data/retl/zstdio"
)

// recordWriter is satisfied by export.JSONLWriter and export.ZstdJSONLWriter:
// a raw fast path plus a projected/transformed path.
type recordWriter interface {
	WriteRawLine(line string) error
	WriteRecord(v map[string]any) error
}

// streamJob is the one-pass record filter/writer shared by every extract and
// export operation: match, bounds-check, and either copy the line verbatim
// or re-marshal it through a whitelist/timestamp transform.
func streamJob(job rec.FileJob, w recordWriter, targets []string, q query.Spec, whitelist []string, bounds query.Bounds, humanTS bool, readBuf int, mem *memsys.Watcher) (uint64, error) {
	var written uint64
	onLine := func(line string) error {
		min, err := rec.ParseMinimal(line)
		if err != nil {
			return nil
		}
		if !query.MatchesMinimal(min, targets, q) {
			return nil
		}
		if !query.WithinBounds(min, bounds) {
			return nil
		}

		if whitelist == nil && !humanTS {
			if err := w.WriteRawLine(line); err != nil {
				return err
			}
			written++
			return nil
		}

		v, err := rec.ParseFull(line)
		if err != nil {
			return nil
		}
		if err := w.WriteRecord(v); err != nil {
			return err
		}
		written++
		return nil
	}

	err := zstdio.ForEachLine(job.Path, zstdio.Options{ReadBufferBytes: readBuf, Throttle: true}, mem, onLine)
	return written, err
}

// usernamesFromLine extracts a trimmed, lowercased, non-pseudo author from
// a minimal record, or ("", false) if the line carries none.
func usernamesFromLine(min rec.Minimal) (string, bool) {
	if min.Author == nil {
		return "", false
	}
	a := strings.ToLower(strings.TrimSpace(*min.Author))
	if a == "" || a == "[deleted]" || a == "[removed]" {
		return "", false
	}
	return a, true
}

var _ recordWriter = (*export.JSONLWriter)(nil)
var _ recordWriter = (*export.ZstdJSONLWriter)(nil)
