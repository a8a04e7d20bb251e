// Package export provides the output writers the pipeline's terminal
// stages use: JSONL with optional field whitelisting and timestamp
// humanization, a JSON array, TSV, and zstd-compressed JSONL.
/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package export

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

var exportJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// timestampFields are humanized from a numeric epoch-seconds value to an
// RFC-3339 string when JSONLWriter.HumanizeTimestamps is set.
var timestampFields = map[string]struct{}{
	"created_utc":  {},
	"retrieved_on": {},
	"edited":       {},
}

// JSONLWriter writes one JSON object per line, optionally projecting to a
// field whitelist and/or humanizing known timestamp fields in place.
type JSONLWriter struct {
	w                  *bufio.Writer
	closer             io.Closer
	Whitelist          []string // nil means keep every field
	HumanizeTimestamps bool
}

// NewJSONLWriter wraps f as a buffered sink for WriteRecord/WriteRawLine
// calls.
func NewJSONLWriter(f io.WriteCloser) *JSONLWriter {
	return &JSONLWriter{w: bufio.NewWriterSize(f, 256*1024), closer: f}
}

// CreateJSONLWriter creates path and wraps it.
func CreateJSONLWriter(path string) (*JSONLWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s", path)
	}
	return NewJSONLWriter(f), nil
}

// WriteRecord projects and writes one already-decoded record as a JSONL line.
func (j *JSONLWriter) WriteRecord(v map[string]any) error {
	out := v
	if j.Whitelist != nil {
		out = project(v, j.Whitelist)
	}
	if j.HumanizeTimestamps {
		humanizeTimestamps(out)
	}
	b, err := exportJSON.Marshal(out)
	if err != nil {
		return err
	}
	if _, err := j.w.Write(b); err != nil {
		return err
	}
	return j.w.WriteByte('\n')
}

// WriteRawLine writes a raw JSONL line unmodified — used when no projection
// or humanization is configured and the caller already has the bytes.
func (j *JSONLWriter) WriteRawLine(line string) error {
	if _, err := j.w.WriteString(line); err != nil {
		return err
	}
	return j.w.WriteByte('\n')
}

// Close flushes and closes the underlying writer.
func (j *JSONLWriter) Close() error {
	if err := j.w.Flush(); err != nil {
		return err
	}
	if j.closer != nil {
		return j.closer.Close()
	}
	return nil
}

func project(v map[string]any, whitelist []string) map[string]any {
	out := make(map[string]any, len(whitelist))
	for _, field := range whitelist {
		if val, ok := v[field]; ok {
			out[field] = val
		}
	}
	return out
}

func humanizeTimestamps(v map[string]any) {
	for field := range timestampFields {
		raw, ok := v[field]
		if !ok {
			continue
		}
		secs, ok := toEpochSeconds(raw)
		if !ok {
			continue
		}
		v[field] = time.Unix(secs, 0).UTC().Format(time.RFC3339)
	}
}

func toEpochSeconds(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}

// JSONArrayWriter writes a `[rec, rec, ...]` JSON array, pretty or compact.
type JSONArrayWriter struct {
	w      *bufio.Writer
	closer io.Closer
	pretty bool
	first  bool
}

func NewJSONArrayWriter(f io.WriteCloser, pretty bool) (*JSONArrayWriter, error) {
	w := bufio.NewWriterSize(f, 256*1024)
	if pretty {
		if _, err := w.WriteString("[\n"); err != nil {
			return nil, err
		}
	} else {
		if _, err := w.WriteString("["); err != nil {
			return nil, err
		}
	}
	return &JSONArrayWriter{w: w, closer: f, pretty: pretty, first: true}, nil
}

func CreateJSONArrayWriter(path string, pretty bool) (*JSONArrayWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s", path)
	}
	return NewJSONArrayWriter(f, pretty)
}

func (j *JSONArrayWriter) WriteRecord(v map[string]any) error {
	if !j.first {
		sep := ","
		if j.pretty {
			sep = ",\n"
		}
		if _, err := j.w.WriteString(sep); err != nil {
			return err
		}
	}
	j.first = false

	var b []byte
	var err error
	if j.pretty {
		b, err = exportJSON.MarshalIndent(v, "", "  ")
	} else {
		b, err = exportJSON.Marshal(v)
	}
	if err != nil {
		return err
	}
	_, err = j.w.Write(b)
	return err
}

// Close writes the closing bracket, flushes, and closes the underlying file.
func (j *JSONArrayWriter) Close() error {
	closing := "]"
	if j.pretty {
		closing = "\n]"
	}
	if _, err := j.w.WriteString(closing); err != nil {
		return err
	}
	if err := j.w.Flush(); err != nil {
		return err
	}
	if j.closer != nil {
		return j.closer.Close()
	}
	return nil
}

// TSVWriter writes "key\tvalue\n" rows, the format reducer outputs use.
type TSVWriter struct {
	w      *bufio.Writer
	closer io.Closer
}

func NewTSVWriter(f io.WriteCloser) *TSVWriter {
	return &TSVWriter{w: bufio.NewWriterSize(f, 64*1024), closer: f}
}

func CreateTSVWriter(path string) (*TSVWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s", path)
	}
	return NewTSVWriter(f), nil
}

func (t *TSVWriter) WriteRow(key string, value int64) error {
	_, err := fmt.Fprintf(t.w, "%s\t%d\n", key, value)
	return err
}

func (t *TSVWriter) Close() error {
	if err := t.w.Flush(); err != nil {
		return err
	}
	if t.closer != nil {
		return t.closer.Close()
	}
	return nil
}

// ZstdJSONLWriter streams JSONL through a single-stream level-19 zstd
// encoder.
type ZstdJSONLWriter struct {
	enc    *zstd.Encoder
	closer io.Closer
}

func CreateZstdJSONLWriter(path string) (*ZstdJSONLWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s", path)
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		f.Close()
		return nil, err
	}
	return &ZstdJSONLWriter{enc: enc, closer: f}, nil
}

// WriteRawLine writes a raw JSONL line unmodified, mirroring
// JSONLWriter.WriteRawLine's fast path for callers that stream without
// projection or timestamp humanization.
func (z *ZstdJSONLWriter) WriteRawLine(line string) error {
	if _, err := z.enc.Write([]byte(line)); err != nil {
		return err
	}
	_, err := z.enc.Write([]byte{'\n'})
	return err
}

func (z *ZstdJSONLWriter) WriteRecord(v map[string]any) error {
	b, err := exportJSON.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := z.enc.Write(b); err != nil {
		return err
	}
	_, err = z.enc.Write([]byte{'\n'})
	return err
}

func (z *ZstdJSONLWriter) Close() error {
	if err := z.enc.Close(); err != nil {
		return err
	}
	return z.closer.Close()
}
