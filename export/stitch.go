/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package export

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/caldera-data/retl/orch"
	"github.com/pkg/errors"
)

// listSorted returns every regular file directly under dir, sorted by
// name — the deterministic order every stitch function concatenates in.
func listSorted(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", dir)
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// StitchParts concatenates every file under tmpDir into outPath in sorted
// name order, byte for byte — used to merge per-month JSONL/TSV parts into
// one final file.
func StitchParts(tmpDir, outPath string, writeBuf int) error {
	paths, err := listSorted(tmpDir)
	if err != nil {
		return err
	}
	out, err := orch.CreateWithBackoff(outPath)
	if err != nil {
		return err
	}
	defer out.Close()
	w := bufio.NewWriterSize(out, writeBuf)

	for _, p := range paths {
		if err := appendFile(w, p); err != nil {
			return err
		}
	}
	return w.Flush()
}

// ConcatTSVs concatenates paths into outPath in sorted path order, byte for
// byte; the order the caller passes them in is not kept.
func ConcatTSVs(paths []string, outPath string, writeBuf int) error {
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)

	out, err := orch.CreateWithBackoff(outPath)
	if err != nil {
		return err
	}
	defer out.Close()
	w := bufio.NewWriterSize(out, writeBuf)

	for _, p := range sorted {
		if err := appendFile(w, p); err != nil {
			return err
		}
	}
	return w.Flush()
}

func appendFile(w io.Writer, path string) error {
	in, err := orch.OpenWithBackoff(path)
	if err != nil {
		return err
	}
	defer in.Close()
	_, err = io.Copy(w, in)
	return err
}

// StitchPartsToJSONArray concatenates every JSONL line under tmpDir into a
// single JSON array file, optionally pretty-printing each element.
func StitchPartsToJSONArray(tmpDir, outPath string, pretty bool, writeBuf int) error {
	paths, err := listSorted(tmpDir)
	if err != nil {
		return err
	}
	f, err := orch.CreateWithBackoff(outPath)
	if err != nil {
		return err
	}
	defer f.Close()

	aw, err := NewJSONArrayWriter(f, pretty)
	if err != nil {
		return err
	}
	for _, p := range paths {
		if err := copyLinesAsRecords(aw, p); err != nil {
			return err
		}
	}
	return aw.Close()
}

func copyLinesAsRecords(aw *JSONArrayWriter, path string) error {
	in, err := orch.OpenWithBackoff(path)
	if err != nil {
		return err
	}
	defer in.Close()

	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		var v map[string]any
		if err := exportJSON.UnmarshalFromString(line, &v); err != nil {
			continue
		}
		if err := aw.WriteRecord(v); err != nil {
			return err
		}
	}
	return sc.Err()
}
