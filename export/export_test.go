/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package export_test

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/zstd"

	"github.com/caldera-data/retl/export"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("JSONLWriter", func() {
	var dir string
	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "export-test-*")
		Expect(err).NotTo(HaveOccurred())
	})
	AfterEach(func() { os.RemoveAll(dir) })

	It("writes every field by default", func() {
		path := filepath.Join(dir, "out.jsonl")
		w, err := export.CreateJSONLWriter(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(w.WriteRecord(map[string]any{"id": "c1", "author": "alice", "score": float64(5)})).To(Succeed())
		Expect(w.Close()).To(Succeed())

		b, err := os.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(b)).To(ContainSubstring(`"author":"alice"`))
		Expect(string(b)).To(ContainSubstring(`"score":5`))
	})

	It("projects to a whitelist", func() {
		path := filepath.Join(dir, "out.jsonl")
		w, err := export.CreateJSONLWriter(path)
		Expect(err).NotTo(HaveOccurred())
		w.Whitelist = []string{"id", "author"}
		Expect(w.WriteRecord(map[string]any{"id": "c1", "author": "alice", "score": float64(5)})).To(Succeed())
		Expect(w.Close()).To(Succeed())

		b, err := os.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(b)).To(ContainSubstring(`"id":"c1"`))
		Expect(string(b)).NotTo(ContainSubstring("score"))
	})

	It("humanizes known timestamp fields to RFC-3339", func() {
		path := filepath.Join(dir, "out.jsonl")
		w, err := export.CreateJSONLWriter(path)
		Expect(err).NotTo(HaveOccurred())
		w.HumanizeTimestamps = true
		Expect(w.WriteRecord(map[string]any{"id": "c1", "created_utc": float64(1136073600)})).To(Succeed())
		Expect(w.Close()).To(Succeed())

		b, err := os.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(b)).To(ContainSubstring("2006-01-01T00:00:00Z"))
	})
})

var _ = Describe("JSONArrayWriter", func() {
	It("writes a compact array", func() {
		dir, err := os.MkdirTemp("", "export-test-*")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(dir)
		path := filepath.Join(dir, "out.json")

		w, err := export.CreateJSONArrayWriter(path, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(w.WriteRecord(map[string]any{"id": "a"})).To(Succeed())
		Expect(w.WriteRecord(map[string]any{"id": "b"})).To(Succeed())
		Expect(w.Close()).To(Succeed())

		b, err := os.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())
		var arr []map[string]any
		Expect(jsoniter.Unmarshal(b, &arr)).To(Succeed())
		Expect(arr).To(HaveLen(2))
	})
})

var _ = Describe("TSVWriter", func() {
	It("writes key\\tvalue rows", func() {
		dir, err := os.MkdirTemp("", "export-test-*")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(dir)
		path := filepath.Join(dir, "out.tsv")

		w, err := export.CreateTSVWriter(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(w.WriteRow("alice", 3)).To(Succeed())
		Expect(w.Close()).To(Succeed())

		b, err := os.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(b)).To(Equal("alice\t3\n"))
	})
})

var _ = Describe("ZstdJSONLWriter", func() {
	It("round-trips through zstd decompression", func() {
		dir, err := os.MkdirTemp("", "export-test-*")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(dir)
		path := filepath.Join(dir, "out.jsonl.zst")

		w, err := export.CreateZstdJSONLWriter(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(w.WriteRecord(map[string]any{"id": "c1"})).To(Succeed())
		Expect(w.Close()).To(Succeed())

		f, err := os.Open(path)
		Expect(err).NotTo(HaveOccurred())
		defer f.Close()
		dec, err := zstd.NewReader(f)
		Expect(err).NotTo(HaveOccurred())
		defer dec.Close()
		b, err := io.ReadAll(dec)
		Expect(err).NotTo(HaveOccurred())
		Expect(strings.TrimSpace(string(b))).To(Equal(`{"id":"c1"}`))
	})
})

var _ = Describe("StitchParts", func() {
	It("concatenates files in sorted name order", func() {
		dir, err := os.MkdirTemp("", "export-test-*")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(dir)
		tmpDir := filepath.Join(dir, "parts")
		Expect(os.MkdirAll(tmpDir, 0o755)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(tmpDir, "b.part"), []byte("b\n"), 0o644)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(tmpDir, "a.part"), []byte("a\n"), 0o644)).To(Succeed())

		out := filepath.Join(dir, "out.txt")
		Expect(export.StitchParts(tmpDir, out, 4096)).To(Succeed())

		b, err := os.ReadFile(out)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(b)).To(Equal("a\nb\n"))
	})
})
