/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package zstdio_test

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/caldera-data/retl/zstdio"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func writeFixture(dir, name string, lines []string) string {
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	Expect(err).NotTo(HaveOccurred())
	w, err := zstdio.NewWriter(f)
	Expect(err).NotTo(HaveOccurred())
	for _, l := range lines {
		_, err := w.Write([]byte(l + "\n"))
		Expect(err).NotTo(HaveOccurred())
	}
	Expect(w.Close()).To(Succeed())
	Expect(f.Close()).To(Succeed())
	return path
}

var _ = Describe("ForEachLine", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "zstdio-test-*")
		Expect(err).NotTo(HaveOccurred())
	})
	AfterEach(func() { os.RemoveAll(dir) })

	It("decodes every line in order", func() {
		path := writeFixture(dir, "RC_2015-01.zst", []string{
			`{"id":"c1"}`, `{"id":"c2"}`, `{"id":"c3"}`,
		})
		var got []string
		err := zstdio.ForEachLine(path, zstdio.Options{}, nil, func(line string) error {
			got = append(got, line)
			return nil
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal([]string{`{"id":"c1"}`, `{"id":"c2"}`, `{"id":"c3"}`}))
	})

	It("propagates an error returned by the line callback", func() {
		path := writeFixture(dir, "RC_2015-04.zst", []string{`{"id":"c1"}`})
		boom := errors.New("downstream write failed")
		err := zstdio.ForEachLine(path, zstdio.Options{}, nil, func(string) error { return boom })
		Expect(err).To(MatchError(boom))
	})

	It("skips a corrupt file rather than returning an error", func() {
		path := filepath.Join(dir, "RC_2015-02.zst")
		Expect(os.WriteFile(path, []byte("not a zstd frame at all"), 0o644)).To(Succeed())

		called := false
		err := zstdio.ForEachLine(path, zstdio.Options{}, nil, func(string) error {
			called = true
			return nil
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(called).To(BeFalse())
	})

	It("reports progress in compressed bytes and flushes the remainder on skip", func() {
		path := filepath.Join(dir, "RC_2015-03.zst")
		Expect(os.WriteFile(path, []byte("garbage"), 0o644)).To(Succeed())

		var total uint64
		err := zstdio.ForEachLineProgress(path, zstdio.Options{}, nil, func(d uint64) { total += d }, func(string) error { return nil })
		Expect(err).NotTo(HaveOccurred())
		Expect(total).To(Equal(uint64(len("garbage"))))
	})
})

var _ = Describe("QuickValidate and ValidateFull", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "zstdio-validate-*")
		Expect(err).NotTo(HaveOccurred())
	})
	AfterEach(func() { os.RemoveAll(dir) })

	It("passes a clean file", func() {
		path := writeFixture(dir, "RC_2015-01.zst", []string{
			`{"id":"c1"}`, `{"id":"c2"}`,
		})
		Expect(zstdio.QuickValidate(path, 1<<20)).To(Succeed())
		Expect(zstdio.ValidateFull(path)).To(Succeed())
	})

	It("fails on a file that isn't zstd at all", func() {
		path := filepath.Join(dir, "RC_2015-02.zst")
		Expect(os.WriteFile(path, []byte("plainly not zstd"), 0o644)).To(Succeed())
		Expect(zstdio.QuickValidate(path, 1<<20)).NotTo(Succeed())
		Expect(zstdio.ValidateFull(path)).NotTo(Succeed())
	})

	It("misses trailing corruption under a small quick budget that ValidateFull catches", func() {
		lines := make([]string, 100)
		for i := range lines {
			lines[i] = `{"id":"cccccccccccccccccccccccccc"}`
		}
		path := writeFixture(dir, "RC_2015-03.zst", lines)

		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
		Expect(err).NotTo(HaveOccurred())
		_, err = f.WriteString("trailing garbage, not a zstd frame")
		Expect(err).NotTo(HaveOccurred())
		Expect(f.Close()).To(Succeed())

		Expect(zstdio.QuickValidate(path, 16)).To(Succeed())
		Expect(zstdio.ValidateFull(path)).NotTo(Succeed())
	})
})
