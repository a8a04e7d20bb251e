/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package orch_test

import (
	"os"
	"path/filepath"

	"github.com/caldera-data/retl/orch"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("ReplaceAtomic", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "orch-test-*")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() { os.RemoveAll(dir) })

	It("promotes a staging file over a nonexistent destination", func() {
		tmp := filepath.Join(dir, "out.tmp")
		dest := filepath.Join(dir, "out.txt")
		Expect(os.WriteFile(tmp, []byte("hello"), 0o644)).To(Succeed())

		Expect(orch.ReplaceAtomic(tmp, dest)).To(Succeed())

		b, err := os.ReadFile(dest)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(b)).To(Equal("hello"))
		_, err = os.Stat(tmp)
		Expect(os.IsNotExist(err)).To(BeTrue())
	})

	It("overwrites an existing destination", func() {
		tmp := filepath.Join(dir, "out.tmp")
		dest := filepath.Join(dir, "out.txt")
		Expect(os.WriteFile(dest, []byte("stale"), 0o644)).To(Succeed())
		Expect(os.WriteFile(tmp, []byte("fresh"), 0o644)).To(Succeed())

		Expect(orch.ReplaceAtomic(tmp, dest)).To(Succeed())

		b, err := os.ReadFile(dest)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(b)).To(Equal("fresh"))
	})
})

var _ = Describe("RemoveWithBackoff", func() {
	It("succeeds when the file is already absent", func() {
		Expect(orch.RemoveWithBackoff("/nonexistent/path/does-not-exist")).To(Succeed())
	})
})
