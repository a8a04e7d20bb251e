/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package partition_test

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/caldera-data/retl/partition"
	"github.com/caldera-data/retl/shard"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Sink", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "partition-test-*")
		Expect(err).NotTo(HaveOccurred())
	})
	AfterEach(func() { os.RemoveAll(dir) })

	It("routes the same user to the same partition across many writes", func() {
		sink, err := partition.New(dir, "users", 8, 4096)
		Expect(err).NotTo(HaveOccurred())

		write := func(user, line string) {
			Expect(sink.WriteWith(user, func(w io.Writer) error {
				_, err := io.WriteString(w, line+"\n")
				return err
			})).To(Succeed())
		}
		write("alice", "a1")
		write("bob", "b1")
		write("alice", "a2")

		paths, err := sink.Finalize()
		Expect(err).NotTo(HaveOccurred())
		Expect(paths).To(HaveLen(8))

		aliceIdx := shard.Index("alice", shard.SeedPartition, 8)
		b, err := os.ReadFile(paths[aliceIdx])
		Expect(err).NotTo(HaveOccurred())
		Expect(string(b)).To(ContainSubstring("a1"))
		Expect(string(b)).To(ContainSubstring("a2"))
	})

	It("is safe for concurrent writers across distinct users", func() {
		sink, err := partition.New(dir, "users", 4, 4096)
		Expect(err).NotTo(HaveOccurred())

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				user := fmt.Sprintf("user%d", i%7)
				_ = sink.WriteWith(user, func(w io.Writer) error {
					_, err := io.WriteString(w, fmt.Sprintf("rec%d\n", i))
					return err
				})
			}(i)
		}
		wg.Wait()

		paths, err := sink.Finalize()
		Expect(err).NotTo(HaveOccurred())

		total := 0
		for _, p := range paths {
			b, err := os.ReadFile(p)
			Expect(err).NotTo(HaveOccurred())
			if len(b) == 0 {
				continue
			}
			total += len(strings.Split(strings.TrimRight(string(b), "\n"), "\n"))
		}
		Expect(total).To(Equal(50))
	})

	It("promotes files out of the staging directory on finalize", func() {
		sink, err := partition.New(dir, "x", 2, 4096)
		Expect(err).NotTo(HaveOccurred())
		Expect(sink.WriteWith("alice", func(w io.Writer) error {
			_, err := io.WriteString(w, "hi\n")
			return err
		})).To(Succeed())

		paths, err := sink.Finalize()
		Expect(err).NotTo(HaveOccurred())
		for _, p := range paths {
			Expect(filepath.Dir(p)).To(Equal(dir))
			_, err := os.Stat(p)
			Expect(err).NotTo(HaveOccurred())
		}
		staging := filepath.Join(dir, "_staging")
		entries, err := os.ReadDir(staging)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(BeEmpty())
	})
})
