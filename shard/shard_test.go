/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package shard_test

import (
	"os"
	"strconv"
	"strings"

	"github.com/caldera-data/retl/shard"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Index", func() {
	It("is a pure function of key for a fixed seed and shard count", func() {
		for _, key := range []string{"gopherfan", "another_user", "t3_abc123"} {
			first := shard.Index(key, shard.SeedUsernames, 8)
			for i := 0; i < 5; i++ {
				Expect(shard.Index(key, shard.SeedUsernames, 8)).To(Equal(first))
			}
		}
	})

	It("stays within [0, n)", func() {
		for i := 0; i < 100; i++ {
			idx := shard.Index(randKey(i), shard.SeedKV, 16)
			Expect(idx).To(BeNumerically(">=", 0))
			Expect(idx).To(BeNumerically("<", 16))
		}
	})
})

func randKey(i int) string {
	return string(rune('a' + i%26))
}

var _ = Describe("Writer and Dedup", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "shard-test-*")
		Expect(err).NotTo(HaveOccurred())
	})
	AfterEach(func() { os.RemoveAll(dir) })

	It("deduplicates repeated keys within each shard", func() {
		w, err := shard.NewWriter(dir, "users", 4, shard.SeedUsernames)
		Expect(err).NotTo(HaveOccurred())

		for _, k := range []string{"alice", "bob", "alice", "carol", "bob", "alice"} {
			Expect(w.Write(k)).To(Succeed())
		}

		files, err := w.Dedup("users")
		Expect(err).NotTo(HaveOccurred())

		stream := shard.NewLineStream(files)
		var got []string
		for {
			line, ok := stream.Next()
			if !ok {
				break
			}
			got = append(got, line)
		}
		Expect(stream.Err()).NotTo(HaveOccurred())
		Expect(got).To(ConsistOf("alice", "bob", "carol"))
	})
})

var _ = Describe("KVWriter reductions", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "shard-kv-test-*")
		Expect(err).NotTo(HaveOccurred())
	})
	AfterEach(func() { os.RemoveAll(dir) })

	It("sums values per key across writes", func() {
		w, err := shard.NewKVWriter(dir, "counts", 2, shard.SeedKV)
		Expect(err).NotTo(HaveOccurred())
		Expect(w.WriteKV("alice", 1)).To(Succeed())
		Expect(w.WriteKV("alice", 2)).To(Succeed())
		Expect(w.WriteKV("bob", 5)).To(Succeed())

		files, err := w.ReduceSum("counts")
		Expect(err).NotTo(HaveOccurred())

		totals := readTSVTotals(files)
		Expect(totals["alice"]).To(Equal(int64(3)))
		Expect(totals["bob"]).To(Equal(int64(5)))
	})
})

func readTSVTotals(files []string) map[string]int64 {
	out := map[string]int64{}
	for _, f := range files {
		b, err := os.ReadFile(f)
		Expect(err).NotTo(HaveOccurred())
		for _, line := range strings.Split(string(b), "\n") {
			if line == "" {
				continue
			}
			k, v, ok := strings.Cut(line, "\t")
			Expect(ok).To(BeTrue())
			n, err := strconv.ParseInt(v, 10, 64)
			Expect(err).NotTo(HaveOccurred())
			out[k] = n
		}
	}
	return out
}
