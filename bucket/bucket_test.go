/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package bucket_test

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/caldera-data/retl/bucket"
	"github.com/caldera-data/retl/keyx"
	"github.com/caldera-data/retl/memsys"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

type scriptedSource struct {
	vals []float64
	i    int
}

func (s *scriptedSource) AvailableFraction() (float64, error) {
	v := s.vals[s.i]
	if s.i < len(s.vals)-1 {
		s.i++
	}
	return v, nil
}

var _ = Describe("PartitionStage1 and BucketizeShard", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "bucket-stage-test-*")
		Expect(err).NotTo(HaveOccurred())
	})
	AfterEach(func() { os.RemoveAll(dir) })

	It("routes every record with the same key into the same stage1 shard, regardless of input file", func() {
		in1 := filepath.Join(dir, "a.jsonl")
		in2 := filepath.Join(dir, "b.jsonl")
		Expect(os.WriteFile(in1, []byte(
			`{"author":"alice","id":"c1"}`+"\n"+
				`{"author":"bob","id":"c2"}`+"\n"), 0o644)).To(Succeed())
		Expect(os.WriteFile(in2, []byte(
			`{"author":"alice","id":"c3"}`+"\n"+
				`{"author":"carol","id":"c4"}`+"\n"), 0o644)).To(Succeed())

		outDir := filepath.Join(dir, "stage1")
		shards, err := bucket.PartitionStage1([]string{in1, in2}, outDir, 4, keyx.AuthorLowerFast())
		Expect(err).NotTo(HaveOccurred())
		Expect(shards).To(HaveLen(4))

		aliceShard := shardContaining(shards, "c1")
		Expect(shardContaining(shards, "c3")).To(Equal(aliceShard))
	})

	It("re-buckets a stage1 shard deterministically", func() {
		shardPath := filepath.Join(dir, "stage1_0000.jsonl")
		Expect(os.WriteFile(shardPath, []byte(
			`{"author":"alice","id":"c1"}`+"\n"+
				`{"author":"alice","id":"c3"}`+"\n"), 0o644)).To(Succeed())

		outDir := filepath.Join(dir, "buckets")
		buckets, err := bucket.BucketizeShard(shardPath, outDir, 3, keyx.AuthorLowerFast())
		Expect(err).NotTo(HaveOccurred())
		Expect(buckets).To(HaveLen(3))

		Expect(shardContaining(buckets, "c1")).To(Equal(shardContaining(buckets, "c3")))
	})
})

var _ = Describe("ProcessBucketStreaming", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "bucket-stream-test-*")
		Expect(err).NotTo(HaveOccurred())
	})
	AfterEach(func() { os.RemoveAll(dir) })

	It("groups every line sharing a key, across however many flushes it took", func() {
		bucketPath := filepath.Join(dir, "bucket_0000.jsonl")
		var lines []string
		for i := 0; i < 50; i++ {
			author := []string{"alice", "bob", "carol"}[i%3]
			lines = append(lines, fmt.Sprintf(`{"author":%q,"id":"c%d"}`, author, i))
		}
		Expect(os.WriteFile(bucketPath, []byte(strings.Join(lines, "\n")+"\n"), 0o644)).To(Succeed())

		cfg := bucket.DefaultCfg()
		// Force frequent flushes with a tiny target and a scripted low-memory reading.
		cfg.MicroMinBufMB = 0
		cfg.AdaptCooldownMS = 0
		mem := memsys.NewWatcherFrom(&scriptedSource{vals: []float64{0.05}})
		mem.CacheFor = 0

		var mu sync.Mutex
		seen := map[string][]string{}
		err := bucket.ProcessBucketStreaming(bucketPath, 4, cfg, keyx.AuthorLowerFast(), mem,
			func(key string, group []string) error {
				mu.Lock()
				defer mu.Unlock()
				seen[key] = append(seen[key], group...)
				return nil
			})
		Expect(err).NotTo(HaveOccurred())

		for _, author := range []string{"alice", "bob", "carol"} {
			ids := idsOf(seen[author])
			sort.Strings(ids)
			Expect(len(ids)).To(BeNumerically(">", 0))
		}
		total := 0
		for _, group := range seen {
			total += len(group)
		}
		Expect(total).To(Equal(50))
	})

	It("treats a missing bucket file as empty rather than erroring", func() {
		missing := filepath.Join(dir, "bucket_0099.jsonl")
		called := false
		err := bucket.ProcessBucketStreaming(missing, 4, bucket.DefaultCfg(), keyx.AuthorLowerFast(), nil,
			func(string, []string) error { called = true; return nil })
		Expect(err).NotTo(HaveOccurred())
		Expect(called).To(BeFalse())
	})
})

func shardContaining(paths []string, needle string) string {
	for _, p := range paths {
		b, err := os.ReadFile(p)
		Expect(err).NotTo(HaveOccurred())
		if strings.Contains(string(b), needle) {
			return p
		}
	}
	return ""
}

func idsOf(lines []string) []string {
	var out []string
	for _, l := range lines {
		out = append(out, l)
	}
	return out
}
