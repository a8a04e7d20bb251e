/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package pipeline_test

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/caldera-data/retl/internal/config"
	"github.com/caldera-data/retl/keyx"
	"github.com/caldera-data/retl/pipeline"
	"github.com/caldera-data/retl/query"
	"github.com/caldera-data/retl/sortmerge"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func writeJSONL(path string, lines []string) {
	Expect(os.MkdirAll(filepath.Dir(path), 0o755)).To(Succeed())
	Expect(os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644)).To(Succeed())
}

var _ = Describe("Engine group-by and partitioned export", func() {
	var base string
	var opts config.Options

	BeforeEach(func() {
		var err error
		base, err = os.MkdirTemp("", "groupby-test-*")
		Expect(err).NotTo(HaveOccurred())
		opts = config.Default().
			WithBaseDir(base).
			WithFileConcurrency(2).
			WithShardCount(4)
	})

	AfterEach(func() { os.RemoveAll(base) })

	Describe("DedupeByKey", func() {
		It("collapses every key group to one output record", func() {
			input := filepath.Join(base, "in.jsonl")
			writeJSONL(input, []string{
				`{"author":"alice","id":"a1"}`,
				`{"author":"bob","id":"b1"}`,
				`{"author":"alice","id":"a2"}`,
				`{"author":"carol","id":"c1"}`,
				`{"author":"bob","id":"b2"}`,
			})
			output := filepath.Join(base, "out.jsonl")

			// Zero buffer target forces a run per line, so the merge
			// path (not the single-run promote) is what is under test.
			cfg := sortmerge.DefaultCfg()
			cfg.MinBufMB, cfg.MaxBufMB = 0, 0

			var keys []string
			engine := pipeline.New(opts)
			err := engine.DedupeByKey(input, output, keyx.AuthorLowerFast(), cfg,
				func(key string, lines []string, w io.Writer) error {
					keys = append(keys, key)
					_, err := io.WriteString(w, lines[0]+"\n")
					return err
				})
			Expect(err).NotTo(HaveOccurred())

			Expect(keys).To(Equal([]string{"alice", "bob", "carol"}))
			Expect(readLines(output)).To(HaveLen(3))
			_, err = os.Stat(filepath.Join(opts.EnsureWorkDir(), "dedupe_runs"))
			Expect(os.IsNotExist(err)).To(BeTrue())
		})

		It("groups all lines sharing a key into one collapse call", func() {
			input := filepath.Join(base, "in.jsonl")
			writeJSONL(input, []string{
				`{"author":"alice","id":"a1"}`,
				`{"author":"alice","id":"a2"}`,
				`{"author":"alice","id":"a3"}`,
			})
			output := filepath.Join(base, "out.jsonl")
			cfg := sortmerge.DefaultCfg()
			cfg.MinBufMB, cfg.MaxBufMB = 0, 0

			groups := map[string]int{}
			engine := pipeline.New(opts)
			err := engine.DedupeByKey(input, output, keyx.AuthorLowerFast(), cfg,
				func(key string, lines []string, w io.Writer) error {
					groups[key] += len(lines)
					return nil
				})
			Expect(err).NotTo(HaveOccurred())
			Expect(groups).To(Equal(map[string]int{"alice": 3}))
		})
	})

	Describe("GroupByKey", func() {
		It("streams every line to its key group across input files", func() {
			in1 := filepath.Join(base, "in1.jsonl")
			in2 := filepath.Join(base, "in2.jsonl")
			writeJSONL(in1, []string{
				`{"author":"alice","id":"a1"}`,
				`{"author":"bob","id":"b1"}`,
			})
			writeJSONL(in2, []string{
				`{"author":"alice","id":"a2"}`,
				`{"author":"carol","id":"c1"}`,
			})

			var mu sync.Mutex
			got := map[string]int{}
			engine := pipeline.New(opts)
			err := engine.GroupByKey([]string{in1, in2}, keyx.AuthorLowerFast(), 4,
				func(key string, lines []string) error {
					mu.Lock()
					got[key] += len(lines)
					mu.Unlock()
					return nil
				})
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(map[string]int{"alice": 2, "bob": 1, "carol": 1}))

			_, err = os.Stat(filepath.Join(opts.EnsureWorkDir(), "groupby"))
			Expect(os.IsNotExist(err)).To(BeTrue())
		})
	})

	Describe("ExportPartitionedByAuthor", func() {
		It("routes all of one author's records to the same partition", func() {
			writeFixture(filepath.Join(base, "comments"), "RC_2015-01.zst", []string{
				`{"id":"c1","subreddit":"golang","author":"alice","created_utc":1420070400,"body":"one"}`,
				`{"id":"c2","subreddit":"golang","author":"bob","created_utc":1420070500,"body":"two"}`,
				`{"id":"c3","subreddit":"golang","author":"alice","created_utc":1420070600,"body":"three"}`,
			})
			outDir := filepath.Join(base, "parts")

			engine := pipeline.New(opts.WithSources(config.SourcesComments).WithSubreddit("golang"))
			finals, err := engine.ExportPartitionedByAuthor(query.Spec{}, outDir, "by_author", 4)
			Expect(err).NotTo(HaveOccurred())
			Expect(finals).To(HaveLen(4))

			byAuthorPart := map[string][]int{}
			total := 0
			for i, p := range finals {
				for _, line := range readLines(p) {
					total++
					switch {
					case strings.Contains(line, `"alice"`):
						byAuthorPart["alice"] = append(byAuthorPart["alice"], i)
					case strings.Contains(line, `"bob"`):
						byAuthorPart["bob"] = append(byAuthorPart["bob"], i)
					}
				}
			}
			Expect(total).To(Equal(3))
			Expect(byAuthorPart["alice"]).To(HaveLen(2))
			Expect(byAuthorPart["alice"][0]).To(Equal(byAuthorPart["alice"][1]))

			_, err = os.Stat(filepath.Join(outDir, "_staging", "by_author_part_0000.inprogress"))
			Expect(os.IsNotExist(err)).To(BeTrue())
		})
	})
})
