/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package pipeline_test

import (
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/caldera-data/retl/internal/config"
	"github.com/caldera-data/retl/pipeline"
	"github.com/caldera-data/retl/query"
	"github.com/caldera-data/retl/rec"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

// The 2006-01 fixture: two submissions and three comments in r/programming,
// wired so every filter dimension (bots, pseudo-users, keywords, URLs,
// scores, domains, parents) has exactly one interesting record.
var _ = Describe("tiny-corpus scenarios", func() {
	var base string
	var opts config.Options

	collect := func(stream interface {
		Next() (string, bool)
		Err() error
	}) []string {
		var got []string
		for {
			line, ok := stream.Next()
			if !ok {
				break
			}
			got = append(got, line)
		}
		Expect(stream.Err()).NotTo(HaveOccurred())
		return got
	}

	BeforeEach(func() {
		var err error
		base, err = os.MkdirTemp("", "seed-test-*")
		Expect(err).NotTo(HaveOccurred())

		writeFixture(filepath.Join(base, "submissions"), "RS_2006-01.zst", []string{
			`{"id":"s1","author":"bob","domain":"example.com","title":"Rust news","subreddit":"programming","score":183,"created_utc":1136073600}`,
			`{"id":"s2","author":"AutoModerator","domain":"nytimes.com","subreddit":"programming","score":1,"created_utc":1136073601}`,
		})
		writeFixture(filepath.Join(base, "comments"), "RC_2006-01.zst", []string{
			`{"id":"c1","author":"alice","subreddit":"programming","score":5,"created_utc":1136073602,"body":"I love Rust http://rust-lang.org","parent_id":"t3_s1","link_id":"t3_s1"}`,
			`{"id":"c2","author":"charlie","subreddit":"programming","score":1,"created_utc":1136073603,"body":"me too","parent_id":"t1_c1","link_id":"t3_s1"}`,
			`{"id":"c3","author":"[deleted]","subreddit":"programming","score":1,"created_utc":1136073604,"body":"gone","parent_id":"t3_s1","link_id":"t3_s1"}`,
		})

		opts = config.Default().
			WithBaseDir(base).
			WithSubreddit("programming").
			WithSources(config.SourcesBoth).
			WithDateRange(ymPtr(2006, 1), ymPtr(2006, 1)).
			WithShardCount(4).
			WithFileConcurrency(2)
	})

	AfterEach(func() { os.RemoveAll(base) })

	It("streams usernames with bots and pseudo-users excluded", func() {
		engine := pipeline.New(opts)
		stream, err := engine.Usernames(query.Spec{
			AuthorsOut:        query.DefaultBotAuthors(),
			FilterPseudoUsers: true,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(collect(stream)).To(ConsistOf("alice", "bob", "charlie"))
	})

	It("counts by month under keyword, URL, and min-score filters", func() {
		engine := pipeline.New(opts)
		truth := true
		counts, err := engine.CountByMonth(query.Spec{
			KeywordsAny: []string{"rust"},
			ContainsURL: &truth,
			MinScore:    i64(2),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(counts).To(Equal(map[rec.YearMonth]uint64{rec.NewYearMonth(2006, 1): 1}))
	})

	It("streams only the matching submission's author under a domain filter", func() {
		engine := pipeline.New(opts)
		stream, err := engine.Usernames(query.Spec{DomainsIn: []string{"nytimes.com"}})
		Expect(err).NotTo(HaveOccurred())
		Expect(collect(stream)).To(ConsistOf("automoderator"))
	})

	It("spools, resolves, and attaches parents end to end", func() {
		wide := opts.WithDateRange(ymPtr(2005, 12), ymPtr(2006, 2))
		engine := pipeline.New(wide)
		outDir := filepath.Join(base, "joined")

		result, err := engine.ParentJoin(query.Spec{}, outDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.RecordsWritten).To(Equal(uint64(5)))
		Expect(result.CommentPartsWithParent).To(HaveLen(1))
		Expect(result.SubmissionParts).To(HaveLen(1))

		total := 0
		parents := map[string]map[string]any{}
		for _, p := range append(append([]string(nil), result.CommentPartsWithParent...), result.SubmissionParts...) {
			for _, line := range readLines(p) {
				total++
				var v map[string]any
				Expect(jsoniter.UnmarshalFromString(line, &v)).To(Succeed())
				id, _ := v["id"].(string)
				if parent, ok := v["parent"].(map[string]any); ok {
					parents[id] = parent
				}
			}
		}
		Expect(total).To(Equal(5))

		Expect(parents["c1"]).To(Equal(map[string]any{
			"kind": "submission", "id": "s1", "title": "Rust news", "selftext": "",
		}))
		Expect(parents["c2"]).To(Equal(map[string]any{
			"kind": "comment", "id": "c1", "body": "I love Rust http://rust-lang.org",
		}))
		Expect(parents["c3"]).To(Equal(map[string]any{
			"kind": "submission", "id": "s1", "title": "Rust news", "selftext": "",
		}))
	})

	It("writes one author-count row per non-bot, non-pseudo author", func() {
		engine := pipeline.New(opts)
		outPath := filepath.Join(base, "author_counts.tsv")
		err := engine.AuthorCountsToTSV(query.Spec{
			AuthorsOut:        query.DefaultBotAuthors(),
			FilterPseudoUsers: true,
		}, outPath)
		Expect(err).NotTo(HaveOccurred())

		rows := readLines(outPath)
		got := map[string]string{}
		for _, r := range rows {
			k, v, ok := strings.Cut(r, "\t")
			Expect(ok).To(BeTrue())
			got[k] = v
		}
		Expect(got).To(Equal(map[string]string{"alice": "1", "bob": "1", "charlie": "1"}))
	})
})

func i64(v int64) *int64 { return &v }
