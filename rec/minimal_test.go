/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package rec_test

import (
	"github.com/caldera-data/retl/rec"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("ParseMinimal", func() {
	It("projects known fields and ignores unknown ones", func() {
		line := `{"subreddit":"golang","author":"gopher1","id":"c1","parent_id":"t3_s1","link_id":"t3_s1","body":"hello","score":3,"created_utc":1609459200,"ups":9}`
		m, err := rec.ParseMinimal(line)
		Expect(err).NotTo(HaveOccurred())
		Expect(*m.Subreddit).To(Equal("golang"))
		Expect(*m.Author).To(Equal("gopher1"))
		Expect(*m.ParentID).To(Equal("t3_s1"))
		Expect(*m.Score).To(Equal(int64(3)))
	})

	It("leaves absent fields nil rather than erroring", func() {
		m, err := rec.ParseMinimal(`{"id":"c1"}`)
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Author).To(BeNil())
		Expect(*m.ID).To(Equal("c1"))
	})

	It("errors on malformed JSON so the caller can skip the line", func() {
		_, err := rec.ParseMinimal(`{"id":`)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("YearMonth", func() {
	It("formats as YYYY-MM and parses back", func() {
		ym := rec.NewYearMonth(2015, 1)
		Expect(ym.String()).To(Equal("2015-01"))
		parsed, err := rec.ParseYearMonth("2015-01")
		Expect(err).NotTo(HaveOccurred())
		Expect(parsed).To(Equal(ym))
	})

	It("rolls Next over a year boundary", func() {
		ym := rec.NewYearMonth(2015, 12)
		next, ok := ym.Next()
		Expect(ok).To(BeTrue())
		Expect(next).To(Equal(rec.NewYearMonth(2016, 1)))
	})

	It("iterates an inclusive range in order", func() {
		var got []string
		rec.IterYearMonths(rec.NewYearMonth(2015, 11), rec.NewYearMonth(2016, 1), func(ym rec.YearMonth) bool {
			got = append(got, ym.String())
			return true
		})
		Expect(got).To(Equal([]string{"2015-11", "2015-12", "2016-01"}))
	})

	It("iterates nothing when start is after end", func() {
		var n int
		rec.IterYearMonths(rec.NewYearMonth(2016, 1), rec.NewYearMonth(2015, 11), func(rec.YearMonth) bool {
			n++
			return true
		})
		Expect(n).To(Equal(0))
	})
})
