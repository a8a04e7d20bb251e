// Package query implements the record filter DSL: subreddit/author/score/
// keyword/domain/URL predicates evaluated against the minimal-record fast
// path, plus the bot-author exclusion list.
/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package query

import (
	"regexp"
	"sort"
	"strings"
)

// Spec is a filter over comment/submission records. Every string list is
// normalized to lowercase and sorted for binary-search matching; build one
// directly and call Normalize before use.
type Spec struct {
	Subreddits        []string
	AuthorsIn         []string
	AuthorsOut        []string
	AuthorRegex       *regexp.Regexp
	MinScore          *int64
	MaxScore          *int64
	KeywordsAny       []string
	DomainsIn         []string
	ContainsURL       *bool
	FilterPseudoUsers bool
}

// NormalizeSub lowercases a subreddit name and strips a leading "r/".
func NormalizeSub(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimPrefix(s, "r/")
}

// Normalize returns a copy of s with every string list lowercased, trimmed,
// sorted, and deduped; s itself is left unchanged.
func (s Spec) Normalize() Spec {
	s.Subreddits = sortDedupNormalized(s.Subreddits, NormalizeSub)
	s.AuthorsIn = sortDedupNormalized(s.AuthorsIn, NormalizeSub)
	s.AuthorsOut = sortDedupNormalized(s.AuthorsOut, NormalizeSub)
	s.KeywordsAny = sortDedupNormalized(s.KeywordsAny, lowerTrim)
	s.DomainsIn = sortDedupNormalized(s.DomainsIn, lowerTrim)
	return s
}

func lowerTrim(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func sortDedupNormalized(in []string, norm func(string) string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = norm(s)
	}
	sort.Strings(out)
	return dedupSorted(out)
}

func dedupSorted(sorted []string) []string {
	if len(sorted) == 0 {
		return sorted
	}
	out := sorted[:1]
	for _, s := range sorted[1:] {
		if s != out[len(out)-1] {
			out = append(out, s)
		}
	}
	return out
}

func binarySearch(sorted []string, target string) bool {
	i := sort.SearchStrings(sorted, target)
	return i < len(sorted) && sorted[i] == target
}
