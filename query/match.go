/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package query

import (
	"strings"

	"github.com/caldera-data/retl/rec"
)

// MatchesMinimal decides whether m passes the filter, using only fields on
// the minimal-record fast path (no full JSON parse). targets is the
// resolved subreddit allowlist — pass nil to accept any subreddit (a record
// with no subreddit field is still rejected).
func MatchesMinimal(m rec.Minimal, targets []string, q Spec) bool {
	if targets != nil {
		if m.Subreddit == nil {
			return false
		}
		if !binarySearch(targets, strings.ToLower(*m.Subreddit)) {
			return false
		}
	} else if m.Subreddit == nil {
		return false
	}

	if m.Author == nil {
		return false
	}
	aLow := strings.ToLower(*m.Author)
	if q.FilterPseudoUsers && (aLow == "[deleted]" || aLow == "[removed]" || aLow == "") {
		return false
	}
	if q.AuthorsOut != nil && binarySearch(q.AuthorsOut, aLow) {
		return false
	}
	if q.AuthorsIn != nil && !binarySearch(q.AuthorsIn, aLow) {
		return false
	}
	if q.AuthorRegex != nil && !q.AuthorRegex.MatchString(*m.Author) {
		return false
	}

	if q.MinScore != nil {
		if m.Score == nil || *m.Score < *q.MinScore {
			return false
		}
	}
	if q.MaxScore != nil {
		if m.Score == nil || *m.Score > *q.MaxScore {
			return false
		}
	}

	if q.DomainsIn != nil {
		if m.Domain == nil {
			return false
		}
		if !binarySearch(q.DomainsIn, strings.ToLower(*m.Domain)) {
			return false
		}
	}

	if q.KeywordsAny != nil {
		hay := lowerHaystack(m)
		found := false
		for _, kw := range q.KeywordsAny {
			if strings.Contains(hay, kw) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if q.ContainsURL != nil && *q.ContainsURL {
		hay := lowerHaystack(m)
		if !strings.Contains(hay, "http://") && !strings.Contains(hay, "https://") {
			return false
		}
	}

	return true
}

// MatchesSubredditBasic is the simple case-insensitive equality check used
// by the plain (non-query-mode) usernames operation.
func MatchesSubredditBasic(m rec.Minimal, subreddit string) bool {
	if m.Subreddit == nil {
		return false
	}
	return strings.EqualFold(*m.Subreddit, subreddit)
}

func lowerHaystack(m rec.Minimal) string {
	var b strings.Builder
	if m.Body != nil {
		b.WriteString(strings.ToLower(*m.Body))
		b.WriteByte(' ')
	}
	if m.Selftext != nil {
		b.WriteString(strings.ToLower(*m.Selftext))
		b.WriteByte(' ')
	}
	if m.Title != nil {
		b.WriteString(strings.ToLower(*m.Title))
		b.WriteByte(' ')
	}
	return b.String()
}

// ResolveTargetSubs picks the effective subreddit allowlist: the query's
// own list if set, else a single-subreddit default, else nil (all
// subreddits).
func ResolveTargetSubs(specSubs []string, defaultSub string) []string {
	var v []string
	switch {
	case specSubs != nil:
		v = append(v, specSubs...)
	case defaultSub != "":
		v = append(v, NormalizeSub(defaultSub))
	default:
		return nil
	}
	return sortDedupNormalized(v, func(s string) string { return s })
}
