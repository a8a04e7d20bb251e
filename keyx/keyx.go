// Package keyx provides reusable key extractors with fast-paths for the
// common Reddit fields, plus JSON-pointer and caller-supplied variants, used
// everywhere a shard router, bucketer, or sort-merge stage needs a grouping
// key.
/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package keyx

import (
	"strings"

	"github.com/caldera-data/retl/rec"
)

// Extractor pulls a grouping key either from a raw JSONL line (preferring a
// fast minimal-record parse) or from an already-decoded value.
type Extractor interface {
	KeyFromLine(line string) (string, bool)
	KeyFromValue(v map[string]any) (string, bool)
}

type authorLowerFast struct{}

func AuthorLowerFast() Extractor { return authorLowerFast{} }

func (authorLowerFast) KeyFromLine(line string) (string, bool) {
	m, err := rec.ParseMinimal(line)
	if err != nil || m.Author == nil {
		return "", false
	}
	return strings.ToLower(*m.Author), true
}

func (authorLowerFast) KeyFromValue(v map[string]any) (string, bool) {
	return stringField(v, "author")
}

type subredditLowerFast struct{}

func SubredditLowerFast() Extractor { return subredditLowerFast{} }

func (subredditLowerFast) KeyFromLine(line string) (string, bool) {
	m, err := rec.ParseMinimal(line)
	if err != nil || m.Subreddit == nil {
		return "", false
	}
	return strings.ToLower(*m.Subreddit), true
}

func (subredditLowerFast) KeyFromValue(v map[string]any) (string, bool) {
	return stringField(v, "subreddit")
}

// jsonPointer implements the subset of RFC 6901 the query/key layer needs:
// a "/"-separated path of object field names (no array indices).
type jsonPointer struct{ parts []string }

func JSONPointer(ptr string) Extractor {
	ptr = strings.TrimPrefix(ptr, "/")
	var parts []string
	if ptr != "" {
		parts = strings.Split(ptr, "/")
	}
	return jsonPointer{parts: parts}
}

func (p jsonPointer) KeyFromLine(line string) (string, bool) {
	v, err := rec.ParseFull(line)
	if err != nil {
		return "", false
	}
	return p.KeyFromValue(v)
}

func (p jsonPointer) KeyFromValue(v map[string]any) (string, bool) {
	cur := any(v)
	for _, part := range p.parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return "", false
		}
		cur, ok = m[part]
		if !ok {
			return "", false
		}
	}
	s, ok := cur.(string)
	return s, ok
}

// byValue adapts a caller closure over a decoded value. KeyFromLine falls
// back to a full JSON parse since the closure may need any field.
type byValue struct {
	f func(map[string]any) (string, bool)
}

func ByValue(f func(map[string]any) (string, bool)) Extractor { return byValue{f: f} }

func (b byValue) KeyFromLine(line string) (string, bool) {
	v, err := rec.ParseFull(line)
	if err != nil {
		return "", false
	}
	return b.f(v)
}

func (b byValue) KeyFromValue(v map[string]any) (string, bool) { return b.f(v) }

func stringField(v map[string]any, field string) (string, bool) {
	raw, ok := v[field]
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	if !ok {
		return "", false
	}
	return strings.ToLower(s), true
}
