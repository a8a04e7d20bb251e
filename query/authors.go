/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package query

import (
	"bufio"
	"os"
	"sort"
	"strings"

	"github.com/caldera-data/retl/cmn/nlog"
)

// defaultBotAuthors is the hand-curated set of known bot accounts that
// DefaultBotAuthors returns; AuthorExclusions does not add it on its own.
var defaultBotAuthors = []string{
	"automoderator",
	"imguralbumbot",
	"autowikibot",
	"remindmebot",
	"totesmessenger",
	"tweet_poster",
	"video_link_bot",
	"gifvbot",
	"helper-bot",
	"github-actions[bot]",
	"slackbot",
	"discordbot",
}

// DefaultBotAuthors returns the normalized, deduplicated default exclusion
// list.
func DefaultBotAuthors() []string {
	return sortDedupNormalized(append([]string(nil), defaultBotAuthors...), NormalizeSub)
}

// AuthorExclusions returns base plus any extra entries from the
// ETL_EXCLUDE_AUTHORS (comma/semicolon/whitespace separated) and
// ETL_EXCLUDE_AUTHORS_FILE (newline separated) environment variables,
// normalized, sorted, and deduplicated.
func AuthorExclusions(base []string) []string {
	out := append([]string(nil), base...)

	if s, ok := os.LookupEnv("ETL_EXCLUDE_AUTHORS"); ok {
		for _, raw := range strings.FieldsFunc(s, func(r rune) bool {
			return r == ',' || r == ';' || r == ' ' || r == '\t' || r == '\n'
		}) {
			if n := NormalizeSub(raw); n != "" {
				out = append(out, n)
			}
		}
	}

	if path, ok := os.LookupEnv("ETL_EXCLUDE_AUTHORS_FILE"); ok && strings.TrimSpace(path) != "" {
		f, err := os.Open(path)
		if err != nil {
			nlog.Warningf("ETL_EXCLUDE_AUTHORS_FILE is set but cannot be opened: %s", path)
		} else {
			sc := bufio.NewScanner(f)
			for sc.Scan() {
				if n := NormalizeSub(sc.Text()); n != "" {
					out = append(out, n)
				}
			}
			f.Close()
		}
	}

	sort.Strings(out)
	return dedupSorted(out)
}
