// Package main is the retl command-line entry point: one subcommand per
// engine operation, flags shared across them where it makes sense.
/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/caldera-data/retl/cmn/cos"
	"github.com/caldera-data/retl/cmn/nlog"
	"github.com/caldera-data/retl/internal/config"
	"github.com/caldera-data/retl/internal/metrics"
	"github.com/caldera-data/retl/pipeline"
	"github.com/caldera-data/retl/query"
	"github.com/caldera-data/retl/rec"
	"github.com/caldera-data/retl/shard"
)

const helpMsg = `Usage:
	retl <command> [flags]

Commands:
	usernames          stream deduped authors matching a subreddit/query
	count-by-month     tally matching records per calendar month
	extract            stitch matching records into one JSONL or JSON-array file
	spool              write matching records into monthly part files
	export-partitioned re-export the corpus as per-month JSONL or zstd files
	author-counts      write "author\tcount" TSV rows
	first-seen         write "author\tearliest_created_utc" TSV rows
	parent-join        spool, collect parent ids, resolve, and attach parents

Examples:
	retl usernames -base-dir /data/reddit -subreddit golang
	retl count-by-month -base-dir /data/reddit -subreddit golang -start 2015-01 -end 2015-12
	retl extract -base-dir /data/reddit -subreddit golang -format jsonl
	retl parent-join -base-dir /data/reddit -subreddit golang -out-dir /tmp/joined

Run "retl <command> -h" for command-specific flags.
`

// commonFlags are accepted by every subcommand; they build an
// internal/config.Options via the builder pattern.
type commonFlags struct {
	baseDir     string
	subreddit   string
	sources     string
	start, end  string
	shards      int
	workDir     string
	concurrency int
	readBuf     int
	writeBuf    int
	humanTS     bool
	whitelist   string
	metricsAddr string
	logDir      string
}

func addCommonFlags(fs *flag.FlagSet, c *commonFlags) {
	fs.StringVar(&c.baseDir, "base-dir", "", "corpus root; comments/ and submissions/ subdirectories are scanned")
	fs.StringVar(&c.subreddit, "subreddit", "", "single subreddit to match (ignored if -subreddits is set on commands that accept it)")
	fs.StringVar(&c.sources, "sources", "both", "comments, submissions, or both")
	fs.StringVar(&c.start, "start", "", "inclusive start month, YYYY-MM")
	fs.StringVar(&c.end, "end", "", "inclusive end month, YYYY-MM")
	fs.IntVar(&c.shards, "shards", 256, "dedup/reduce shard count")
	fs.StringVar(&c.workDir, "work-dir", "", "scratch directory (default: <base-dir>/.retl_work)")
	fs.IntVar(&c.concurrency, "concurrency", 1, "files scanned in parallel")
	fs.IntVar(&c.readBuf, "read-buf", 256*1024, "read buffer bytes per file")
	fs.IntVar(&c.writeBuf, "write-buf", 256*1024, "write buffer bytes per output")
	fs.BoolVar(&c.humanTS, "human-timestamps", false, "format created_utc/retrieved_on/edited as RFC-3339 instead of epoch seconds")
	fs.StringVar(&c.whitelist, "whitelist", "", "comma-separated output field whitelist (extract/spool/parent-join and jsonl export-partitioned only)")
	fs.StringVar(&c.metricsAddr, "metrics-addr", "", "if set, serve Prometheus /metrics on this address (e.g. :9090)")
	fs.StringVar(&c.logDir, "log-dir", "", "if set, also append logs to <log-dir>/retl.<date>.log")
	nlog.InitFlags(fs)
}

func (c *commonFlags) options() (config.Options, error) {
	if c.baseDir == "" {
		return config.Options{}, fmt.Errorf("-base-dir is required")
	}
	if _, err := os.Stat(c.baseDir); err != nil {
		return config.Options{}, cos.NewErrNotFound("base directory %s", c.baseDir)
	}
	if c.logDir != "" {
		nlog.SetLogDirRole(c.logDir, "retl")
	}
	opts := config.Default().WithBaseDir(c.baseDir)
	if c.subreddit != "" {
		opts = opts.WithSubreddit(c.subreddit)
	}

	src, err := parseSources(c.sources)
	if err != nil {
		return config.Options{}, err
	}
	opts = opts.WithSources(src)

	start, end, err := parseDateRange(c.start, c.end)
	if err != nil {
		return config.Options{}, err
	}
	opts = opts.WithDateRange(start, end)

	opts = opts.WithShardCount(c.shards)
	opts = opts.WithWorkDir(c.workDir)
	opts = opts.WithFileConcurrency(c.concurrency)
	opts = opts.WithIOBuffers(c.readBuf, c.writeBuf)
	opts = opts.WithHumanTimestamps(c.humanTS)
	if c.whitelist != "" {
		opts = opts.WithWhitelistFields(splitCSV(c.whitelist))
	}
	return opts, nil
}

func parseSources(s string) (config.Sources, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "both":
		return config.SourcesBoth, nil
	case "comments":
		return config.SourcesComments, nil
	case "submissions":
		return config.SourcesSubmissions, nil
	default:
		return 0, fmt.Errorf("-sources: expected comments, submissions, or both, got %q", s)
	}
}

func parseDateRange(start, end string) (*rec.YearMonth, *rec.YearMonth, error) {
	var lo, hi *rec.YearMonth
	if start != "" {
		ym, err := rec.ParseYearMonth(start)
		if err != nil {
			return nil, nil, fmt.Errorf("-start: %w", err)
		}
		lo = &ym
	}
	if end != "" {
		ym, err := rec.ParseYearMonth(end)
		if err != nil {
			return nil, nil, fmt.Errorf("-end: %w", err)
		}
		hi = &ym
	}
	return lo, hi, nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// querySpecFlags extends commonFlags with the record filter DSL, shared by
// every subcommand that actually filters records beyond the single
// -subreddit shortcut.
type querySpecFlags struct {
	subreddits   string
	authorsIn    string
	authorsOut   string
	authorRegex  string
	minScore     string
	maxScore     string
	keywordsAny  string
	domainsIn    string
	containsURL  bool
	filterPseudo bool
}

func addQuerySpecFlags(fs *flag.FlagSet, q *querySpecFlags) {
	fs.StringVar(&q.subreddits, "subreddits", "", "comma-separated subreddit allowlist (overrides -subreddit)")
	fs.StringVar(&q.authorsIn, "authors-in", "", "comma-separated author allowlist")
	fs.StringVar(&q.authorsOut, "authors-out", "", "comma-separated author denylist")
	fs.StringVar(&q.authorRegex, "author-regex", "", "regular expression the author must match")
	fs.StringVar(&q.minScore, "min-score", "", "minimum score (inclusive)")
	fs.StringVar(&q.maxScore, "max-score", "", "maximum score (inclusive)")
	fs.StringVar(&q.keywordsAny, "keywords-any", "", "comma-separated keywords; record matches if any appear in body/selftext/title")
	fs.StringVar(&q.domainsIn, "domains-in", "", "comma-separated domain allowlist (submissions)")
	fs.BoolVar(&q.containsURL, "contains-url", false, "require body/selftext/title to contain a URL")
	fs.BoolVar(&q.filterPseudo, "filter-pseudo-users", false, "exclude [deleted]/[removed]/empty authors")
}

func (q *querySpecFlags) spec() (query.Spec, error) {
	var spec query.Spec
	if q.subreddits != "" {
		spec.Subreddits = splitCSV(q.subreddits)
	}
	if q.authorsIn != "" {
		spec.AuthorsIn = splitCSV(q.authorsIn)
	}
	if q.authorsOut != "" {
		spec.AuthorsOut = splitCSV(q.authorsOut)
	}
	if q.authorRegex != "" {
		re, err := regexp.Compile(q.authorRegex)
		if err != nil {
			return query.Spec{}, fmt.Errorf("-author-regex: %w", err)
		}
		spec.AuthorRegex = re
	}
	if q.minScore != "" {
		n, err := strconv.ParseInt(q.minScore, 10, 64)
		if err != nil {
			return query.Spec{}, fmt.Errorf("-min-score: %w", err)
		}
		spec.MinScore = &n
	}
	if q.maxScore != "" {
		n, err := strconv.ParseInt(q.maxScore, 10, 64)
		if err != nil {
			return query.Spec{}, fmt.Errorf("-max-score: %w", err)
		}
		spec.MaxScore = &n
	}
	if q.keywordsAny != "" {
		spec.KeywordsAny = splitCSV(q.keywordsAny)
	}
	if q.domainsIn != "" {
		spec.DomainsIn = splitCSV(q.domainsIn)
	}
	if q.containsURL {
		v := true
		spec.ContainsURL = &v
	}
	spec.FilterPseudoUsers = q.filterPseudo
	return spec.Normalize(), nil
}

func maybeServeMetrics(addr string) {
	if addr != "" {
		metrics.ServeHTTP(addr)
		nlog.Infof("serving metrics on %s", addr)
	}
}

var commands = map[string]func(args []string) error{
	"usernames":          runUsernames,
	"count-by-month":     runCountByMonth,
	"extract":            runExtract,
	"spool":              runSpool,
	"export-partitioned": runExportPartitioned,
	"author-counts":      runAuthorCounts,
	"first-seen":         runFirstSeen,
	"parent-join":        runParentJoin,
}

func main() {
	if len(os.Args) < 2 || strings.Contains(os.Args[1], "help") || os.Args[1] == "-h" {
		fmt.Print(helpMsg)
		os.Exit(0)
	}
	run, ok := commands[os.Args[1]]
	if !ok {
		cos.Exitf("unknown command %q\n\n%s", os.Args[1], helpMsg)
	}
	err := run(os.Args[2:])
	nlog.Flush()
	if err != nil {
		cos.Exitf("%s: %v", os.Args[1], err)
	}
}

func runUsernames(args []string) error {
	fs := flag.NewFlagSet("usernames", flag.ExitOnError)
	var c commonFlags
	var q querySpecFlags
	addCommonFlags(fs, &c)
	addQuerySpecFlags(fs, &q)
	fs.Parse(args)

	opts, err := c.options()
	if err != nil {
		return err
	}
	maybeServeMetrics(c.metricsAddr)
	engine := pipeline.New(opts)

	spec, err := q.spec()
	if err != nil {
		return err
	}

	var stream *shard.LineStream
	if isZeroSpec(q) {
		stream, err = engine.UsernamesSimple(opts.Subreddit)
	} else {
		stream, err = engine.Usernames(spec)
	}
	if err != nil {
		return err
	}
	defer stream.Close()

	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()
	for {
		line, ok := stream.Next()
		if !ok {
			break
		}
		if _, err := w.WriteString(line); err != nil {
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return stream.Err()
}

func runCountByMonth(args []string) error {
	fs := flag.NewFlagSet("count-by-month", flag.ExitOnError)
	var c commonFlags
	var q querySpecFlags
	addCommonFlags(fs, &c)
	addQuerySpecFlags(fs, &q)
	fs.Parse(args)

	opts, err := c.options()
	if err != nil {
		return err
	}
	maybeServeMetrics(c.metricsAddr)
	spec, err := q.spec()
	if err != nil {
		return err
	}

	engine := pipeline.New(opts)
	counts, err := engine.CountByMonth(spec)
	if err != nil {
		return err
	}

	months := make([]rec.YearMonth, 0, len(counts))
	for ym := range counts {
		months = append(months, ym)
	}
	sortYearMonths(months)
	for _, ym := range months {
		fmt.Printf("%s\t%d\n", ym, counts[ym])
	}
	return nil
}

func runExtract(args []string) error {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	var c commonFlags
	var q querySpecFlags
	var format string
	var pretty bool
	addCommonFlags(fs, &c)
	addQuerySpecFlags(fs, &q)
	fs.StringVar(&format, "format", "jsonl", "jsonl or json (a single JSON array)")
	fs.BoolVar(&pretty, "pretty", false, "pretty-print each record (json format only)")
	fs.Parse(args)

	opts, err := c.options()
	if err != nil {
		return err
	}
	maybeServeMetrics(c.metricsAddr)
	spec, err := q.spec()
	if err != nil {
		return err
	}

	engine := pipeline.New(opts)
	var out string
	switch strings.ToLower(format) {
	case "jsonl":
		out, err = engine.ExtractToJSONL(spec)
	case "json":
		out, err = engine.ExtractToJSONArray(spec, pretty)
	default:
		return fmt.Errorf("-format: expected jsonl or json, got %q", format)
	}
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func runSpool(args []string) error {
	fs := flag.NewFlagSet("spool", flag.ExitOnError)
	var c commonFlags
	var q querySpecFlags
	var outDir string
	addCommonFlags(fs, &c)
	addQuerySpecFlags(fs, &q)
	fs.StringVar(&outDir, "out-dir", "", "directory to write part_RC_*/part_RS_* files into")
	fs.Parse(args)

	if outDir == "" {
		return fmt.Errorf("-out-dir is required")
	}
	opts, err := c.options()
	if err != nil {
		return err
	}
	maybeServeMetrics(c.metricsAddr)
	spec, err := q.spec()
	if err != nil {
		return err
	}

	engine := pipeline.New(opts)
	parts, n, err := engine.ExtractSpoolMonthly(spec, outDir)
	if err != nil {
		return err
	}
	nlog.Infof("wrote %d records across %d part files", n, len(parts))
	return nil
}

func runExportPartitioned(args []string) error {
	fs := flag.NewFlagSet("export-partitioned", flag.ExitOnError)
	var c commonFlags
	var q querySpecFlags
	var outDir, format string
	addCommonFlags(fs, &c)
	addQuerySpecFlags(fs, &q)
	fs.StringVar(&outDir, "out-dir", "", "directory to write comments/ and submissions/ subdirectories into")
	fs.StringVar(&format, "format", "jsonl", "jsonl or zstd")
	fs.Parse(args)

	if outDir == "" {
		return fmt.Errorf("-out-dir is required")
	}
	opts, err := c.options()
	if err != nil {
		return err
	}
	maybeServeMetrics(c.metricsAddr)
	spec, err := q.spec()
	if err != nil {
		return err
	}

	var pf pipeline.ExportFormat
	switch strings.ToLower(format) {
	case "jsonl":
		pf = pipeline.FormatJSONL
	case "zstd":
		pf = pipeline.FormatZstd
	default:
		return fmt.Errorf("-format: expected jsonl or zstd, got %q", format)
	}

	engine := pipeline.New(opts)
	return engine.ExportPartitioned(spec, outDir, pf)
}

func runAuthorCounts(args []string) error {
	fs := flag.NewFlagSet("author-counts", flag.ExitOnError)
	var c commonFlags
	var q querySpecFlags
	var out string
	addCommonFlags(fs, &c)
	addQuerySpecFlags(fs, &q)
	fs.StringVar(&out, "out", "", "output TSV path")
	fs.Parse(args)

	if out == "" {
		return fmt.Errorf("-out is required")
	}
	opts, err := c.options()
	if err != nil {
		return err
	}
	maybeServeMetrics(c.metricsAddr)
	spec, err := q.spec()
	if err != nil {
		return err
	}

	engine := pipeline.New(opts)
	return engine.AuthorCountsToTSV(spec, out)
}

func runFirstSeen(args []string) error {
	fs := flag.NewFlagSet("first-seen", flag.ExitOnError)
	var c commonFlags
	var q querySpecFlags
	var out string
	addCommonFlags(fs, &c)
	addQuerySpecFlags(fs, &q)
	fs.StringVar(&out, "out", "", "output TSV path")
	fs.Parse(args)

	if out == "" {
		return fmt.Errorf("-out is required")
	}
	opts, err := c.options()
	if err != nil {
		return err
	}
	maybeServeMetrics(c.metricsAddr)
	spec, err := q.spec()
	if err != nil {
		return err
	}

	engine := pipeline.New(opts)
	return engine.FirstSeenIndexToTSV(spec, out)
}

func runParentJoin(args []string) error {
	fs := flag.NewFlagSet("parent-join", flag.ExitOnError)
	var c commonFlags
	var q querySpecFlags
	var outDir string
	var resume bool
	addCommonFlags(fs, &c)
	addQuerySpecFlags(fs, &q)
	fs.StringVar(&outDir, "out-dir", "", "directory to write spooled and attached output into")
	fs.BoolVar(&resume, "resume", false, "skip parent-join outputs that already exist")
	fs.Parse(args)

	if outDir == "" {
		return fmt.Errorf("-out-dir is required")
	}
	// parent-join needs parent_id/link_id/id to survive spooling regardless
	// of what the caller asked to whitelist.
	if len(c.whitelist) > 0 {
		fields := splitCSV(c.whitelist)
		for _, need := range []string{"parent_id", "link_id", "id"} {
			if !contains(fields, need) {
				fields = append(fields, need)
			}
		}
		c.whitelist = strings.Join(fields, ",")
	}
	opts, err := c.options()
	if err != nil {
		return err
	}
	maybeServeMetrics(c.metricsAddr)
	spec, err := q.spec()
	if err != nil {
		return err
	}

	engine := pipeline.New(opts.WithResume(resume))
	result, err := engine.ParentJoin(spec, outDir)
	if err != nil {
		return err
	}
	nlog.Infof("parent-join: %d records spooled, %d comment parts attached, %d submission parts",
		result.RecordsWritten, len(result.CommentPartsWithParent), len(result.SubmissionParts))
	return nil
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

func isZeroSpec(q querySpecFlags) bool {
	return q.subreddits == "" && q.authorsIn == "" && q.authorsOut == "" && q.authorRegex == "" &&
		q.minScore == "" && q.maxScore == "" && q.keywordsAny == "" && q.domainsIn == "" &&
		!q.containsURL && !q.filterPseudo
}

func sortYearMonths(ms []rec.YearMonth) {
	sort.Slice(ms, func(i, j int) bool { return ms[i].Less(ms[j]) })
}
