package storage

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/prasad/loghub/internal/errkind"
	"github.com/prasad/loghub/internal/record"
)

// maxRegexScanRows bounds how many rows a regex search will pull into
// memory before giving up and reporting an approximate result. Regex
// search bypasses the FTS index entirely, so it is the one read path that
// can't rely on SQLite to do the filtering.
const maxRegexScanRows = 50000

func isRegexExpr(text string) bool {
	return len(text) >= 2 && strings.HasPrefix(text, "/") && strings.HasSuffix(text, "/")
}

// ftsQuery turns free text into an FTS5 MATCH expression. Quoting the
// whole phrase means punctuation inside it (which FTS5's default tokenizer
// would otherwise choke on as query syntax) is treated literally.
func ftsQuery(text string) string {
	escaped := strings.ReplaceAll(text, `"`, `""`)
	return `"` + escaped + `"`
}

// queryWithRegexScan implements the regex form of Text ("/pattern/"): it
// applies every non-text filter in SQL, then scans the matching rows in Go
// against the compiled pattern. Since/Until narrow the scan; with or
// without a time bound the scan is capped at maxRegexScanRows, and the
// result is marked Approximate when that cap is reached.
func (s *Store) queryWithRegexScan(ctx context.Context, f Filter) (Result, error) {
	body := f.Text[1 : len(f.Text)-1]
	re, err := regexp.Compile(body)
	if err != nil {
		return Result{}, errkind.New(errkind.Validation, fmt.Errorf("storage: invalid regex %q: %w", body, err))
	}

	scanFilter := f
	scanFilter.Text = ""
	scanFilter.Limit = maxRegexScanRows
	scanFilter.Offset = 0

	base := statement.Select(logColumns).From("logs")
	base = buildWhereClause(base, scanFilter)
	switch f.Order {
	case OrderTimestampAsc:
		base = base.OrderBy("timestamp ASC", "id ASC")
	default:
		base = base.OrderBy("timestamp DESC", "id DESC")
	}
	base = base.Limit(uint64(maxRegexScanRows))

	querySQL, queryArgs, err := base.ToSql()
	if err != nil {
		return Result{}, errkind.New(errkind.Validation, err)
	}

	scanned, err := s.fetchRows(ctx, querySQL, queryArgs...)
	if err != nil {
		return Result{}, err
	}

	approximate := len(scanned) >= maxRegexScanRows

	matched := make([]record.LogRecord, 0, len(scanned))
	for _, rec := range scanned {
		if re.MatchString(rec.Message) {
			matched = append(matched, rec)
		}
	}

	total := len(matched)
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	start := f.Offset
	if start > len(matched) {
		start = len(matched)
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}

	return Result{Logs: matched[start:end], TotalMatches: total, Approximate: approximate}, nil
}

// Search runs a full-text or regex search with optional highlighted
// fragments, scoped to an optional time range. Highlights are produced
// only when opts.Highlight is set, as the matched text wrapped in
// <mark>…</mark>; no match offsets are reported.
func (s *Store) Search(ctx context.Context, text string, opts SearchOptions) (SearchResult, error) {
	start := time.Now()

	f := Filter{Text: text, Limit: opts.MaxResults}
	if opts.Regex && !isRegexExpr(text) {
		f.Text = "/" + text + "/"
	}
	if opts.TimeRange != nil {
		since := opts.TimeRange.Since
		until := opts.TimeRange.Until
		f.Since = &since
		f.Until = &until
	}

	result, err := s.Query(ctx, f)
	if err != nil {
		return SearchResult{}, err
	}

	sr := SearchResult{
		Logs:         result.Logs,
		TotalMatches: result.TotalMatches,
		SearchTimeMS: time.Since(start).Milliseconds(),
	}

	if opts.Highlight {
		needle := text
		if isRegexExpr(f.Text) {
			needle = f.Text[1 : len(f.Text)-1]
		}
		sr.Highlights = highlightAll(result.Logs, needle, opts.Regex || isRegexExpr(f.Text), opts.CaseSensitive)
	}

	return sr, nil
}

func highlightAll(logs []record.LogRecord, needle string, isRegex, caseSensitive bool) []Highlight {
	var highlights []Highlight

	if isRegex {
		re, err := regexp.Compile(needle)
		if err != nil {
			return nil
		}
		for _, rec := range logs {
			if loc := re.FindStringIndex(rec.Message); loc != nil {
				highlights = append(highlights, Highlight{
					RecordID:        rec.ID,
					HighlightedText: wrapHighlight(rec.Message, loc[0], loc[1]),
				})
			}
		}
		return highlights
	}

	haystack := func(s string) string { return s }
	target := needle
	if !caseSensitive {
		haystack = strings.ToLower
		target = strings.ToLower(needle)
	}
	for _, rec := range logs {
		idx := strings.Index(haystack(rec.Message), target)
		if idx < 0 {
			continue
		}
		highlights = append(highlights, Highlight{
			RecordID:        rec.ID,
			HighlightedText: wrapHighlight(rec.Message, idx, idx+len(needle)),
		})
	}
	return highlights
}

// wrapHighlight wraps the [start,end) byte range of msg in <mark> tags,
// snapping both edges outward to the nearest UTF-8 rune boundary so a
// multi-byte character is never split.
func wrapHighlight(msg string, start, end int) string {
	for start > 0 && isUTF8Continuation(msg[start]) {
		start--
	}
	for end < len(msg) && isUTF8Continuation(msg[end]) {
		end++
	}
	return msg[:start] + "<mark>" + msg[start:end] + "</mark>" + msg[end:]
}

// isUTF8Continuation reports whether b is a non-leading byte of a
// multi-byte UTF-8 sequence (the 10xxxxxx pattern).
func isUTF8Continuation(b byte) bool {
	return b&0xC0 == 0x80
}
