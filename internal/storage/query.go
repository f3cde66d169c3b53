package storage

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/prasad/loghub/internal/errkind"
	"github.com/prasad/loghub/internal/record"
)

var statement = sq.StatementBuilder.PlaceholderFormat(sq.Question)

const logColumns = "id, timestamp, level, source, message, metadata, tags, trace_id, collected_at, collector"

// buildWhereClause applies the attribute/time/trace portion of a Filter to
// a squirrel SelectBuilder. Shared by Query and Stats. Text/regex matching
// is layered on separately by each caller since plain Query goes through
// the FTS index while a regex query bypasses it with a windowed scan.
func buildWhereClause(query sq.SelectBuilder, f Filter) sq.SelectBuilder {
	if len(f.Sources) > 0 {
		query = query.Where(sq.Eq{"source": f.Sources})
	}
	if len(f.Levels) > 0 {
		ints := make([]int, len(f.Levels))
		for i, l := range f.Levels {
			ints[i] = int(l)
		}
		query = query.Where(sq.Eq{"level": ints})
	}
	if f.MinLevel != nil {
		query = query.Where(sq.GtOrEq{"level": int(*f.MinLevel)})
	}
	if f.Since != nil {
		query = query.Where(sq.GtOrEq{"timestamp": f.Since.UnixMilli()})
	}
	if f.Until != nil {
		query = query.Where(sq.Lt{"timestamp": f.Until.UnixMilli()})
	}
	if f.TraceID != "" {
		query = query.Where(sq.Eq{"trace_id": f.TraceID})
	}
	for _, tag := range f.TagAllOf {
		// tags is stored as a JSON array string; require each tag to
		// appear as a quoted JSON element rather than a raw substring.
		query = query.Where("tags LIKE ?", "%\""+tag+"\"%")
	}
	return query
}

// Query runs the attribute/time-filtered read path: intersecting
// Sources/Levels/MinLevel/Since/Until/TraceID/TagAllOf, optionally an FTS
// match when Text is set, bounded paging and a default order of
// timestamp DESC, id DESC.
func (s *Store) Query(ctx context.Context, f Filter) (Result, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	if f.Limit > MaxLimit {
		return Result{}, errkind.New(errkind.Validation, fmt.Errorf("storage: limit %d exceeds max %d", f.Limit, MaxLimit))
	}

	if isRegexExpr(f.Text) {
		return s.queryWithRegexScan(ctx, f)
	}

	base := statement.Select(logColumns).From("logs")
	base = buildWhereClause(base, f)
	if f.Text != "" {
		base = base.Where("id IN (SELECT rowid FROM logs_fts WHERE logs_fts MATCH ?)", ftsQuery(f.Text))
	}

	countQuery := statement.Select("COUNT(*)").From("logs")
	countQuery = buildWhereClause(countQuery, f)
	if f.Text != "" {
		countQuery = countQuery.Where("id IN (SELECT rowid FROM logs_fts WHERE logs_fts MATCH ?)", ftsQuery(f.Text))
	}

	var total int
	countSQL, countArgs, err := countQuery.ToSql()
	if err != nil {
		return Result{}, errkind.New(errkind.Validation, err)
	}
	if err := s.db.GetContext(ctx, &total, countSQL, countArgs...); err != nil {
		return Result{}, errkind.New(errkind.StorageTransient, fmt.Errorf("storage: count query: %w", err))
	}

	switch f.Order {
	case OrderTimestampAsc:
		base = base.OrderBy("timestamp ASC", "id ASC")
	default:
		base = base.OrderBy("timestamp DESC", "id DESC")
	}
	base = base.Limit(uint64(f.Limit)).Offset(uint64(f.Offset))

	querySQL, queryArgs, err := base.ToSql()
	if err != nil {
		return Result{}, errkind.New(errkind.Validation, err)
	}

	logs, err := s.fetchRows(ctx, querySQL, queryArgs...)
	if err != nil {
		return Result{}, err
	}

	return Result{Logs: logs, TotalMatches: total}, nil
}

// fetchRows runs a SELECT over the log columns and converts each row back
// to a record.LogRecord.
func (s *Store) fetchRows(ctx context.Context, querySQL string, args ...any) ([]record.LogRecord, error) {
	var rows []dbRow
	if err := s.db.SelectContext(ctx, &rows, querySQL, args...); err != nil {
		return nil, errkind.New(errkind.StorageTransient, fmt.Errorf("storage: select: %w", err))
	}
	logs := make([]record.LogRecord, len(rows))
	for i, row := range rows {
		rec, err := recordFromRow(row)
		if err != nil {
			return nil, errkind.New(errkind.StorageFatal, err)
		}
		logs[i] = rec
	}
	return logs, nil
}
