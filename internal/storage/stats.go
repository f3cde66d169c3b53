package storage

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/prasad/loghub/internal/errkind"
	"github.com/prasad/loghub/internal/record"
)

// Stats computes aggregate counts over f's time/attribute filters: totals
// by level and source, a bucketed time distribution, and the error rate
// (error+fatal as a fraction of total).
func (s *Store) Stats(ctx context.Context, f Filter) (Stats, error) {
	total, err := s.countMatching(ctx, f)
	if err != nil {
		return Stats{}, err
	}

	byLevel, err := s.groupCount(ctx, f, "level")
	if err != nil {
		return Stats{}, err
	}
	byLevelNamed := make(map[string]int, len(byLevel))
	errorCount := 0
	for k, v := range byLevel {
		var lvl int
		if _, err := fmt.Sscanf(k, "%d", &lvl); err == nil {
			name := strings.ToLower(record.Level(lvl).String())
			byLevelNamed[name] = v
			if record.Level(lvl).AtLeast(record.LevelError) {
				errorCount += v
			}
		}
	}

	bySource, err := s.groupCount(ctx, f, "source")
	if err != nil {
		return Stats{}, err
	}

	dist, err := s.timeDistribution(ctx, f)
	if err != nil {
		return Stats{}, err
	}

	var errorRate float64
	if total > 0 {
		errorRate = float64(errorCount) / float64(total)
	}

	return Stats{
		TotalLogs:        total,
		ByLevel:          byLevelNamed,
		BySource:         bySource,
		TimeDistribution: dist,
		ErrorRate:        errorRate,
	}, nil
}

func (s *Store) countMatching(ctx context.Context, f Filter) (int, error) {
	q := buildWhereClause(statement.Select("COUNT(*)").From("logs"), f)
	querySQL, args, err := q.ToSql()
	if err != nil {
		return 0, errkind.New(errkind.Validation, err)
	}
	var total int
	if err := s.db.GetContext(ctx, &total, querySQL, args...); err != nil {
		return 0, errkind.New(errkind.StorageTransient, fmt.Errorf("storage: count: %w", err))
	}
	return total, nil
}

func (s *Store) groupCount(ctx context.Context, f Filter, column string) (map[string]int, error) {
	q := buildWhereClause(statement.Select(column, "COUNT(*) AS n").From("logs"), f)
	q = q.GroupBy(column)
	querySQL, args, err := q.ToSql()
	if err != nil {
		return nil, errkind.New(errkind.Validation, err)
	}

	rows, err := s.db.QueryxContext(ctx, querySQL, args...)
	if err != nil {
		return nil, errkind.New(errkind.StorageTransient, fmt.Errorf("storage: group by %s: %w", column, err))
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, errkind.New(errkind.StorageTransient, err)
		}
		out[key] = n
	}
	return out, rows.Err()
}

func (s *Store) timeDistribution(ctx context.Context, f Filter) ([]Bucket, error) {
	if f.Since == nil || f.Until == nil {
		return nil, nil
	}
	granularity := BucketGranularity(*f.Since, *f.Until)
	bucketMS := granularity.Milliseconds()

	q := buildWhereClause(
		statement.Select(fmt.Sprintf("(timestamp / %d) * %d AS bucket", bucketMS, bucketMS), "level", "COUNT(*) AS n").From("logs"),
		f,
	)
	q = q.GroupBy("bucket", "level").OrderBy("bucket ASC")
	querySQL, args, err := q.ToSql()
	if err != nil {
		return nil, errkind.New(errkind.Validation, err)
	}

	rows, err := s.db.QueryxContext(ctx, querySQL, args...)
	if err != nil {
		return nil, errkind.New(errkind.StorageTransient, fmt.Errorf("storage: time distribution: %w", err))
	}
	defer rows.Close()

	byBucket := map[int64]*Bucket{}
	var order []int64
	for rows.Next() {
		var bucketMillis int64
		var level, n int
		if err := rows.Scan(&bucketMillis, &level, &n); err != nil {
			return nil, errkind.New(errkind.StorageTransient, err)
		}
		b, ok := byBucket[bucketMillis]
		if !ok {
			b = &Bucket{Timestamp: msToTime(bucketMillis), ByLevel: map[string]int{}}
			byBucket[bucketMillis] = b
			order = append(order, bucketMillis)
		}
		b.Count += n
		b.ByLevel[strings.ToLower(record.Level(level).String())] += n
	}
	if err := rows.Err(); err != nil {
		return nil, errkind.New(errkind.StorageTransient, err)
	}

	buckets := make([]Bucket, len(order))
	for i, ms := range order {
		buckets[i] = *byBucket[ms]
	}
	return buckets, nil
}
