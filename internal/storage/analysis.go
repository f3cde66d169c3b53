package storage

import (
	"context"
	"math"
	"regexp"
	"sort"

	"github.com/prasad/loghub/internal/errkind"
	"github.com/prasad/loghub/internal/record"
)

// PerformanceGroup is one method/path bucket of a Performance report.
type PerformanceGroup struct {
	Group   string  `json:"group"`
	Count   int     `json:"count"`
	P50MS   float64 `json:"p50_ms"`
	P95MS   float64 `json:"p95_ms"`
	P99MS   float64 `json:"p99_ms"`
}

// Performance summarizes duration_ms metadata grouped by the given
// attribute key (typically "method" or "path"). Records without a numeric
// duration_ms are ignored.
func (s *Store) Performance(ctx context.Context, f Filter, groupByKey string) ([]PerformanceGroup, error) {
	logs, err := s.scanForAnalysis(ctx, f)
	if err != nil {
		return nil, err
	}

	byGroup := map[string][]float64{}
	for _, rec := range logs {
		dur, ok := numericMeta(rec.Metadata, "duration_ms")
		if !ok {
			continue
		}
		group, _ := rec.Metadata[groupByKey].(string)
		if group == "" {
			group = "unknown"
		}
		byGroup[group] = append(byGroup[group], dur)
	}

	groups := make([]PerformanceGroup, 0, len(byGroup))
	for group, durations := range byGroup {
		sort.Float64s(durations)
		groups = append(groups, PerformanceGroup{
			Group: group,
			Count: len(durations),
			P50MS: percentile(durations, 0.50),
			P95MS: percentile(durations, 0.95),
			P99MS: percentile(durations, 0.99),
		})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Group < groups[j].Group })
	return groups, nil
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func numericMeta(meta record.Attrs, key string) (float64, bool) {
	if meta == nil {
		return 0, false
	}
	switch v := meta[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// ErrorCluster groups error/fatal records by a normalized message
// template, so "conn refused to 10.0.0.5:5432" and "conn refused to
// 10.0.0.9:5432" collapse into one cluster.
type ErrorCluster struct {
	Template string `json:"template"`
	Count    int    `json:"count"`
	Sample   string `json:"sample"`
}

var (
	reDigits = regexp.MustCompile(`\d+`)
	reHex    = regexp.MustCompile(`0x[0-9a-fA-F]+`)
	reUUID   = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)
)

func normalizeTemplate(msg string) string {
	msg = reUUID.ReplaceAllString(msg, "<uuid>")
	msg = reHex.ReplaceAllString(msg, "<hex>")
	msg = reDigits.ReplaceAllString(msg, "<n>")
	return msg
}

// Errors clusters error-and-above records by normalized template and
// returns the topK most frequent clusters, descending by count.
func (s *Store) Errors(ctx context.Context, f Filter, topK int) ([]ErrorCluster, error) {
	errLevel := record.LevelError
	scoped := f
	scoped.MinLevel = &errLevel
	return s.clusterByTemplate(ctx, scoped, topK)
}

// Patterns clusters records of any level by normalized template,
// surfacing recurring message shapes rather than just failures.
func (s *Store) Patterns(ctx context.Context, f Filter, topK int) ([]ErrorCluster, error) {
	return s.clusterByTemplate(ctx, f, topK)
}

func (s *Store) clusterByTemplate(ctx context.Context, f Filter, topK int) ([]ErrorCluster, error) {
	logs, err := s.scanForAnalysis(ctx, f)
	if err != nil {
		return nil, err
	}

	byTemplate := map[string]*ErrorCluster{}
	var order []string
	for _, rec := range logs {
		tmpl := normalizeTemplate(rec.Message)
		c, ok := byTemplate[tmpl]
		if !ok {
			c = &ErrorCluster{Template: tmpl, Sample: rec.Message}
			byTemplate[tmpl] = c
			order = append(order, tmpl)
		}
		c.Count++
	}

	clusters := make([]ErrorCluster, len(order))
	for i, tmpl := range order {
		clusters[i] = *byTemplate[tmpl]
	}
	sort.Slice(clusters, func(i, j int) bool { return clusters[i].Count > clusters[j].Count })
	if topK > 0 && len(clusters) > topK {
		clusters = clusters[:topK]
	}
	return clusters, nil
}

// TrendPoint is one bucket of a Trends series.
type TrendPoint struct {
	Bucket
	MovingAverage float64 `json:"moving_average"`
}

// Trends buckets matching records by BucketGranularity(f.Since, f.Until)
// and overlays a simple moving average (window 3) to smooth noise.
func (s *Store) Trends(ctx context.Context, f Filter) ([]TrendPoint, error) {
	buckets, err := s.timeDistribution(ctx, f)
	if err != nil {
		return nil, err
	}
	return movingAverage(buckets, 3), nil
}

func movingAverage(buckets []Bucket, window int) []TrendPoint {
	points := make([]TrendPoint, len(buckets))
	for i, b := range buckets {
		lo := i - window + 1
		if lo < 0 {
			lo = 0
		}
		sum := 0
		for j := lo; j <= i; j++ {
			sum += buckets[j].Count
		}
		points[i] = TrendPoint{Bucket: b, MovingAverage: float64(sum) / float64(i-lo+1)}
	}
	return points
}

// Anomaly flags a bucket whose count deviates from the series mean by at
// least 3 standard deviations.
type Anomaly struct {
	Bucket
	ZScore float64 `json:"z_score"`
}

// Anomalies runs a z-score pass over the bucketed counts for f's range and
// returns buckets with |z| >= 3. A series of fewer than 2 buckets has no
// defined variance and returns no anomalies.
func (s *Store) Anomalies(ctx context.Context, f Filter) ([]Anomaly, error) {
	buckets, err := s.timeDistribution(ctx, f)
	if err != nil {
		return nil, err
	}
	if len(buckets) < 2 {
		return nil, nil
	}

	mean, stddev := meanAndStddev(buckets)
	if stddev == 0 {
		return nil, nil
	}

	var anomalies []Anomaly
	for _, b := range buckets {
		z := (float64(b.Count) - mean) / stddev
		if math.Abs(z) >= 3 {
			anomalies = append(anomalies, Anomaly{Bucket: b, ZScore: z})
		}
	}
	return anomalies, nil
}

func meanAndStddev(buckets []Bucket) (mean, stddev float64) {
	n := float64(len(buckets))
	var sum float64
	for _, b := range buckets {
		sum += float64(b.Count)
	}
	mean = sum / n

	var sumSq float64
	for _, b := range buckets {
		d := float64(b.Count) - mean
		sumSq += d * d
	}
	stddev = math.Sqrt(sumSq / n)
	return mean, stddev
}

// scanForAnalysis fetches the rows matching f's non-text filters, oldest
// first and at most MaxLimit of them, for in-process aggregation that SQL
// alone can't express (percentiles, template clustering). Callers scope f
// with a time range; the MaxLimit cap applies with or without one.
func (s *Store) scanForAnalysis(ctx context.Context, f Filter) ([]record.LogRecord, error) {
	f.Limit = MaxLimit
	f.Offset = 0
	base := buildWhereClause(statement.Select(logColumns).From("logs"), f)
	base = base.OrderBy("timestamp ASC", "id ASC").Limit(MaxLimit)

	querySQL, args, err := base.ToSql()
	if err != nil {
		return nil, errkind.New(errkind.Validation, err)
	}
	logs, err := s.fetchRows(ctx, querySQL, args...)
	if err != nil {
		return nil, err
	}
	return logs, nil
}
