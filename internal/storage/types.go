package storage

import (
	"time"

	"github.com/prasad/loghub/internal/record"
)

// Order is the result ordering for Query.
type Order string

const (
	OrderTimestampDesc Order = "timestamp_desc"
	OrderTimestampAsc  Order = "timestamp_asc"
)

const MaxLimit = 10000

// Filter is the query surface accepted by Query: all fields are
// optional and combine with AND semantics.
type Filter struct {
	Sources   []string
	Levels    []record.Level
	MinLevel  *record.Level
	Since     *time.Time
	Until     *time.Time
	TraceID   string
	TagAllOf  []string
	Text      string // FTS query, or "/regex/" form
	Limit     int
	Offset    int
	Order     Order
}

// Result is the outcome of Query.
type Result struct {
	Logs         []record.LogRecord `json:"logs"`
	TotalMatches int                `json:"total_matches"`
	Approximate  bool               `json:"approximate"`
}

// SearchOptions controls Search behaviour: full-text or regex matching
// over the message body, with optional highlighted fragments.
type SearchOptions struct {
	TimeRange     *TimeRange
	Highlight     bool
	MaxResults    int
	CaseSensitive bool
	Regex         bool
}

// Highlight is a single matched fragment.
type Highlight struct {
	RecordID        int64  `json:"record_id"`
	HighlightedText string `json:"highlighted_text"`
}

// SearchResult is the outcome of Search.
type SearchResult struct {
	Logs         []record.LogRecord `json:"logs"`
	Highlights   []Highlight        `json:"highlights,omitempty"`
	TotalMatches int                `json:"total_matches"`
	SearchTimeMS int64              `json:"search_time_ms"`
}

// TimeRange is an absolute [Since, Until) window. Relative forms ("15m",
// "24h") are resolved into one by the query package against the wall
// clock when the request is handled.
type TimeRange struct {
	Since time.Time
	Until time.Time
}

// Bucket is one point in a stats time-distribution series.
type Bucket struct {
	Timestamp time.Time      `json:"ts"`
	Count     int            `json:"count"`
	ByLevel   map[string]int `json:"by_level"`
}

// Stats is the outcome of the Stats endpoint.
type Stats struct {
	TotalLogs        int            `json:"total_logs"`
	ByLevel          map[string]int `json:"by_level"`
	BySource         map[string]int `json:"by_source"`
	TimeDistribution []Bucket       `json:"time_distribution"`
	ErrorRate        float64        `json:"error_rate"`
}
