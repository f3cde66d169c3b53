package sanitize

import "sync/atomic"

// Counters tracks sanitizer-side drop/redaction activity, exposed to
// system.status() and Prometheus.
type Counters struct {
	DroppedByFilter    atomic.Int64
	DroppedByRateLimit atomic.Int64
	Redacted           atomic.Int64
	Truncated          atomic.Int64
}

// Snapshot is an atomic point-in-time copy safe to hand to callers.
type Snapshot struct {
	DroppedByFilter    int64
	DroppedByRateLimit int64
	Redacted           int64
	Truncated          int64
}

func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		DroppedByFilter:    c.DroppedByFilter.Load(),
		DroppedByRateLimit: c.DroppedByRateLimit.Load(),
		Redacted:           c.Redacted.Load(),
		Truncated:          c.Truncated.Load(),
	}
}
