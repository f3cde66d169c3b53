package ingest

import "sync/atomic"

// Counters tracks pipeline-level outcomes, separate from the sanitizer's
// own counters so a caller can tell a buffer-overflow drop from a
// drop-pattern or rate-limit drop.
type Counters struct {
	Accepted     atomic.Int64
	DroppedBuffer atomic.Int64
	DeadLettered atomic.Int64
	WriteRetries atomic.Int64
}

type Snapshot struct {
	Accepted      int64
	DroppedBuffer int64
	DeadLettered  int64
	WriteRetries  int64
}

func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Accepted:      c.Accepted.Load(),
		DroppedBuffer: c.DroppedBuffer.Load(),
		DeadLettered:  c.DeadLettered.Load(),
		WriteRetries:  c.WriteRetries.Load(),
	}
}
