// Package ingest is the buffered path a collected record takes between
// being accepted and landing in storage: a bounded channel, per-source
// monotonic timestamp correction, sanitization, batched writes with
// retry, and a dead-letter fallback when retries are exhausted.
package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/prasad/loghub/internal/logging"
	"github.com/prasad/loghub/internal/metrics"
	"github.com/prasad/loghub/internal/record"
	"github.com/prasad/loghub/internal/sanitize"
	"github.com/prasad/loghub/internal/storage"
)

// Config controls buffering, batching and retry behaviour. Zero values
// are replaced with the defaults below.
type Config struct {
	BufferSize       int
	MaxBatch         int
	FlushInterval    time.Duration
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	RetryMaxAttempts int
	SubmitDeadline   time.Duration
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = 10000
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = 500
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 50 * time.Millisecond
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 100 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 5 * time.Second
	}
	if c.RetryMaxAttempts <= 0 {
		c.RetryMaxAttempts = 5
	}
	if c.SubmitDeadline <= 0 {
		c.SubmitDeadline = 100 * time.Millisecond
	}
	return c
}

// Pipeline owns the ingest buffer and the single goroutine that drains it
// into storage. It carries collector-sourced records; direct API writes
// (log.write/log.writeBatch in rpcserver) go to the Store synchronously
// without passing through it.
type Pipeline struct {
	cfg        Config
	buffer     chan record.LogRecord
	sanitizer  *sanitize.Sanitizer
	store      *storage.Store
	deadLetter *DeadLetterWriter
	counters   Counters

	tsMu          sync.Mutex
	lastTimestamp map[string]time.Time
}

func New(cfg Config, sanitizer *sanitize.Sanitizer, store *storage.Store, deadLetter *DeadLetterWriter) *Pipeline {
	cfg = cfg.withDefaults()
	return &Pipeline{
		cfg:           cfg,
		buffer:        make(chan record.LogRecord, cfg.BufferSize),
		sanitizer:     sanitizer,
		store:         store,
		deadLetter:    deadLetter,
		lastTimestamp: make(map[string]time.Time),
	}
}

func (p *Pipeline) Counters() *Counters { return &p.counters }

// QueueDepth reports how many records are currently buffered, for
// system.health.
func (p *Pipeline) QueueDepth() int { return len(p.buffer) }

// QueueCapacity reports the configured buffer size.
func (p *Pipeline) QueueCapacity() int { return cap(p.buffer) }

// SubmitDeadline reports how long Submit blocks a producer waiting for
// buffer room before falling back to drop-oldest.
func (p *Pipeline) SubmitDeadline() time.Duration { return p.cfg.SubmitDeadline }

// Outcome reports how Submit admitted a record.
type Outcome struct {
	// Busy is set when the buffer stayed full for the whole configurable
	// deadline, forcing the oldest queued record to be dropped to make
	// room for rec. The caller's record is still accepted; Busy is a
	// non-error signal that the pipeline is under sustained pressure.
	Busy bool
}

// Submit enqueues rec, re-stamping its timestamp to stay monotonic per
// source. If the buffer is full, Submit blocks the caller up to
// SubmitDeadline waiting for room; if the deadline passes first, the
// oldest queued record is dropped to make room and Outcome.Busy is set.
// A drop is reported via Outcome, never as an error — the only error
// Submit returns is ctx cancellation.
func (p *Pipeline) Submit(ctx context.Context, rec record.LogRecord) (Outcome, error) {
	rec = p.stampMonotonic(rec)

	select {
	case p.buffer <- rec:
		p.counters.Accepted.Add(1)
		metrics.IngestAccepted.WithLabelValues(rec.Source).Inc()
		return Outcome{}, nil
	default:
	}

	timer := time.NewTimer(p.cfg.SubmitDeadline)
	defer timer.Stop()

	select {
	case p.buffer <- rec:
		p.counters.Accepted.Add(1)
		metrics.IngestAccepted.WithLabelValues(rec.Source).Inc()
		return Outcome{}, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	case <-timer.C:
	}

	select {
	case <-p.buffer:
		p.counters.DroppedBuffer.Add(1)
		metrics.IngestDroppedBuffer.Inc()
	default:
	}

	select {
	case p.buffer <- rec:
		p.counters.Accepted.Add(1)
		metrics.IngestAccepted.WithLabelValues(rec.Source).Inc()
	default:
		p.counters.DroppedBuffer.Add(1)
		metrics.IngestDroppedBuffer.Inc()
	}
	return Outcome{Busy: true}, nil
}

// stampMonotonic ensures consecutive records from the same source never
// regress in timestamp, so paging and bucket ordering stay stable even
// when a collector's clock jitters or two records arrive with an
// identical wall-clock reading.
func (p *Pipeline) stampMonotonic(rec record.LogRecord) record.LogRecord {
	p.tsMu.Lock()
	defer p.tsMu.Unlock()

	last, ok := p.lastTimestamp[rec.Source]
	if ok && !rec.Timestamp.After(last) {
		rec.Timestamp = last.Add(time.Nanosecond)
	}
	p.lastTimestamp[rec.Source] = rec.Timestamp
	return rec
}

// Run drains the buffer into size- or time-bounded batches until ctx is
// cancelled, then flushes whatever remains.
func (p *Pipeline) Run(ctx context.Context) {
	log := logging.For("ingest")
	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]record.LogRecord, 0, p.cfg.MaxBatch)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		p.flush(ctx, batch)
		batch = make([]record.LogRecord, 0, p.cfg.MaxBatch)
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			log.Info().Msg("ingest pipeline stopped")
			return
		case rec := <-p.buffer:
			batch = append(batch, rec)
			if len(batch) >= p.cfg.MaxBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// flush sanitizes and writes one batch, retrying the storage write with
// exponential backoff before falling back to the dead-letter file.
func (p *Pipeline) flush(ctx context.Context, batch []record.LogRecord) {
	log := logging.For("ingest")

	sanitized := make([]record.LogRecord, 0, len(batch))
	for _, rec := range batch {
		out, outcome := p.sanitizer.Apply(rec)
		if outcome.Dropped {
			continue
		}
		sanitized = append(sanitized, out)
	}
	if len(sanitized) == 0 {
		return
	}

	start := time.Now()
	err := p.writeWithRetry(ctx, sanitized)
	metrics.IngestBatchWriteDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		log.Error().Err(err).Int("count", len(sanitized)).Msg("batch write failed after retries, dead-lettering")
		if p.deadLetter != nil {
			if dlErr := p.deadLetter.Write(sanitized); dlErr != nil {
				log.Error().Err(dlErr).Msg("dead-letter write failed, records lost")
			} else {
				p.counters.DeadLettered.Add(int64(len(sanitized)))
				metrics.IngestDeadLettered.Add(float64(len(sanitized)))
			}
		}
	}
}

func (p *Pipeline) writeWithRetry(ctx context.Context, batch []record.LogRecord) error {
	delay := p.cfg.RetryBaseDelay
	var lastErr error
	for attempt := 0; attempt < p.cfg.RetryMaxAttempts; attempt++ {
		if attempt > 0 {
			p.counters.WriteRetries.Add(1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
			if delay > p.cfg.RetryMaxDelay {
				delay = p.cfg.RetryMaxDelay
			}
		}
		if _, err := p.store.Write(ctx, batch); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}
