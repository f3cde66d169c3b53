package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/prasad/loghub/internal/errkind"
	"github.com/prasad/loghub/internal/logging"
	"github.com/prasad/loghub/internal/record"
)

// Store is the durable append + indexed query + FTS + rollup-statistics
// engine. It is the single shared mutable resource in the system: written
// by the ingest pipeline and by direct synchronous RPC writes, read by
// any number of concurrent query callers.
type Store struct {
	db      *sqlx.DB
	fanout  chan []record.LogRecord
	maxBatch int
}

// New wraps an already-opened database handle (see Open) in a Store.
// fanoutBuffer sizes the channel the live-stream broker drains committed
// batches from.
func New(db *sqlx.DB, fanoutBuffer, maxBatch int) *Store {
	if maxBatch <= 0 {
		maxBatch = 500
	}
	if fanoutBuffer <= 0 {
		fanoutBuffer = 256
	}
	return &Store{
		db:       db,
		fanout:   make(chan []record.LogRecord, fanoutBuffer),
		maxBatch: maxBatch,
	}
}

// Fanout is the channel the broker consumes committed batches from.
// Only the write path ever sends on it.
func (s *Store) Fanout() <-chan []record.LogRecord { return s.fanout }

func (s *Store) Close() error { return s.db.Close() }

// Ping checks the database connection is alive, for system.health.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// TotalLogs reports the total record count across all stored logs, for
// system.status.
func (s *Store) TotalLogs(ctx context.Context) (int, error) {
	return s.countMatching(ctx, Filter{})
}

// DiskUsageBytes reports the on-disk size of the database file via
// sqlite's own page accounting, for system.status.
func (s *Store) DiskUsageBytes(ctx context.Context) (int64, error) {
	var pageCount, pageSize int64
	if err := s.db.GetContext(ctx, &pageCount, "PRAGMA page_count"); err != nil {
		return 0, errkind.New(errkind.StorageTransient, fmt.Errorf("storage: page_count: %w", err))
	}
	if err := s.db.GetContext(ctx, &pageSize, "PRAGMA page_size"); err != nil {
		return 0, errkind.New(errkind.StorageTransient, fmt.Errorf("storage: page_size: %w", err))
	}
	return pageCount * pageSize, nil
}

type dbRow struct {
	ID          int64          `db:"id"`
	Timestamp   int64          `db:"timestamp"`
	Level       int            `db:"level"`
	Source      string         `db:"source"`
	Message     string         `db:"message"`
	Metadata    string         `db:"metadata"`
	Tags        string         `db:"tags"`
	TraceID     sql.NullString `db:"trace_id"`
	CollectedAt sql.NullInt64  `db:"collected_at"`
	Collector   sql.NullString `db:"collector"`
}

func rowFromRecord(r record.LogRecord) (dbRow, error) {
	meta := r.Metadata
	if meta == nil {
		meta = record.Attrs{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return dbRow{}, fmt.Errorf("storage: marshalling metadata: %w", err)
	}
	tags := r.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return dbRow{}, fmt.Errorf("storage: marshalling tags: %w", err)
	}

	row := dbRow{
		Timestamp: r.Timestamp.UnixMilli(),
		Level:     int(r.Level),
		Source:    r.Source,
		Message:   r.Message,
		Metadata:  string(metaJSON),
		Tags:      string(tagsJSON),
	}
	if r.TraceID != nil {
		row.TraceID = sql.NullString{String: *r.TraceID, Valid: true}
	}
	if !r.CollectedAt.IsZero() {
		row.CollectedAt = sql.NullInt64{Int64: r.CollectedAt.UnixMilli(), Valid: true}
	}
	if r.Collector != "" {
		row.Collector = sql.NullString{String: r.Collector, Valid: true}
	}
	return row, nil
}

func recordFromRow(row dbRow) (record.LogRecord, error) {
	var meta record.Attrs
	if err := json.Unmarshal([]byte(row.Metadata), &meta); err != nil {
		return record.LogRecord{}, fmt.Errorf("storage: unmarshalling metadata: %w", err)
	}
	var tags []string
	if err := json.Unmarshal([]byte(row.Tags), &tags); err != nil {
		return record.LogRecord{}, fmt.Errorf("storage: unmarshalling tags: %w", err)
	}

	rec := record.LogRecord{
		ID:        row.ID,
		Timestamp: time.UnixMilli(row.Timestamp).UTC(),
		Level:     record.Level(row.Level),
		Source:    row.Source,
		Message:   row.Message,
		Metadata:  meta,
		Tags:      tags,
	}
	if row.TraceID.Valid {
		id := row.TraceID.String
		rec.TraceID = &id
	}
	if row.CollectedAt.Valid {
		rec.CollectedAt = time.UnixMilli(row.CollectedAt.Int64).UTC()
	}
	if row.Collector.Valid {
		rec.Collector = row.Collector.String
	}
	return rec, nil
}

// Write persists up to maxBatch records in a single transaction and
// assigns their ids. The whole batch fails atomically. On success the
// written (now id-bearing) records are published to Fanout for the live
// broker.
func (s *Store) Write(ctx context.Context, batch []record.LogRecord) ([]int64, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	if len(batch) > s.maxBatch {
		return nil, errkind.New(errkind.Validation, fmt.Errorf("storage: batch of %d exceeds max %d", len(batch), s.maxBatch))
	}

	log := logging.FromContext(ctx)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errkind.New(errkind.StorageTransient, fmt.Errorf("storage: begin tx: %w", err))
	}
	defer tx.Rollback()

	const insertSQL = `INSERT INTO logs (timestamp, level, source, message, metadata, tags, trace_id, collected_at, collector)
		VALUES (:timestamp, :level, :source, :message, :metadata, :tags, :trace_id, :collected_at, :collector)`

	ids := make([]int64, len(batch))
	written := make([]record.LogRecord, len(batch))
	for i, rec := range batch {
		row, err := rowFromRecord(rec)
		if err != nil {
			return nil, errkind.New(errkind.Validation, err)
		}

		res, err := tx.NamedExecContext(ctx, insertSQL, row)
		if err != nil {
			return nil, errkind.New(errkind.StorageTransient, fmt.Errorf("storage: insert: %w", err))
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, errkind.New(errkind.StorageTransient, fmt.Errorf("storage: last insert id: %w", err))
		}

		rec.ID = id
		ids[i] = id
		written[i] = rec
	}

	if err := tx.Commit(); err != nil {
		return nil, errkind.New(errkind.StorageTransient, fmt.Errorf("storage: commit: %w", err))
	}

	log.Debug().Int("count", len(written)).Msg("batch committed")

	select {
	case s.fanout <- written:
	default:
		// Broker is a secondary consumer; a full fanout channel must
		// never block the write path. The fanout channel is buffered
		// (New's fanoutBuffer, default 256) and the broker drains it
		// continuously, so this only triggers under sustained broker
		// stalls.
		log.Warn().Int("count", len(written)).Msg("fanout channel full, dropping live-stream batch")
	}

	return ids, nil
}
