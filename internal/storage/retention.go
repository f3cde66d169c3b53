package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/prasad/loghub/internal/errkind"
	"github.com/prasad/loghub/internal/logging"
)

// RetentionPolicy bounds how much the store keeps: rows older than
// MaxAge, or - once the database file exceeds MaxSizeMB - the oldest rows
// until it fits again. Age is checked first; size is a backstop against a
// burst that outruns the age cutoff.
type RetentionPolicy struct {
	MaxAge    time.Duration
	MaxSizeMB int
}

// RunRetention deletes rows older than policy.MaxAge, then - if the
// database file is still over policy.MaxSizeMB - deletes the oldest
// remaining rows in batches until it fits. It prunes rows only; the FTS
// index shrinks via its own delete triggers rather than a full rebuild, so
// retention cost doesn't scale with total index size.
func (s *Store) RunRetention(ctx context.Context, policy RetentionPolicy) (int64, error) {
	log := logging.FromContext(ctx)
	var totalDeleted int64

	if policy.MaxAge > 0 {
		cutoff := time.Now().Add(-policy.MaxAge).UnixMilli()
		res, err := s.db.ExecContext(ctx, "DELETE FROM logs WHERE timestamp < ?", cutoff)
		if err != nil {
			return totalDeleted, errkind.New(errkind.StorageTransient, fmt.Errorf("storage: age retention: %w", err))
		}
		n, _ := res.RowsAffected()
		totalDeleted += n
		if n > 0 {
			log.Info().Int64("deleted", n).Msg("retention: age-based prune")
		}
	}

	if policy.MaxSizeMB > 0 {
		n, err := s.pruneToSize(ctx, int64(policy.MaxSizeMB)*1024*1024)
		if err != nil {
			return totalDeleted, err
		}
		totalDeleted += n
		if n > 0 {
			log.Info().Int64("deleted", n).Msg("retention: size-based prune")
		}
	}

	return totalDeleted, nil
}

const retentionSizeBatch = 1000

func (s *Store) pruneToSize(ctx context.Context, maxBytes int64) (int64, error) {
	var deleted int64
	for {
		size, err := s.databaseSizeBytes(ctx)
		if err != nil {
			return deleted, err
		}
		if size <= maxBytes {
			return deleted, nil
		}

		res, err := s.db.ExecContext(ctx, `DELETE FROM logs WHERE id IN (SELECT id FROM logs ORDER BY timestamp ASC, id ASC LIMIT ?)`, retentionSizeBatch)
		if err != nil {
			return deleted, errkind.New(errkind.StorageTransient, fmt.Errorf("storage: size retention: %w", err))
		}
		n, _ := res.RowsAffected()
		deleted += n
		if n == 0 {
			// Nothing left to delete but still over budget; further
			// shrinkage would need VACUUM, which retention doesn't run
			// inline.
			return deleted, nil
		}
	}
}

// databaseSizeBytes reports the bytes held by in-use pages. Pages freed by
// DELETE stay in the file (on the freelist) until a VACUUM, so they are
// subtracted; otherwise pruneToSize would never see the size go down.
func (s *Store) databaseSizeBytes(ctx context.Context) (int64, error) {
	var pageCount, freelistCount, pageSize int64
	if err := s.db.GetContext(ctx, &pageCount, "PRAGMA page_count"); err != nil {
		return 0, errkind.New(errkind.StorageTransient, err)
	}
	if err := s.db.GetContext(ctx, &freelistCount, "PRAGMA freelist_count"); err != nil {
		return 0, errkind.New(errkind.StorageTransient, err)
	}
	if err := s.db.GetContext(ctx, &pageSize, "PRAGMA page_size"); err != nil {
		return 0, errkind.New(errkind.StorageTransient, err)
	}
	return (pageCount - freelistCount) * pageSize, nil
}

// Scheduler runs RunRetention on a cron schedule until Stop is called.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler registers a retention job at spec and returns a Scheduler
// that hasn't started yet; call Start to begin running it.
func NewScheduler(store *Store, policy RetentionPolicy, spec string) (*Scheduler, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		log := logging.For("retention")
		if _, err := store.RunRetention(ctx, policy); err != nil {
			log.Error().Err(err).Msg("retention run failed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("storage: invalid retention schedule %q: %w", spec, err)
	}
	return &Scheduler{cron: c}, nil
}

func (s *Scheduler) Start() { s.cron.Start() }

func (s *Scheduler) Stop() { s.cron.Stop() }
