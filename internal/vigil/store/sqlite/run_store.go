package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dbpkg "github.com/BrandonDHaskell/Vigil/server/internal/db"
	"github.com/BrandonDHaskell/Vigil/server/internal/vigil/store"
)

type RunStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewRunStore(db *sql.DB, writer *dbpkg.Worker) *RunStore {
	return &RunStore{db: db, writer: writer}
}

func (s *RunStore) RecordRun(ctx context.Context, rec store.RunRecord) error {
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now().UTC()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = rec.FinishedAt
	}

	var reason, frameURL any
	if rec.Reason != "" {
		reason = rec.Reason
	}
	if rec.FrameURL != "" {
		frameURL = rec.FrameURL
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO capture_runs(
  run_id, started_at_ms, finished_at_ms, outcome, face_count, samples, reason, frame_url
) VALUES (?, ?, ?, ?, ?, ?, ?, ?);
`,
			rec.RunID, rec.StartedAt.UTC().UnixMilli(), rec.FinishedAt.UTC().UnixMilli(),
			rec.Outcome, rec.FaceCount, rec.Samples, reason, frameURL,
		); err != nil {
			return fmt.Errorf("RecordRun insert: %w", err)
		}
		return nil
	})
}

// PruneOlderThan deletes runs that started before cutoff.
func (s *RunStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoffMs := cutoff.UTC().UnixMilli()

	var deleted int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
DELETE FROM capture_runs
WHERE started_at_ms < ?;
`, cutoffMs)
		if err != nil {
			return fmt.Errorf("PruneOlderThan: %w", err)
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}

// Recent returns up to limit runs, newest first.
func (s *RunStore) Recent(ctx context.Context, limit int) ([]store.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT run_id, started_at_ms, finished_at_ms, outcome, face_count, samples,
       COALESCE(reason, ''), COALESCE(frame_url, '')
FROM capture_runs
ORDER BY started_at_ms DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("Recent query: %w", err)
	}
	defer rows.Close()

	var out []store.RunRecord
	for rows.Next() {
		var (
			rec                 store.RunRecord
			startedMs, finishMs int64
		)
		if err := rows.Scan(&rec.RunID, &startedMs, &finishMs, &rec.Outcome,
			&rec.FaceCount, &rec.Samples, &rec.Reason, &rec.FrameURL); err != nil {
			return nil, fmt.Errorf("Recent scan: %w", err)
		}
		rec.StartedAt = time.UnixMilli(startedMs).UTC()
		rec.FinishedAt = time.UnixMilli(finishMs).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}
