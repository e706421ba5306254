package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dbpkg "github.com/BrandonDHaskell/Vigil/server/internal/db"
	"github.com/BrandonDHaskell/Vigil/server/internal/vigil/store"
)

type AccessEventStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewAccessEventStore(db *sql.DB, writer *dbpkg.Worker) *AccessEventStore {
	return &AccessEventStore{db: db, writer: writer}
}

func (s *AccessEventStore) RecordEvent(ctx context.Context, rec store.AccessEventRecord) error {
	if rec.DecidedAt.IsZero() {
		rec.DecidedAt = time.Now().UTC()
	}

	var granted int
	if rec.Granted {
		granted = 1
	}

	// Only a full SHA-256 is stored; anything else is dropped to NULL.
	var codeHash any
	if len(rec.CodeHash) == 32 {
		codeHash = rec.CodeHash
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO access_events(
  method, code_hash, granted, reason, decided_at_ms
) VALUES (?, ?, ?, ?, ?);
`,
			rec.Method, codeHash, granted, rec.Reason, rec.DecidedAt.UTC().UnixMilli(),
		); err != nil {
			return fmt.Errorf("RecordEvent insert: %w", err)
		}
		return nil
	})
}
