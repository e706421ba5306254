package sqlite_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"testing"
	"time"

	"github.com/BrandonDHaskell/Vigil/server/internal/vigil/store"
	sqlitestore "github.com/BrandonDHaskell/Vigil/server/internal/vigil/store/sqlite"
)

func TestAccessEventStore_RecordEvent_ColumnsCorrect(t *testing.T) {
	conn := openTestDB(t)
	as := sqlitestore.NewAccessEventStore(conn, newTestWriter(t, conn))

	now := time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC)
	hash := sha256.Sum256([]byte("482913"))

	err := as.RecordEvent(context.Background(), store.AccessEventRecord{
		Method:    "temp_code",
		CodeHash:  hash[:],
		Granted:   true,
		Reason:    "code_valid",
		DecidedAt: now,
	})
	if err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}

	var (
		method    string
		codeHash  []byte
		granted   int
		reason    string
		decidedMs int64
	)
	err = conn.QueryRowContext(context.Background(), `
SELECT method, code_hash, granted, reason, decided_at_ms FROM access_events;
`).Scan(&method, &codeHash, &granted, &reason, &decidedMs)
	if err != nil {
		t.Fatalf("select: %v", err)
	}

	if method != "temp_code" {
		t.Errorf("expected method=temp_code, got %q", method)
	}
	if !bytes.Equal(codeHash, hash[:]) {
		t.Error("expected stored code hash to match")
	}
	if granted != 1 {
		t.Errorf("expected granted=1, got %d", granted)
	}
	if reason != "code_valid" {
		t.Errorf("expected reason=code_valid, got %q", reason)
	}
	if decidedMs != now.UnixMilli() {
		t.Errorf("expected decided_at_ms=%d, got %d", now.UnixMilli(), decidedMs)
	}
}

func TestAccessEventStore_RecordEvent_ShortHashStoredAsNull(t *testing.T) {
	conn := openTestDB(t)
	as := sqlitestore.NewAccessEventStore(conn, newTestWriter(t, conn))

	err := as.RecordEvent(context.Background(), store.AccessEventRecord{
		Method:   "temp_code",
		CodeHash: []byte{1, 2, 3},
		Reason:   "code_invalid",
	})
	if err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}

	var (
		codeHash  []byte
		granted   int
		decidedMs sql.NullInt64
	)
	err = conn.QueryRowContext(context.Background(),
		`SELECT code_hash, granted, decided_at_ms FROM access_events;`,
	).Scan(&codeHash, &granted, &decidedMs)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if codeHash != nil {
		t.Errorf("expected NULL code_hash, got %v", codeHash)
	}
	if granted != 0 {
		t.Errorf("expected granted=0, got %d", granted)
	}
	if !decidedMs.Valid || decidedMs.Int64 == 0 {
		t.Error("expected decided_at_ms to be defaulted")
	}
}
