package store

import (
	"context"
	"time"
)

// RunRecord is one capture pipeline run, kept for the owner's history
// view and for tuning the face threshold.
type RunRecord struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Outcome    string // notified | condition_not_met | notify_failed | timed_out
	FaceCount  int
	Samples    int
	Reason     string
	FrameURL   string
}

// RunStore persists pipeline runs as an append-only log.
type RunStore interface {
	RecordRun(ctx context.Context, rec RunRecord) error
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// AccessEventRecord captures one one-time code verification. The code
// itself is never stored, only its SHA-256.
type AccessEventRecord struct {
	Method    string // "temp_code"
	CodeHash  []byte
	Granted   bool
	Reason    string
	DecidedAt time.Time
}

// AccessEventStore persists verification attempts as an append-only
// audit log.
type AccessEventStore interface {
	RecordEvent(ctx context.Context, rec AccessEventRecord) error
}
