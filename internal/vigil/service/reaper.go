package service

import (
	"context"
	"io"
	"log"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Vigil/server/internal/clock"
)

// Pruner is anything that can drop records older than a cutoff.
// *credential.Store and the run stores implement it.
type Pruner interface {
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// ReapTarget pairs a Pruner with how long its records are kept. A
// retention of 0 skips the target.
type ReapTarget struct {
	Name      string
	Pruner    Pruner
	Retention time.Duration
}

// Reaper periodically prunes expired credentials and old run history.
// It runs as a background goroutine until its context is cancelled or
// Stop is called.
type Reaper struct {
	targets  []ReapTarget
	interval time.Duration
	clock    clock.Clock
	logger   *log.Logger

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// NewReaper creates a reaper but does not start it. interval defaults to
// one minute.
func NewReaper(targets []ReapTarget, interval time.Duration, clk clock.Clock, logger *log.Logger) *Reaper {
	if interval <= 0 {
		interval = time.Minute
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	active := make([]ReapTarget, 0, len(targets))
	for _, t := range targets {
		if t.Pruner != nil && t.Retention > 0 {
			active = append(active, t)
		}
	}
	return &Reaper{
		targets:  active,
		interval: interval,
		clock:    clk,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start runs one pass immediately, then repeats every interval.
func (r *Reaper) Start(ctx context.Context) {
	if len(r.targets) == 0 {
		r.logger.Printf("reaper disabled (no retention configured)")
		close(r.done)
		return
	}

	ctx, r.cancel = context.WithCancel(ctx)
	go r.loop(ctx)

	r.logger.Printf("reaper started (targets=%d, interval=%s)", len(r.targets), r.interval)
}

// Stop signals the loop to exit and waits for it. Safe to call more than
// once.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() {
		if r.cancel != nil {
			r.cancel()
		}
	})
	<-r.done
}

func (r *Reaper) loop(ctx context.Context) {
	defer close(r.done)

	r.RunOnce(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce prunes every target once and returns the total removed.
func (r *Reaper) RunOnce(ctx context.Context) int64 {
	now := r.clock.Now()
	var total int64
	for _, t := range r.targets {
		cutoff := now.Add(-t.Retention)
		n, err := t.Pruner.PruneOlderThan(ctx, cutoff)
		if err != nil {
			r.logger.Printf("reaper %s error: %v", t.Name, err)
			continue
		}
		if n > 0 {
			r.logger.Printf("reaper %s: deleted %d older than %s", t.Name, n, cutoff.Format(time.RFC3339))
		}
		total += n
	}
	return total
}
