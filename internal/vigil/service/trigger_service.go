package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BrandonDHaskell/Vigil/server/internal/clock"
	"github.com/BrandonDHaskell/Vigil/server/internal/vigil/gate"
	"github.com/BrandonDHaskell/Vigil/server/internal/vigil/pipeline"
	"github.com/BrandonDHaskell/Vigil/server/internal/vigil/store"
	"github.com/BrandonDHaskell/Vigil/server/internal/vigil/types"
)

// outcomeTimedOut is recorded when the watchdog released the gate before
// the run returned.
const outcomeTimedOut = "timed_out"

// Runner is the gated capture job.
type Runner interface {
	Run(ctx context.Context) pipeline.Outcome
}

type TriggerConfig struct {
	// RunTimeout bounds a whole pipeline run. 0 disables the deadline and
	// a hung source then holds the gate until restart.
	RunTimeout time.Duration
	// ReleaseGrace is how long after the deadline the watchdog waits for
	// the run to unwind before freeing the gate anyway. Default 5s.
	ReleaseGrace time.Duration
}

type TriggerService struct {
	gate     *gate.Gate
	runner   Runner
	runs     store.RunStore
	recorder Recorder
	clock    clock.Clock
	logger   *log.Logger
	cfg      TriggerConfig

	wg sync.WaitGroup
}

type TriggerDependencies struct {
	Gate     *gate.Gate
	Runner   Runner
	Runs     store.RunStore
	Recorder Recorder
	Clock    clock.Clock
	Logger   *log.Logger
	Config   TriggerConfig
}

func NewTriggerService(d TriggerDependencies) *TriggerService {
	if d.Gate == nil {
		d.Gate = &gate.Gate{}
	}
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Logger == nil {
		d.Logger = log.New(io.Discard, "", 0)
	}
	if d.Config.ReleaseGrace <= 0 {
		d.Config.ReleaseGrace = 5 * time.Second
	}
	return &TriggerService{
		gate:     d.Gate,
		runner:   d.Runner,
		runs:     d.Runs,
		recorder: orNop(d.Recorder),
		clock:    d.Clock,
		logger:   d.Logger,
		cfg:      d.Config,
	}
}

// Submit admits a capture run if none is in flight and returns at once.
// The run itself continues on its own goroutine; the caller only ever
// learns accepted or busy.
func (s *TriggerService) Submit(_ context.Context, req types.TriggerRequest) (types.TriggerResponse, error) {
	now := s.clock.Now()

	release, err := s.gate.TryEnter()
	if errors.Is(err, gate.ErrBusy) {
		s.recorder.Trigger(types.TriggerBusy)
		s.logger.Printf("trigger ignored: capture in progress (device=%q)", req.Device)
		return types.TriggerResponse{
			Status:     types.TriggerBusy,
			Message:    "still processing previous request",
			ServerTime: now.Format(time.RFC3339Nano),
		}, nil
	}
	if err != nil {
		return types.TriggerResponse{}, err
	}

	runID := uuid.NewString()
	s.recorder.Trigger(types.TriggerAccepted)
	s.logger.Printf("trigger accepted run=%s device=%q action=%q", runID, req.Device, req.Action)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer release()
		s.run(runID, release)
	}()

	return types.TriggerResponse{
		Status:     types.TriggerAccepted,
		Message:    "trigger received, face detection in progress",
		ServerTime: now.Format(time.RFC3339Nano),
	}, nil
}

func (s *TriggerService) run(runID string, release func()) {
	started := s.clock.Now()

	ctx := context.Background()
	cancel := context.CancelFunc(func() {})
	if s.cfg.RunTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
	}
	defer cancel()

	done := make(chan pipeline.Outcome, 1)
	go func() { done <- s.safeRun(ctx) }()

	var out pipeline.Outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		select {
		case out = <-done:
		case <-s.clock.After(s.cfg.ReleaseGrace):
			s.recorder.ForcedRelease()
			s.logger.Printf("run=%s overran %s; releasing capture gate with run still active", runID, s.cfg.RunTimeout)
			release()
			s.record(runID, started, pipeline.Outcome{
				Reason: fmt.Sprintf("run exceeded %s", s.cfg.RunTimeout),
			}, outcomeTimedOut)
			// The abandoned run is no longer waited on by Close.
			go func() {
				late := <-done
				s.logger.Printf("run=%s finished late: %s", runID, late)
			}()
			return
		}
	}

	s.logger.Printf("run=%s finished: %s faces=%d/%d", runID, out, out.FaceCount, len(out.Samples))
	s.record(runID, started, out, string(out.Kind))
}

func (s *TriggerService) safeRun(ctx context.Context) (out pipeline.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = pipeline.Outcome{Kind: pipeline.NotifyFailed, Reason: fmt.Sprintf("pipeline panic: %v", r), Selected: -1}
		}
	}()
	return s.runner.Run(ctx)
}

// record writes the run to history. A failed write is logged and never
// reaches the trigger path.
func (s *TriggerService) record(runID string, started time.Time, out pipeline.Outcome, outcome string) {
	if s.runs == nil {
		return
	}
	rec := store.RunRecord{
		RunID:      runID,
		StartedAt:  started,
		FinishedAt: s.clock.Now(),
		Outcome:    outcome,
		FaceCount:  out.FaceCount,
		Samples:    len(out.Samples),
		Reason:     out.Reason,
		FrameURL:   out.FrameURL,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.runs.RecordRun(ctx, rec); err != nil {
		s.logger.Printf("record run=%s error: %v", runID, err)
	}
}

func (s *TriggerService) Busy() bool { return s.gate.Busy() }

// Close waits for in-flight runs to finish, or for ctx to end. Runs the
// watchdog already gave up on are not waited for.
func (s *TriggerService) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("trigger service close: %w", ctx.Err())
	}
}
