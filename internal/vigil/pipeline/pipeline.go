// Package pipeline samples the door camera over a short window and
// notifies the owner when a majority of samples show a face.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/BrandonDHaskell/Vigil/server/internal/clock"
	"github.com/BrandonDHaskell/Vigil/server/internal/vigil/capture"
	"github.com/BrandonDHaskell/Vigil/server/internal/vigil/face"
	"github.com/BrandonDHaskell/Vigil/server/internal/vigil/notify"
)

const (
	SampleCount    = 3
	FaceThreshold  = 2
	SettleDelay    = 500 * time.Millisecond
	SampleInterval = time.Second
)

type OutcomeKind string

const (
	Notified        OutcomeKind = "notified"
	ConditionNotMet OutcomeKind = "condition_not_met"
	NotifyFailed    OutcomeKind = "notify_failed"
)

// Sample is one round of the window. Frame.Data is nil when the source
// was unavailable.
type Sample struct {
	Frame   capture.Frame
	HasFace bool
	Err     error
}

type Outcome struct {
	Kind      OutcomeKind
	FaceCount int
	Reason    string
	// Selected is the index into Samples of the frame that was (or
	// would have been) delivered; -1 when no delivery was attempted.
	Selected int
	FrameURL string
	Samples  []Sample
}

func (o Outcome) String() string {
	switch o.Kind {
	case ConditionNotMet:
		return fmt.Sprintf("%s(%d)", o.Kind, o.FaceCount)
	case NotifyFailed:
		return fmt.Sprintf("%s(%s)", o.Kind, o.Reason)
	default:
		return string(o.Kind)
	}
}

// Observer receives per-sample and per-run events. Metrics implement it.
type Observer interface {
	ObserveSample(hasFace bool, sourceErr, classifierErr error)
	ObserveOutcome(o Outcome, took time.Duration)
}

type Dependencies struct {
	Source     capture.Source
	Classifier face.Classifier
	Notifier   notify.Notifier
	Clock      clock.Clock
	Logger     *log.Logger
	Observer   Observer
}

type Pipeline struct {
	source     capture.Source
	classifier face.Classifier
	notifier   notify.Notifier
	clock      clock.Clock
	logger     *log.Logger
	observer   Observer
}

func New(d Dependencies) *Pipeline {
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Logger == nil {
		d.Logger = log.New(io.Discard, "", 0)
	}
	return &Pipeline{
		source:     d.Source,
		classifier: d.Classifier,
		notifier:   d.Notifier,
		clock:      d.Clock,
		logger:     d.Logger,
		observer:   d.Observer,
	}
}

// Run samples SampleCount frames and notifies when at least
// FaceThreshold of them show a face. Collaborator failures never abort
// the window; they only weaken the samples they affect.
func (p *Pipeline) Run(ctx context.Context) Outcome {
	start := p.clock.Now()
	samples := make([]Sample, 0, SampleCount)

	p.wait(ctx, SettleDelay)

	for i := 0; i < SampleCount; i++ {
		s := p.sample(ctx)
		samples = append(samples, s)
		p.logger.Printf("sample %d/%d face=%t frame=%t", i+1, SampleCount, s.HasFace, s.Frame.Data != nil)

		if i < SampleCount-1 {
			p.wait(ctx, SampleInterval)
		}
	}

	out := p.decide(ctx, samples)
	if p.observer != nil {
		p.observer.ObserveOutcome(out, p.clock.Now().Sub(start))
	}
	return out
}

func (p *Pipeline) sample(ctx context.Context) Sample {
	frame, err := p.source.Fetch(ctx)
	if err != nil {
		p.observe(false, err, nil)
		return Sample{Err: err}
	}

	hasFace, err := p.classify(ctx, frame.Data)
	if err != nil {
		p.logger.Printf("classifier error (counted as no face): %v", err)
		p.observe(false, nil, err)
		return Sample{Frame: frame, Err: err}
	}
	p.observe(hasFace, nil, nil)
	return Sample{Frame: frame, HasFace: hasFace}
}

// classify turns a classifier panic into an error so one bad frame
// cannot take the server down.
func (p *Pipeline) classify(ctx context.Context, img []byte) (hasFace bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			hasFace, err = false, fmt.Errorf("classifier panic: %v", r)
		}
	}()
	return p.classifier.HasFace(ctx, img)
}

func (p *Pipeline) decide(ctx context.Context, samples []Sample) Outcome {
	out := Outcome{Selected: -1, Samples: samples}
	for _, s := range samples {
		if s.HasFace {
			out.FaceCount++
		}
	}

	if out.FaceCount < FaceThreshold {
		out.Kind = ConditionNotMet
		out.Reason = fmt.Sprintf("only %d/%d samples had a face", out.FaceCount, len(samples))
		return out
	}

	out.Selected = selectFrame(samples)
	frame := samples[out.Selected].Frame
	out.FrameURL = frame.URL

	if len(frame.Data) == 0 {
		out.Kind = NotifyFailed
		out.Reason = "selected sample has no frame"
		return out
	}
	if err := p.deliver(ctx, frame); err != nil {
		out.Kind = NotifyFailed
		out.Reason = err.Error()
		return out
	}
	out.Kind = Notified
	return out
}

func (p *Pipeline) deliver(ctx context.Context, frame capture.Frame) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier panic: %v", r)
		}
	}()
	return p.notifier.Notify(ctx, frame)
}

// selectFrame picks the last face-positive sample, or the final sample
// when none matched.
func selectFrame(samples []Sample) int {
	for i := len(samples) - 1; i >= 0; i-- {
		if samples[i].HasFace {
			return i
		}
	}
	return len(samples) - 1
}

// Snapshot captures one frame and delivers it without face detection.
func (p *Pipeline) Snapshot(ctx context.Context) (capture.Frame, error) {
	frame, err := p.source.Fetch(ctx)
	if err != nil {
		return capture.Frame{}, err
	}
	if err := p.deliver(ctx, frame); err != nil {
		return frame, fmt.Errorf("deliver snapshot: %w", err)
	}
	return frame, nil
}

// Capture fetches one frame for a caller that wants the bytes back.
func (p *Pipeline) Capture(ctx context.Context) (capture.Frame, error) {
	return p.source.Fetch(ctx)
}

// wait sleeps for d. Only cancellation of ctx by a run deadline cuts it
// short.
func (p *Pipeline) wait(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-p.clock.After(d):
	}
}

func (p *Pipeline) observe(hasFace bool, sourceErr, classifierErr error) {
	if p.observer != nil {
		p.observer.ObserveSample(hasFace, sourceErr, classifierErr)
	}
}

// IsSourceUnavailable reports whether a sample failed at the source.
func (s Sample) IsSourceUnavailable() bool {
	return errors.Is(s.Err, capture.ErrSourceUnavailable)
}
