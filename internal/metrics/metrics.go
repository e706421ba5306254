// Package metrics exposes Vigil's Prometheus instruments.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/BrandonDHaskell/Vigil/server/internal/vigil/capture"
	"github.com/BrandonDHaskell/Vigil/server/internal/vigil/pipeline"
	"github.com/BrandonDHaskell/Vigil/server/internal/vigil/service"
)

type Metrics struct {
	triggers      *prometheus.CounterVec
	outcomes      *prometheus.CounterVec
	samples       *prometheus.CounterVec
	runDuration   prometheus.Histogram
	gateBusy      prometheus.Gauge
	forcedRelease prometheus.Counter
	verifications *prometheus.CounterVec
	issued        prometheus.Counter
	commands      *prometheus.CounterVec
	evictions     prometheus.Counter
	mailboxDepth  prometheus.Gauge
}

// New registers every instrument on reg. Pass prometheus.NewRegistry()
// in tests to keep the default registry clean.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		triggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_triggers_total",
			Help: "Trigger submissions by admission result.",
		}, []string{"result"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_pipeline_runs_total",
			Help: "Completed capture pipeline runs by outcome.",
		}, []string{"outcome"}),
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_pipeline_samples_total",
			Help: "Pipeline samples by result.",
		}, []string{"result"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vigil_pipeline_run_seconds",
			Help:    "Wall time of a capture pipeline run.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8),
		}),
		gateBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vigil_capture_gate_busy",
			Help: "1 while a capture run holds the gate.",
		}),
		forcedRelease: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vigil_capture_gate_forced_release_total",
			Help: "Runs that overran the deadline and had the gate released under them.",
		}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_credential_verifications_total",
			Help: "One-time code verifications by result.",
		}, []string{"result"}),
		issued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vigil_credentials_issued_total",
			Help: "One-time codes issued.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_commands_total",
			Help: "Mobile commands by name and direction.",
		}, []string{"name", "direction"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vigil_mailbox_evicted_total",
			Help: "Commands dropped unread because the mailbox was full.",
		}),
		mailboxDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vigil_mailbox_depth",
			Help: "Commands waiting for the door device.",
		}),
	}

	reg.MustRegister(
		m.triggers, m.outcomes, m.samples, m.runDuration, m.gateBusy, m.forcedRelease,
		m.verifications, m.issued, m.commands, m.evictions, m.mailboxDepth,
	)
	return m
}

func (m *Metrics) Trigger(result string) { m.triggers.WithLabelValues(result).Inc() }

func (m *Metrics) GateBusy(busy bool) {
	if busy {
		m.gateBusy.Set(1)
		return
	}
	m.gateBusy.Set(0)
}

func (m *Metrics) ForcedRelease() { m.forcedRelease.Inc() }

func (m *Metrics) Verification(result string) { m.verifications.WithLabelValues(result).Inc() }

func (m *Metrics) Issued() { m.issued.Inc() }

func (m *Metrics) Enqueued(name string, evicted bool, depth int) {
	m.commands.WithLabelValues(name, "in").Inc()
	if evicted {
		m.evictions.Inc()
	}
	m.mailboxDepth.Set(float64(depth))
}

func (m *Metrics) Delivered(name string, depth int) {
	m.commands.WithLabelValues(name, "out").Inc()
	m.mailboxDepth.Set(float64(depth))
}

func (m *Metrics) ObserveSample(hasFace bool, sourceErr, classifierErr error) {
	var result string
	switch {
	case sourceErr != nil && errors.Is(sourceErr, capture.ErrSourceUnavailable):
		result = "source_unavailable"
	case sourceErr != nil:
		result = "source_error"
	case classifierErr != nil:
		result = "classifier_error"
	case hasFace:
		result = "face"
	default:
		result = "no_face"
	}
	m.samples.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveOutcome(o pipeline.Outcome, took time.Duration) {
	m.outcomes.WithLabelValues(string(o.Kind)).Inc()
	m.runDuration.Observe(took.Seconds())
}

var (
	_ pipeline.Observer = (*Metrics)(nil)
	_ service.Recorder  = (*Metrics)(nil)
)
