// SPDX-License-Identifier: MPL-2.0

// Package metrics records provisioning runs as Prometheus metrics and
// writes them in the node_exporter textfile format.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fnichol/iocage-provision/internal/app/provision"
	"github.com/fnichol/iocage-provision/internal/executor"
	"github.com/fnichol/iocage-provision/internal/plan"
)

const namespace = "iocage_provision"

var _ provision.Observer = (*Recorder)(nil)

// Result labels for runs_total.
const (
	ResultSuccess = "success"
	ResultDryRun  = "dry_run"
)

// Recorder collects metrics for one process. It implements provision.Observer.
type Recorder struct {
	registry *prometheus.Registry

	runsTotal      *prometheus.CounterVec
	stepsTotal     *prometheus.CounterVec
	stepDuration   *prometheus.HistogramVec
	runDuration    prometheus.Gauge
	lastRun        prometheus.Gauge
	lastSuccess    prometheus.Gauge
	stepsCompleted prometheus.Gauge
	cleanupsTotal  *prometheus.CounterVec

	now   func() time.Time
	start time.Time
}

// New creates a Recorder with its own registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Provisioning runs by result",
			},
			[]string{"jail", "result"},
		),
		stepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_total",
				Help:      "Executed steps by kind and status",
			},
			[]string{"kind", "status"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of executed steps in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3.4min
			},
			[]string{"kind"},
		),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_duration_seconds",
			Help:      "Wall time of the last run in seconds",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_success",
			Help:      "Whether the last run succeeded (1) or not (0)",
		}),
		stepsCompleted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_steps_completed",
			Help:      "Steps that succeeded in the last run",
		}),
		cleanupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cleanups_total",
				Help:      "Destroy-on-failure cleanups by status",
			},
			[]string{"status"},
		),
		now: time.Now,
	}
	r.registry.MustRegister(
		r.runsTotal,
		r.stepsTotal,
		r.stepDuration,
		r.runDuration,
		r.lastRun,
		r.lastSuccess,
		r.stepsCompleted,
		r.cleanupsTotal,
	)
	r.start = r.now()
	return r
}

// Registry returns the registry holding the recorder's metrics.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// StateChanged implements provision.Observer.
func (r *Recorder) StateChanged(_, _ provision.State) {}

// StepStarted implements provision.Observer.
func (r *Recorder) StepStarted(_, _ int, _ plan.Step) {}

// StepFinished implements provision.Observer.
func (r *Recorder) StepFinished(_, _ int, outcome executor.StepOutcome) {
	kind := string(outcome.Step.Kind)
	r.stepsTotal.WithLabelValues(kind, string(outcome.Status)).Inc()
	r.stepDuration.WithLabelValues(kind).Observe(outcome.Duration.Seconds())
}

// RecordRun records the end of a run. err is the error returned by the
// provisioner, or nil.
func (r *Recorder) RecordRun(jailName string, res *provision.Result, err error, dryRun bool) {
	result := ResultSuccess
	switch {
	case err != nil:
		result = resultLabel(err)
	case dryRun:
		result = ResultDryRun
	}
	r.runsTotal.WithLabelValues(jailName, result).Inc()

	finished := r.now()
	r.runDuration.Set(finished.Sub(r.start).Seconds())
	r.lastRun.Set(float64(finished.Unix()))
	if err == nil {
		r.lastSuccess.Set(1)
	} else {
		r.lastSuccess.Set(0)
	}

	if res == nil {
		return
	}
	var completed int
	for _, o := range res.Outcomes {
		if o.Succeeded() {
			completed++
		}
	}
	r.stepsCompleted.Set(float64(completed))
	if res.Cleanup != nil {
		r.cleanupsTotal.WithLabelValues(string(res.Cleanup.Status)).Inc()
	}
}

// WriteTextfile writes every metric to path. The file is written to a
// temporary name and renamed so a collector never reads a partial file.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	return nil
}

func resultLabel(err error) string {
	var perr *provision.Error
	if errors.As(err, &perr) {
		return perr.Class.String()
	}
	return "error"
}
