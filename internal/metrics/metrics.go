// Package metrics records run progress in a private Prometheus registry and
// optionally exports it in the node_exporter textfile format.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "seqrun"

// Recorder collects per-run metrics. A nil *Recorder ignores every call.
type Recorder struct {
	registry  *prometheus.Registry
	path      string
	stepTime  *prometheus.HistogramVec
	jobWait   prometheus.Histogram
	points    prometheus.Gauge
	completed prometheus.Counter
	halts     *prometheus.CounterVec
	current   prometheus.Gauge
}

// New builds a recorder. When path is empty Flush is a no-op.
func New(runID, path string) *Recorder {
	labels := prometheus.Labels{"run_id": runID}
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		path:     path,
		stepTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "step_duration_seconds",
			Help:        "Wall time of a step from parameter edit to backup.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(60, 2, 12),
		}, []string{"step"}),
		jobWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "job_wait_seconds",
			Help:        "Time spent waiting for submitted jobs to leave the queue.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(60, 2, 12),
		}),
		points: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "grid_points",
			Help:        "Grid points written to the last restart file.",
			ConstLabels: labels,
		}),
		completed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "steps_completed_total",
			Help:        "Steps that finished all stages.",
			ConstLabels: labels,
		}),
		halts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "halts_total",
			Help:        "Runs halted, by the stage that failed.",
			ConstLabels: labels,
		}, []string{"stage"}),
		current: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "current_step",
			Help:        "1-based index of the step being executed.",
			ConstLabels: labels,
		}),
	}
	r.registry.MustRegister(r.stepTime, r.jobWait, r.points, r.completed, r.halts, r.current)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// StepStarted marks index as the step in progress.
func (r *Recorder) StepStarted(index int) {
	if r == nil {
		return
	}
	r.current.Set(float64(index))
}

// StepCompleted records a finished step.
func (r *Recorder) StepCompleted(index int, d time.Duration) {
	if r == nil {
		return
	}
	r.stepTime.WithLabelValues(fmt.Sprint(index)).Observe(d.Seconds())
	r.completed.Inc()
}

// JobWaited records how long a job stayed queued.
func (r *Recorder) JobWaited(d time.Duration) {
	if r == nil {
		return
	}
	r.jobWait.Observe(d.Seconds())
}

// GridPoints records the size of the last extraction.
func (r *Recorder) GridPoints(n int) {
	if r == nil {
		return
	}
	r.points.Set(float64(n))
}

// Halted counts a halt at stage.
func (r *Recorder) Halted(stage string) {
	if r == nil {
		return
	}
	r.halts.WithLabelValues(stage).Inc()
}

// Flush writes the registry to the textfile path, if one is configured.
func (r *Recorder) Flush() error {
	if r == nil || r.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	if err := prometheus.WriteToTextfile(r.path, r.registry); err != nil {
		return fmt.Errorf("metrics: write %s: %w", r.path, err)
	}
	return nil
}
