// Package metrics exposes pipeline run metrics for Prometheus.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder holds the pipeline collectors on a private registry.
type Recorder struct {
	registry *prometheus.Registry

	stageDuration   *prometheus.HistogramVec
	stageFailures   *prometheus.CounterVec
	runsTotal       *prometheus.CounterVec
	deliveredBytes  prometheus.Counter
	deliveredFiles  prometheus.Counter
	lastRunSuccess  prometheus.Gauge
	lastRunUnixTime prometheus.Gauge
}

// New creates a recorder with all collectors registered.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),

		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "jianpu_ly",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Time taken by each pipeline stage",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"stage"}),

		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jianpu_ly",
			Subsystem: "pipeline",
			Name:      "stage_failures_total",
			Help:      "Pipeline stage failures by stage and error kind",
		}, []string{"stage", "kind"}),

		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jianpu_ly",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Pipeline runs by final status",
		}, []string{"status"}),

		deliveredBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jianpu_ly",
			Subsystem: "delivery",
			Name:      "bytes_total",
			Help:      "Bytes copied to the delivery destination",
		}),

		deliveredFiles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jianpu_ly",
			Subsystem: "delivery",
			Name:      "files_total",
			Help:      "Artifacts copied to the delivery destination",
		}),

		lastRunSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "jianpu_ly",
			Subsystem: "pipeline",
			Name:      "last_run_success",
			Help:      "Whether the last run succeeded (1=succeeded, 0=failed)",
		}),

		lastRunUnixTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "jianpu_ly",
			Subsystem: "pipeline",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished",
		}),
	}

	r.registry.MustRegister(
		r.stageDuration,
		r.stageFailures,
		r.runsTotal,
		r.deliveredBytes,
		r.deliveredFiles,
		r.lastRunSuccess,
		r.lastRunUnixTime,
	)
	return r
}

// Registry returns the gatherer backing this recorder.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveStage records a stage duration, and a failure when kind is non-empty.
func (r *Recorder) ObserveStage(stage string, d time.Duration, failedKind string) {
	r.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	if failedKind != "" {
		r.stageFailures.WithLabelValues(stage, failedKind).Inc()
	}
}

// ObserveDelivery counts delivered files and bytes.
func (r *Recorder) ObserveDelivery(files int, bytes int64) {
	r.deliveredFiles.Add(float64(files))
	r.deliveredBytes.Add(float64(bytes))
}

// ObserveRun records the final status of a run.
func (r *Recorder) ObserveRun(succeeded bool, finished time.Time) {
	status := "failed"
	r.lastRunSuccess.Set(0)
	if succeeded {
		status = "succeeded"
		r.lastRunSuccess.Set(1)
	}
	r.runsTotal.WithLabelValues(status).Inc()
	r.lastRunUnixTime.Set(float64(finished.Unix()))
}

// WriteTextfile writes the current metrics for node-exporter's textfile
// collector. The write is atomic.
func (r *Recorder) WriteTextfile(path string) error {
	if path == "" {
		return fmt.Errorf("metrics textfile path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
