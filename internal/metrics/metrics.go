// Package metrics exports scan outcomes as Prometheus metrics, either through
// a registry a caller can serve or as a node_exporter textfile.
package metrics

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/harrison/logscan/internal/models"
)

const namespace = "logscan"

// Recorder accumulates metrics across the scans of one process.
type Recorder struct {
	registry *prometheus.Registry
	textfile string
	mu       sync.Mutex

	scans        *prometheus.CounterVec
	files        prometheus.Counter
	fileErrors   prometheus.Counter
	matches      *prometheus.CounterVec
	fileDuration prometheus.Histogram
	lastDuration prometheus.Gauge
	lastFinished prometheus.Gauge
	lastP95      prometheus.Gauge
}

// NewRecorder creates a Recorder. A non-empty textfile is rewritten after
// every recorded scan.
func NewRecorder(textfile string) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		textfile: textfile,
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Folder scans by terminal state.",
		}, []string{"state"}),
		files: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_scanned_total",
			Help:      "Files that produced a result.",
		}),
		fileErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "file_errors_total",
			Help:      "Files that could not be read.",
		}),
		matches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_total",
			Help:      "Anomalies detected by category.",
		}, []string{"category"}),
		fileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "file_scan_duration_seconds",
			Help:      "Wall clock per scanned file.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		lastDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_scan_duration_seconds",
			Help:      "Wall clock of the most recent scan.",
		}),
		lastFinished: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_scan_finished_timestamp_seconds",
			Help:      "Unix time the most recent scan finished.",
		}),
		lastP95: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_scan_file_duration_p95_seconds",
			Help:      "95th percentile per-file wall clock of the most recent scan.",
		}),
	}
	r.registry.MustRegister(r.scans, r.files, r.fileErrors, r.matches,
		r.fileDuration, r.lastDuration, r.lastFinished, r.lastP95)
	return r
}

// Registry returns the registry holding logscan's collectors.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Record folds a terminal scan result into the metrics and refreshes the
// textfile when configured.
func (r *Recorder) Record(result *models.ScanResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.scans.WithLabelValues(string(result.State)).Inc()
	r.files.Add(float64(result.Completed))
	r.fileErrors.Add(float64(result.Errors))
	for category, n := range result.CategoryCounts {
		r.matches.WithLabelValues(category).Add(float64(n))
	}
	for _, d := range result.Durations {
		r.fileDuration.Observe(d.Seconds())
	}
	r.lastDuration.Set(result.Duration().Seconds())
	if !result.FinishedAt.IsZero() {
		r.lastFinished.Set(float64(result.FinishedAt.Unix()))
	}
	r.lastP95.Set(Summarize(result.Durations).P95.Seconds())

	if r.textfile == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(r.textfile, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", r.textfile, err)
	}
	return nil
}
