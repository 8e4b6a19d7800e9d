// Package metrics exposes Prometheus counters for batch runs and
// reconciliation output.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/adingest/internal/domain"
)

const namespace = "adingest"

// DefaultAddress is used when metrics are enabled without an address.
const DefaultAddress = ":9090"

// Recorder holds every collector on a private registry. It is usable
// as a scheduler sink, a skip recorder and a reconciliation recorder.
type Recorder struct {
	registry *prometheus.Registry

	runsTotal       *prometheus.CounterVec
	runsSkipped     *prometheus.CounterVec
	taskOutcomes    *prometheus.CounterVec
	taskAttempts    *prometheus.CounterVec
	recordsTotal    *prometheus.CounterVec
	syntheticEvents *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	lastRun         *prometheus.GaugeVec
}

// New registers all collectors on a fresh registry.
func New() *Recorder {
	r := &Recorder{registry: prometheus.NewRegistry()}

	r.runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Completed batch runs by family and status",
	}, []string{"family", "status"})

	r.runsSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_skipped_total",
		Help:      "Triggers rejected because a run of the family was in progress",
	}, []string{"family"})

	r.taskOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "task_outcomes_total",
		Help:      "Task outcomes by family, task and result",
	}, []string{"family", "task", "result"})

	r.taskAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "task_attempts_total",
		Help:      "Attempts spent on tasks, including retries",
	}, []string{"family", "task"})

	r.recordsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "records_total",
		Help:      "Records reported by successful tasks",
	}, []string{"family"})

	r.syntheticEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "synthetic_events_total",
		Help:      "Events synthesized from counter deltas",
	}, []string{"source"})

	r.runDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "run_duration_seconds",
		Help:      "Wall-clock duration of batch runs",
		Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
	}, []string{"family"})

	r.lastRun = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_run_timestamp_seconds",
		Help:      "Start time of the most recent run per family",
	}, []string{"family"})

	r.registry.MustRegister(
		r.runsTotal,
		r.runsSkipped,
		r.taskOutcomes,
		r.taskAttempts,
		r.recordsTotal,
		r.syntheticEvents,
		r.runDuration,
		r.lastRun,
	)
	r.registry.MustRegister(collectors.NewGoCollector())
	r.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return r
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// RecordBatch counts one completed run.
func (r *Recorder) RecordBatch(_ context.Context, s domain.BatchSummary) error {
	status := "ok"
	switch {
	case s.Total > 0 && s.Failed == s.Total:
		status = "failed"
	case s.Failed > 0:
		status = "partial"
	}
	r.runsTotal.WithLabelValues(s.Family, status).Inc()
	r.recordsTotal.WithLabelValues(s.Family).Add(float64(s.TotalRecords))
	r.runDuration.WithLabelValues(s.Family).Observe(float64(s.DurationMs) / 1000)
	if !s.StartedAt.IsZero() {
		r.lastRun.WithLabelValues(s.Family).Set(float64(s.StartedAt.Unix()))
	}

	for _, o := range s.Details {
		r.taskOutcomes.WithLabelValues(s.Family, o.Task, outcomeLabel(o)).Inc()
		if o.Attempts > 0 {
			r.taskAttempts.WithLabelValues(s.Family, o.Task).Add(float64(o.Attempts))
		}
	}
	return nil
}

func outcomeLabel(o domain.TaskOutcome) string {
	switch {
	case o.Success:
		return "success"
	case o.Timeout:
		return "timeout"
	case o.Attempts == 0:
		return "not_dispatched"
	default:
		return "failure"
	}
}

// RecordSkip counts a rejected overlapping trigger.
func (r *Recorder) RecordSkip(family string) {
	r.runsSkipped.WithLabelValues(family).Inc()
}

// RecordSyntheticEvents counts events produced by reconciliation.
func (r *Recorder) RecordSyntheticEvents(source string, n int) {
	if n <= 0 {
		return
	}
	r.syntheticEvents.WithLabelValues(source).Add(float64(n))
}

// Handler serves /metrics and /healthz.
func (r *Recorder) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

// Serve runs the metrics endpoint until ctx is cancelled.
func (r *Recorder) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	if addr == "" {
		addr = DefaultAddress
	}
	if logger == nil {
		logger = slog.Default()
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("metrics server listening",
			slog.String("source", "metrics"),
			slog.String("address", addr),
		)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
