// Package metrics exposes validation counters and timings to Prometheus.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360studio/codecomply/engine"
	"github.com/c360studio/codecomply/report"
)

const namespace = "codecomply"

// Rejected record kinds.
const (
	KindRequirement = "requirement"
	KindMeasurement = "measurement"
)

// Recorder owns a private registry so that tests and embedded uses never
// collide on the global one.
type Recorder struct {
	registry *prometheus.Registry
	verdicts *prometheus.CounterVec
	rejected *prometheus.CounterVec
	duration prometheus.Histogram
	reports  *prometheus.CounterVec
}

// NewRecorder creates a Recorder with Go runtime and process collectors.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verdicts_total",
			Help:      "Verdicts produced, by status.",
		}, []string{"status"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_records_total",
			Help:      "Input records rejected as malformed, by kind.",
		}, []string{"kind"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_seconds",
			Help:      "Time to evaluate all requirements against one drawing.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_total",
			Help:      "Reports produced, by overall status.",
		}, []string{"overall"}),
	}
	reg.MustRegister(
		r.verdicts, r.rejected, r.duration, r.reports,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	// Export zero-valued series for every status.
	for _, s := range engine.Statuses {
		r.verdicts.WithLabelValues(string(s))
	}
	return r
}

// ObserveReport records the verdicts of one report and how long the
// evaluation took.
func (r *Recorder) ObserveReport(rep *report.Report, elapsed time.Duration) {
	for s, n := range rep.ByStatus {
		if n > 0 {
			r.verdicts.WithLabelValues(string(s)).Add(float64(n))
		}
	}
	r.reports.WithLabelValues(string(rep.Summary.Overall)).Inc()
	r.duration.Observe(elapsed.Seconds())
}

// ObserveRejected records n malformed records of the given kind.
func (r *Recorder) ObserveRejected(kind string, n int) {
	if n > 0 {
		r.rejected.WithLabelValues(kind).Add(float64(n))
	}
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (r *Recorder) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return r.serve(ctx, ln, logger)
}

func (r *Recorder) serve(ctx context.Context, ln net.Listener, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Serving metrics", slog.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown metrics server: %w", err)
		}
		return nil
	}
}
