// Package metrics exposes Prometheus collectors for the traffic workers and
// the capture manager. A nil *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"EnigmaNetz/Enigma-Traffic-Lab/internal/logger"
)

// Message kinds used as the "kind" label.
const (
	KindPrimary = "primary"
	KindAdmin   = "admin"
)

// Metrics groups every collector of the process.
type Metrics struct {
	published       *prometheus.CounterVec
	publishFailures *prometheus.CounterVec
	connectFailures *prometheus.CounterVec
	activeWorkers   prometheus.Gauge
	captureSessions prometheus.Gauge
	captureStarts   *prometheus.CounterVec
	captureFailures *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "traffic_lab_messages_published_total",
			Help: "Messages accepted by the broker, by sensor, class and kind.",
		}, []string{"sensor", "class", "kind"}),
		publishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "traffic_lab_publish_failures_total",
			Help: "Publishes that failed or timed out.",
		}, []string{"sensor", "kind"}),
		connectFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "traffic_lab_connect_failures_total",
			Help: "Workers that could not open their broker connection.",
		}, []string{"sensor"}),
		activeWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "traffic_lab_active_workers",
			Help: "Workers currently in the running state.",
		}),
		captureSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "traffic_lab_capture_sessions",
			Help: "Capture processes currently tracked.",
		}),
		captureStarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "traffic_lab_capture_starts_total",
			Help: "Capture processes spawned, by node.",
		}, []string{"node"}),
		captureFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "traffic_lab_capture_failures_total",
			Help: "Capture spawn failures, by node.",
		}, []string{"node"}),
	}
	reg.MustRegister(
		m.published, m.publishFailures, m.connectFailures, m.activeWorkers,
		m.captureSessions, m.captureStarts, m.captureFailures,
	)
	return m
}

// Published counts one accepted message.
func (m *Metrics) Published(sensor string, class int, kind string) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(sensor, strconv.Itoa(class), kind).Inc()
}

// PublishFailed counts one failed publish.
func (m *Metrics) PublishFailed(sensor, kind string) {
	if m == nil {
		return
	}
	m.publishFailures.WithLabelValues(sensor, kind).Inc()
}

// ConnectFailed counts a worker that never reached the running state.
func (m *Metrics) ConnectFailed(sensor string) {
	if m == nil {
		return
	}
	m.connectFailures.WithLabelValues(sensor).Inc()
}

// WorkerStarted and WorkerStopped track running workers.
func (m *Metrics) WorkerStarted() {
	if m == nil {
		return
	}
	m.activeWorkers.Inc()
}

func (m *Metrics) WorkerStopped() {
	if m == nil {
		return
	}
	m.activeWorkers.Dec()
}

// CaptureStarted records a spawned capture process.
func (m *Metrics) CaptureStarted(node string) {
	if m == nil {
		return
	}
	m.captureStarts.WithLabelValues(node).Inc()
}

// CaptureFailed records a capture that could not be spawned.
func (m *Metrics) CaptureFailed(node string) {
	if m == nil {
		return
	}
	m.captureFailures.WithLabelValues(node).Inc()
}

// SetCaptureSessions publishes the size of the session table.
func (m *Metrics) SetCaptureSessions(n int) {
	if m == nil {
		return
	}
	m.captureSessions.Set(float64(n))
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, log *logger.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		log.Info("[metrics] Serving Prometheus metrics on %s/metrics", addr)
		errCh <- srv.ListenAndServe()
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
		return srv.Shutdown(shutdownCtx)
	}
}
