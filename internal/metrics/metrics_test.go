package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"EnigmaNetz/Enigma-Traffic-Lab/internal/logger"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Published("ecg_monitor", 1, KindPrimary)
	m.Published("ecg_monitor", 1, KindPrimary)
	m.Published("ecg_monitor", 4, KindAdmin)
	if got := testutil.ToFloat64(m.published.WithLabelValues("ecg_monitor", "1", KindPrimary)); got != 2 {
		t.Fatalf("expected 2 primary publishes, got %f", got)
	}
	if got := testutil.ToFloat64(m.published.WithLabelValues("ecg_monitor", "4", KindAdmin)); got != 1 {
		t.Fatalf("expected 1 admin publish, got %f", got)
	}

	m.PublishFailed("co_sensor", KindPrimary)
	if got := testutil.ToFloat64(m.publishFailures.WithLabelValues("co_sensor", KindPrimary)); got != 1 {
		t.Fatalf("expected 1 publish failure, got %f", got)
	}

	m.ConnectFailed("bp_sensor")
	if got := testutil.ToFloat64(m.connectFailures.WithLabelValues("bp_sensor")); got != 1 {
		t.Fatalf("expected 1 connect failure, got %f", got)
	}

	m.WorkerStarted()
	m.WorkerStarted()
	m.WorkerStopped()
	if got := testutil.ToFloat64(m.activeWorkers); got != 1 {
		t.Fatalf("expected 1 active worker, got %f", got)
	}

	m.CaptureStarted("s1")
	m.CaptureFailed("s1")
	m.SetCaptureSessions(3)
	if got := testutil.ToFloat64(m.captureStarts.WithLabelValues("s1")); got != 1 {
		t.Fatalf("expected 1 capture start, got %f", got)
	}
	if got := testutil.ToFloat64(m.captureFailures.WithLabelValues("s1")); got != 1 {
		t.Fatalf("expected 1 capture failure, got %f", got)
	}
	if got := testutil.ToFloat64(m.captureSessions); got != 3 {
		t.Fatalf("expected 3 sessions, got %f", got)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.Published("x", 1, KindPrimary)
	m.PublishFailed("x", KindAdmin)
	m.ConnectFailed("x")
	m.WorkerStarted()
	m.WorkerStopped()
	m.CaptureStarted("n")
	m.CaptureFailed("n")
	m.SetCaptureSessions(1)
}

func TestServe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.Published("glucometer", 3, KindPrimary)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, addr, reg, logger.Discard()) }()

	var body string
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err == nil {
			b, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			body = string(b)
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !strings.Contains(body, `traffic_lab_messages_published_total{class="3",kind="primary",sensor="glucometer"} 1`) {
		t.Errorf("metrics output missing counter:\n%s", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
