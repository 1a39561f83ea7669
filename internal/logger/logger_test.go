package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"
)

var lineRe = regexp.MustCompile(`^\[\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\] (DEBUG|INFO|WARN|ERROR): .+$`)

func TestLogger_LineFormat(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogger(Config{LogLevel: Info, Stdout: &buf})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	l.now = func() time.Time { return time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC) }

	l.Info("[publisher] %s connected", "ecg_monitor")

	got := buf.String()
	want := "[2025-03-04 05:06:07] INFO: [publisher] ecg_monitor connected\n"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogger(Config{LogLevel: Warn, Stdout: &buf})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	l.Debug("debug line")
	l.Info("info line")
	l.Warn("warn line")
	l.Error("error line")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "WARN: warn line") || !strings.Contains(lines[1], "ERROR: error line") {
		t.Errorf("unexpected lines: %q", lines)
	}
}

func TestLogger_FileAndPerSensorFile(t *testing.T) {
	dir := t.TempDir()
	shared := filepath.Join(dir, "logs", "traffic.log")
	var stdout bytes.Buffer

	l, err := NewLogger(Config{LogLevel: Info, LogFile: shared, Stdout: &stdout})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	defer l.Close()

	perSensor := filepath.Join(dir, "sensors", "ecg_monitor_publisher.log")
	child, err := l.WithFile(perSensor)
	if err != nil {
		t.Fatalf("WithFile() error = %v", err)
	}

	l.Info("shared only")
	child.Info("sensor line")
	if err := child.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	sharedData, err := os.ReadFile(shared)
	if err != nil {
		t.Fatalf("read shared log: %v", err)
	}
	if !strings.Contains(string(sharedData), "shared only") || !strings.Contains(string(sharedData), "sensor line") {
		t.Errorf("shared log missing lines: %q", sharedData)
	}

	sensorData, err := os.ReadFile(perSensor)
	if err != nil {
		t.Fatalf("read per-sensor log: %v", err)
	}
	if strings.Contains(string(sensorData), "shared only") || !strings.Contains(string(sensorData), "sensor line") {
		t.Errorf("per-sensor log has wrong content: %q", sensorData)
	}
	if strings.Count(stdout.String(), "\n") != 2 {
		t.Errorf("expected both lines echoed to stdout, got %q", stdout.String())
	}
}

func TestLogger_ConcurrentWritersKeepWholeLines(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogger(Config{LogLevel: Info, Stdout: &buf})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				l.Info("worker %d line %d", n, j)
			}
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 400 {
		t.Fatalf("expected 400 lines, got %d", len(lines))
	}
	for _, line := range lines {
		if !lineRe.MatchString(line) {
			t.Fatalf("malformed line %q", line)
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"debug", Debug, false},
		{"INFO", Info, false},
		{"warn", Warn, false},
		{"ERROR", Error, false},
		{"verbose", Info, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLogLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
