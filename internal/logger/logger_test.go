package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/Strob0t/FlowForge/internal/config"
)

func TestNew(t *testing.T) {
	cfg := config.Logging{Level: "debug", Service: "test-svc"}
	l, closer := New(cfg)
	defer closer.Close()
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewAsync(t *testing.T) {
	cfg := config.Logging{Level: "debug", Service: "test-svc", Async: true}
	l, closer := New(cfg)
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
	l.Info("queued before close")
	closer.Close()
}

func TestAsyncHandlerKeepsDerivedAttrs(t *testing.T) {
	var buf bytes.Buffer
	async := NewAsyncHandler(slog.NewJSONHandler(&buf, nil), 16, 1)

	// Attributes added after wrapping must survive the queue.
	l := slog.New(async).With("service", "test-svc")
	l.Info("hello", "run_id", "r1")
	async.Close()

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not a JSON record: %v (%s)", err, buf.Bytes())
	}
	if rec["service"] != "test-svc" {
		t.Errorf("service = %v, want test-svc", rec["service"])
	}
	if rec["run_id"] != "r1" {
		t.Errorf("run_id = %v, want r1", rec["run_id"])
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.want {
				t.Errorf("parseLevel(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}
