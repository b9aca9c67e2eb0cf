package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		name   string
		level  string
		enable slog.Level
	}{
		{"debug level", "debug", slog.LevelDebug},
		{"warn level", "warn", slog.LevelWarn},
		{"default info", "", slog.LevelInfo},
	}

	ctx := context.Background()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := New(tt.level)
			if !logger.Enabled(ctx, tt.enable) {
				t.Fatalf("expected level %s to be enabled", tt.enable)
			}
		})
	}
}

func TestDefaultLogger(t *testing.T) {
	logger := Default()

	logger.Info("test message", "key", "value")

	ctx := context.Background()
	if !logger.Enabled(ctx, slog.LevelInfo) {
		t.Error("Default() should enable info level")
	}
	if logger.Enabled(ctx, slog.LevelDebug) {
		t.Error("Default() should not enable debug level (info is higher)")
	}

	if logger.Logger == nil {
		t.Fatal("Default() returned Logger with nil slog.Logger (should be impossible)")
	}
}

func TestComponentTag(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter("info", &buf).Component("scheduler")
	logger.Info("armed")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("expected JSON output, got %q", buf.String())
	}
	if record["component"] != "scheduler" {
		t.Fatalf("expected component tag, got %v", record["component"])
	}
}

func TestWithKeepsWrapperType(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter("info", &buf).Component("engine").With("session_id", "sess-1")
	logger.Component("booking").Info("started")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("expected JSON output, got %q", buf.String())
	}
	if record["session_id"] != "sess-1" {
		t.Fatalf("expected session_id attribute, got %v", record["session_id"])
	}
	if record["component"] != "booking" {
		t.Fatalf("expected component tag, got %v", record["component"])
	}
}
