package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"conversepdf/internal/config"
)

func TestNewWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(&config.Config{LogLevel: "info"}, &buf)

	l.Debug("hidden")
	l.Info("step completed", "step", "load-and-chunk", "chunks", 3)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected a single JSON line, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "step completed" || entry["step"] != "load-and-chunk" {
		t.Errorf("unexpected entry: %v", entry)
	}
}

func TestLevelFor(t *testing.T) {
	tests := []struct {
		cfg  config.Config
		want slog.Level
	}{
		{config.Config{}, slog.LevelInfo},
		{config.Config{GinMode: "debug"}, slog.LevelDebug},
		{config.Config{GinMode: "debug", LogLevel: "warn"}, slog.LevelWarn},
		{config.Config{LogLevel: "ERROR"}, slog.LevelError},
	}
	for _, tt := range tests {
		if got := levelFor(&tt.cfg); got != tt.want {
			t.Errorf("levelFor(%+v) = %v, want %v", tt.cfg, got, tt.want)
		}
	}
}
