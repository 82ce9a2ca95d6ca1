package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/sfmovies/filmlocations/internal/dispatcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ dispatcher.Logger = (*DispatcherLogger)(nil)

func TestDispatcherLogger(t *testing.T) {
	tests := []struct {
		name      string
		log       func(*DispatcherLogger)
		wantLevel string
		wantMsg   string
		wantAttrs map[string]any
	}{
		{
			name:      "debug",
			log:       func(l *DispatcherLogger) { l.Debug("command handled", "command", "query", "ms", 3) },
			wantLevel: "DEBUG",
			wantMsg:   "command handled",
			wantAttrs: map[string]any{"command": "query", "ms": float64(3)},
		},
		{
			name:      "info without attrs",
			log:       func(l *DispatcherLogger) { l.Info("loop started") },
			wantLevel: "INFO",
			wantMsg:   "loop started",
		},
		{
			name:      "error",
			log:       func(l *DispatcherLogger) { l.Error("command failed", "command", "select", "error", "no such suggestion") },
			wantLevel: "ERROR",
			wantMsg:   "command failed",
			wantAttrs: map[string]any{"command": "select", "error": "no such suggestion"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
			tt.log(NewDispatcherLogger(logger))

			var entry map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
			assert.Equal(t, tt.wantLevel, entry["level"])
			assert.Equal(t, tt.wantMsg, entry["msg"])
			assert.Equal(t, "dispatcher", entry["component"])
			for k, v := range tt.wantAttrs {
				assert.Equal(t, v, entry[k], k)
			}
		})
	}
}

func TestDispatcherLogger_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelError}))
	dl := NewDispatcherLogger(logger)

	dl.Debug("hidden")
	dl.Info("hidden")
	assert.Zero(t, buf.Len())

	dl.Error("shown")
	assert.Contains(t, buf.String(), "shown")
}
