package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/goccy/go-json"
)

func TestLevelFromString(t *testing.T) {
	t.Parallel()
	cases := map[string]slog.Level{
		"error":    slog.LevelError,
		" WARN ":   slog.LevelWarn,
		"warning":  slog.LevelWarn,
		"info":     slog.LevelInfo,
		"debug":    slog.LevelDebug,
		"whatever": slog.LevelDebug,
	}
	for in, want := range cases {
		if got := levelFromString(in); got != want {
			t.Fatalf("levelFromString(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestJSONHandlerFiltersByLevel(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := slog.New(newHandler(&buf, "warn", "json"))
	logger.Info("dropped")
	logger.Warn("kept", "component", "pipeline")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry["msg"] != "kept" || entry["component"] != "pipeline" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestConsoleHandler(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := slog.New(newHandler(&buf, "info", "console"))
	logger.Info("ingest finished", "stored", 3)
	if !strings.Contains(buf.String(), "ingest finished") || !strings.Contains(buf.String(), "stored") {
		t.Fatalf("unexpected console output %q", buf.String())
	}
}
