package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"proxyhub/internal/config"
)

func TestJSONFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	l.Info().Msg("hidden")
	l.Warn().Str("session", "S1").Msg("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines = %q", lines)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatal(err)
	}
	if entry["message"] != "shown" || entry["session"] != "S1" || entry["level"] != "warn" {
		t.Fatalf("entry = %v", entry)
	}
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(config.LoggingConfig{Level: "loud", Format: "json"}, &buf)
	if err != nil {
		t.Fatal(err)
	}
	l.Debug().Msg("hidden")
	l.Info().Msg("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("output = %q", buf.String())
	}
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "hub.log")
	var buf bytes.Buffer
	l, err := New(config.LoggingConfig{Level: "info", Format: "console", File: path}, &buf)
	if err != nil {
		t.Fatal(err)
	}
	l.Info().Msg("to both")
	if l.Path() != path {
		t.Fatalf("path = %q", l.Path())
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"message":"to both"`) {
		t.Fatalf("file = %q", data)
	}
	if !strings.Contains(buf.String(), "to both") {
		t.Fatalf("console = %q", buf.String())
	}
}
