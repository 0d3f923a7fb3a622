package logging

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nerrad567/gray-logic-knxip/internal/infrastructure/config"
)

// entries decodes one JSON object per line.
func entries(t *testing.T, data []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var e map[string]any
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("log line %q is not JSON: %v", sc.Text(), err)
		}
		out = append(out, e)
	}
	return out
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"trace":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestJSONEntryCarriesServiceAndVersion(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, "knxipd", config.LoggingConfig{Level: "info", Format: "json"}, "1.4.0")
	l.Info("tunnel connected", "channel", 7)

	got := entries(t, buf.Bytes())
	if len(got) != 1 {
		t.Fatalf("got %d entries, want 1", len(got))
	}
	e := got[0]
	if e["msg"] != "tunnel connected" || e["service"] != "knxipd" || e["version"] != "1.4.0" {
		t.Errorf("entry = %v", e)
	}
	if e["channel"] != float64(7) {
		t.Errorf("channel = %v, want 7", e["channel"])
	}
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, "knxctl", config.LoggingConfig{Level: "debug", Format: "TEXT"}, "dev")
	l.Debug("frame sent", "type", "TUNNELING_REQUEST")

	out := buf.String()
	if !strings.Contains(out, "service=knxctl") || !strings.Contains(out, "msg=\"frame sent\"") {
		t.Errorf("text output = %q", out)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, "knxipd", config.LoggingConfig{Level: "warn"}, "dev")
	l.Info("dropped")
	l.Warn("kept")

	got := entries(t, buf.Bytes())
	if len(got) != 1 || got[0]["msg"] != "kept" {
		t.Errorf("entries = %v, want only the warning", got)
	}
}

func TestSetLevelReachesChildren(t *testing.T) {
	var buf bytes.Buffer
	root := newLogger(&buf, "knxipd", config.LoggingConfig{Level: "error"}, "dev")
	child := root.With("component", "bridge")

	child.Info("before")
	root.SetLevel("debug")
	child.Debug("after")

	got := entries(t, buf.Bytes())
	if len(got) != 1 || got[0]["msg"] != "after" || got[0]["component"] != "bridge" {
		t.Errorf("entries = %v", got)
	}
	if child.Level() != slog.LevelDebug {
		t.Errorf("child.Level() = %v, want debug", child.Level())
	}
}

func TestFileOutputRotatorIsClosed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "knxipd.log")
	l := New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "file",
		File:   config.FileLoggingConfig{Path: path, MaxSize: 1},
	}, "1.0.0")

	l.With("component", "knxip").Info("gateway connected")
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	got := entries(t, data)
	if len(got) != 1 || got[0]["component"] != "knxip" || got[0]["service"] != "knxipd" {
		t.Errorf("entries = %v", got)
	}
}

func TestWriterSelection(t *testing.T) {
	tests := []struct {
		output    string
		want      *os.File
		hasCloser bool
	}{
		{"stdout", os.Stdout, false},
		{"", os.Stdout, false},
		{"STDERR", os.Stderr, false},
	}
	for _, tt := range tests {
		t.Run(tt.output, func(t *testing.T) {
			w, closer := writer(config.LoggingConfig{Output: tt.output})
			if w != tt.want {
				t.Errorf("writer(%q) = %v", tt.output, w)
			}
			if (closer != nil) != tt.hasCloser {
				t.Errorf("closer = %v", closer)
			}
		})
	}
}

func TestDefaultCloseIsNoop(t *testing.T) {
	l := Default()
	if l.Level() != slog.LevelInfo {
		t.Errorf("Default().Level() = %v, want info", l.Level())
	}
	if err := l.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
