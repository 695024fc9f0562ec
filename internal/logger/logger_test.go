package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestLevelForVerbosity(t *testing.T) {
	tests := []struct {
		v    int
		want string
	}{
		{0, "warn"},
		{1, "info"},
		{2, "debug"},
		{3, "debug"},
	}
	for _, tt := range tests {
		if got := LevelForVerbosity(tt.v); got != tt.want {
			t.Errorf("LevelForVerbosity(%d) = %s, want %s", tt.v, got, tt.want)
		}
	}
}

func TestNewConsole(t *testing.T) {
	var buf bytes.Buffer
	l, err := New("warn", FileConfig{}, &buf)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	l.Info("hidden")
	l.Warn("shown", zap.Int("brush", 3))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info message should be filtered at warn level")
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "brush") {
		t.Errorf("expected warning with field, got %q", out)
	}
}

func TestNewFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapc.log")
	l, err := New("debug", DefaultFileConfig(path), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	l.Debug("stage done", zap.String("stage", "csg"))
	_ = l.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, data)
	}
	if entry["stage"] != "csg" || entry["level"] != "debug" {
		t.Errorf("unexpected entry %v", entry)
	}
}

func TestBadLevel(t *testing.T) {
	if _, err := New("loud", FileConfig{}, nil); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestGlobalsDefaultToNop(t *testing.T) {
	// must not panic before Init
	Info("before init")
	Sync()
}
