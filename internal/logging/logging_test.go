package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "monolink.log")
	logger, closeFn := New(slog.LevelInfo, path)

	logger.Debug("[Test] hidden")
	logger.Info("[Test] visible", "key", "value")
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, "[Test] visible") || !strings.Contains(out, "key=value") {
		t.Errorf("log file = %q, missing info record", out)
	}
	if strings.Contains(out, "hidden") {
		t.Errorf("log file = %q, debug record not filtered", out)
	}
}

func TestNewWithoutFile(t *testing.T) {
	logger, closeFn := New(slog.LevelDebug, "")
	if logger == nil {
		t.Fatal("New() returned nil logger")
	}
	if err := closeFn(); err != nil {
		t.Errorf("close without file: %v", err)
	}
}
