package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tc := range cases {
		if got := ParseLevel(tc.in); got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestSetup_Stdout(t *testing.T) {
	logger, closer, err := Setup("stdout", "info", 0, 0, 0)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if logger == nil {
		t.Fatal("expected a logger")
	}
	if closer != nil {
		t.Fatal("stdout output should not return a closer")
	}
}

func TestSetup_FileOutputWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.log")

	logger, closer, err := Setup(path, "info", 1, 3, 30)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	logger.Info("call completed", "target", "users")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"call completed"`) {
		t.Fatalf("log file missing JSON record: %s", data)
	}
}

func TestSetup_LevelFiltersDebug(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.log")

	logger, closer, err := Setup(path, "warn", 1, 3, 30)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	logger.Debug("noise")
	logger.Warn("important")
	closer.Close()

	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "noise") {
		t.Error("debug record should be filtered at warn level")
	}
	if !strings.Contains(string(data), "important") {
		t.Error("warn record should be written")
	}
}
