package log

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitFileLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "shipdeck.log")

	fl, err := InitFileLogger(path, LevelInfo)
	if err != nil {
		t.Fatalf("InitFileLogger: %v", err)
	}
	defer func() {
		InitLogger(LevelInfo)
		if err := fl.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}()

	Info("hello %s", "file")
	Debug("filtered out")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, "[INFO]") || !strings.Contains(out, "hello file") {
		t.Fatalf("log file missing info line: %q", out)
	}
	if strings.Contains(out, "filtered out") {
		t.Fatalf("debug line should be filtered at info level: %q", out)
	}
}
