package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerTo(&buf, false, false)
	l.now = func() time.Time { return time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC) }

	l.Info("hidden")
	l.Debug("hidden")
	l.Warn("cache %s", "cold")
	l.Error("failed: %d", 2)

	got := buf.String()
	if strings.Contains(got, "hidden") {
		t.Fatalf("quiet logger wrote info/debug: %q", got)
	}
	want := "[WARN] 09:30:00: cache cold\n[ERROR] 09:30:00: failed: 2\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}

	buf.Reset()
	l.Verbose, l.DebugMode = true, true
	l.Info("compiling %s", "a.json")
	l.Debug("key %s", "abc")
	if !strings.Contains(buf.String(), "[INFO] 09:30:00: compiling a.json") ||
		!strings.Contains(buf.String(), "[DEBUG] 09:30:00: key abc") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wp4c.json")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("missing file: %v", err)
	}
	if cfg.OutDir != "." {
		t.Fatalf("unexpected default out dir %q", cfg.OutDir)
	}

	cfg.Jobs = 4
	cfg.Target = "kernel.json"
	cfg.NoTimestamp = true
	if err := cfg.SaveConfig(path); err != nil {
		t.Fatal(err)
	}
	got, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Jobs != 4 || got.Target != "kernel.json" || !got.NoTimestamp {
		t.Fatalf("config not preserved: %+v", got)
	}
}

func TestLoadConfigRejectsNegativeJobs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wp4c.json")
	if err := os.WriteFile(path, []byte(`{"jobs": -1}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected an error")
	}
}

func TestPrintVersion(t *testing.T) {
	var buf bytes.Buffer
	PrintVersion(&buf, "wp4c", false)
	if !strings.HasPrefix(buf.String(), "wp4c v"+Version+"\n") {
		t.Fatalf("unexpected version output %q", buf.String())
	}

	buf.Reset()
	PrintVersion(&buf, "wp4c", true)
	if !strings.Contains(buf.String(), `"tool": "wp4c"`) {
		t.Fatalf("unexpected JSON output %q", buf.String())
	}
}
