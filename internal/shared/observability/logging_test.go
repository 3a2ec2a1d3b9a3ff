package observability

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"trace": LevelTrace,
		"DEBUG": slog.LevelDebug,
		"":      slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestSetupLoggingJSONAndLevelChange(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	if err := SetupLogging(&buf, "warn", "json"); err != nil {
		t.Fatalf("setup: %v", err)
	}
	slog.Info("hidden")
	slog.Warn("shown", "path", "a.go")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), `"path":"a.go"`) {
		t.Fatalf("unexpected output %q", buf.String())
	}

	if err := SetLevel("debug"); err != nil {
		t.Fatalf("set level: %v", err)
	}
	slog.Debug("now visible")
	if !strings.Contains(buf.String(), "now visible") {
		t.Fatalf("level change not applied: %q", buf.String())
	}

	if err := SetupLogging(&buf, "info", "xml"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}
