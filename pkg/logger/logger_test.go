package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestMaskedValue(t *testing.T) {
	cases := map[string]string{
		"":            "",
		"a":           "<redacted>",
		"ab":          "<redacted>",
		"abc":         "a*****c",
		"Bearer xyz1": "B*****1",
	}
	for in, want := range cases {
		if got := maskedValue(in); got != want {
			t.Fatalf("maskedValue(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("DEBUG") != slog.LevelDebug {
		t.Fatalf("expected debug level")
	}
	if ParseLevel("warning") != slog.LevelWarn {
		t.Fatalf("expected warn level")
	}
	if ParseLevel("nonsense") != slog.LevelInfo {
		t.Fatalf("expected info fallback")
	}
}

func TestInitWriterJSON(t *testing.T) {
	prev := Log
	defer func() { Log = prev }()

	var buf bytes.Buffer
	InitWriter(&buf, "info", "json")
	Info("message_committed", "conversation", "c-1")
	Debug("should_not_appear")

	out := buf.String()
	if !strings.Contains(out, `"msg":"message_committed"`) {
		t.Fatalf("expected json record, got %q", out)
	}
	if strings.Contains(out, "should_not_appear") {
		t.Fatalf("debug record leaked at info level: %q", out)
	}
}
