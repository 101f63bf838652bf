package log

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(LevelError)
	defer SetLevel(LevelInfo)

	Info("hidden", "k", 1)
	Error("shown", errors.New("boom"), "campus", "first")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line leaked at ERROR level: %q", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "err=boom") || !strings.Contains(out, "campus=first") {
		t.Errorf("error line missing fields: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":  LevelDebug,
		" INFO ": LevelInfo,
		"error":  LevelError,
		"":       LevelInfo,
		"trace":  LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestRedactURL(t *testing.T) {
	tests := map[string]string{
		"https://example.com/path/to/file.xlsx?token=abc": "https://example.com/...(redacted)",
		"http://host:8080":                                "http://host:8080/...(redacted)",
		"not a url":                                       "...(redacted)",
	}
	for in, want := range tests {
		if got := RedactURL(in); got != want {
			t.Errorf("RedactURL(%q) = %q, want %q", in, got, want)
		}
	}
}
