package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name string
		want LogLevel
	}{
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"ERROR", LevelError},
		{"bogus", LevelInfo},
		{"", LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.name); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestLogLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(LevelWarn, &buf)

	Debug("Test", "debug message")
	Info("Test", "info message")
	Warn("Test", "warn message")

	out := buf.String()
	if strings.Contains(out, "debug message") {
		t.Error("debug message should be filtered at warn level")
	}
	if strings.Contains(out, "info message") {
		t.Error("info message should be filtered at warn level")
	}
	if !strings.Contains(out, "warn message") {
		t.Error("warn message should be logged at warn level")
	}
}

func TestErrorIncludesErrAttribute(t *testing.T) {
	var buf bytes.Buffer
	Init(LevelInfo, &buf)

	Error("Test", errors.New("boom"), "operation failed")

	out := buf.String()
	if !strings.Contains(out, "operation failed") {
		t.Errorf("expected message in output, got %q", out)
	}
	if !strings.Contains(out, "boom") {
		t.Errorf("expected error attribute in output, got %q", out)
	}
	if !strings.Contains(out, "subsystem=Test") {
		t.Errorf("expected subsystem attribute in output, got %q", out)
	}
}

func TestTruncateSessionID(t *testing.T) {
	if got := TruncateSessionID("short"); got != "short" {
		t.Errorf("TruncateSessionID(short) = %q", got)
	}
	if got := TruncateSessionID("0123456789abcdef"); got != "01234567..." {
		t.Errorf("TruncateSessionID = %q", got)
	}
}
