package logger

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func TestStdLogger(t *testing.T) {
	var buf bytes.Buffer
	l := &StdLogger{
		logger: log.New(&buf, "", 0),
		debug:  true,
	}

	tests := []struct {
		name     string
		fn       func()
		expected string
	}{
		{
			name:     "Info",
			fn:       func() { l.Info("upgraded to version %d", 10) },
			expected: "[INFO] upgraded to version 10",
		},
		{
			name:     "Warn",
			fn:       func() { l.Warn("relocate artifact %s", "abc") },
			expected: "[WARN] relocate artifact abc",
		},
		{
			name:     "Error",
			fn:       func() { l.Error("error message") },
			expected: "[ERROR] error message",
		},
		{
			name:     "Debug",
			fn:       func() { l.Debug("debug message") },
			expected: "[DEBUG] debug message",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			tt.fn()
			got := strings.TrimSpace(buf.String())
			if got != tt.expected {
				t.Errorf("got %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestDebugDisabled(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, false)

	l.Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("debug line written with debug disabled: %q", buf.String())
	}

	l.Info("shown")
	if !strings.Contains(buf.String(), "[INFO] shown") {
		t.Errorf("got %q, want info line", buf.String())
	}
}

func TestOrDefault(t *testing.T) {
	if OrDefault(nil) != Default {
		t.Error("OrDefault(nil) should return Default")
	}
	if OrDefault(Discard) != Discard {
		t.Error("OrDefault should keep a non-nil logger")
	}
}
