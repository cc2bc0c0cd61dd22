// ABOUTME: Tests for logger construction
// ABOUTME: Verifies level parsing, handler selection, and timestamp format
package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "debug", JSON: true, Output: &buf})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	logger.Debug("drain", "count", 3)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON line, got %q", buf.String())
	}
	if entry["msg"] != "drain" || entry["count"] != float64(3) {
		t.Errorf("unexpected entry %v", entry)
	}

	ts, ok := entry["time"].(string)
	if !ok {
		t.Fatalf("expected string time, got %v", entry["time"])
	}
	if _, err := time.Parse(time.RFC3339, ts); err != nil || !strings.HasSuffix(ts, "Z") {
		t.Errorf("expected RFC3339 UTC time, got %q", ts)
	}
}

func TestNew_TextFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "warn", Output: &buf})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line should be filtered: %q", out)
	}
	if !strings.Contains(out, "msg=shown") {
		t.Errorf("expected text warn line, got %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"", false},
		{"INFO", false},
		{" debug ", false},
		{"warning", false},
		{"error", false},
		{"verbose", true},
	}
	for _, tt := range tests {
		_, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q): expected error=%v, got %v", tt.in, tt.wantErr, err)
		}
	}
}
