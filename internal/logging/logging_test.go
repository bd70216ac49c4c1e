package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"segrag/internal/config"
)

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("hidden")
	logger.Warn("shown", "chunk", 2)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines = %q", lines)
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatal(err)
	}
	if rec["msg"] != "shown" || rec["chunk"] != float64(2) {
		t.Fatalf("record = %v", rec)
	}
}

func TestTextLoggerDebug(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(config.LogConfig{Level: "debug"}, &buf)
	if err != nil {
		t.Fatal(err)
	}
	logger.Debug("segmented", "segments", 4)
	if !strings.Contains(buf.String(), "msg=segmented segments=4") {
		t.Fatalf("output = %q", buf.String())
	}
}

func TestUnknownLevel(t *testing.T) {
	if _, err := New(config.LogConfig{Level: "loud"}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error")
	}
}
