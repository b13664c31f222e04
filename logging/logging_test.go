package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithOutput(&buf, "info", "json")
	if err != nil {
		t.Fatalf("NewWithOutput failed: %v", err)
	}

	logger.WithField("component", "chat").Info("State loaded")
	logger.Debug("hidden")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("Expected one line, got %d: %q", len(lines), buf.String())
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("Output is not JSON: %v", err)
	}
	if entry["component"] != "chat" || entry["msg"] != "State loaded" {
		t.Errorf("Unexpected entry %v", entry)
	}
}

func TestLevels(t *testing.T) {
	logger, err := NewWithOutput(&bytes.Buffer{}, "debug", "text")
	if err != nil {
		t.Fatalf("NewWithOutput failed: %v", err)
	}
	if logger.GetLevel() != logrus.DebugLevel {
		t.Errorf("Expected debug level, got %v", logger.GetLevel())
	}

	if _, err := NewWithOutput(&bytes.Buffer{}, "loud", "text"); err == nil {
		t.Error("Expected error for unknown level")
	}
	if _, err := NewWithOutput(&bytes.Buffer{}, "info", "xml"); err == nil {
		t.Error("Expected error for unknown format")
	}
}
