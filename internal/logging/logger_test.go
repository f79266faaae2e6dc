package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewTagsServiceAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "escrow", "warn")

	logger.Info("dropped")
	logger.Warn("kept", "order_id", "o-1")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected a single json line, got %q: %v", buf.String(), err)
	}
	if entry["service"] != "escrow" || entry["msg"] != "kept" || entry["order_id"] != "o-1" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestNewInvalidLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "", "loud").Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug should be filtered at info, got %q", buf.String())
	}
}
