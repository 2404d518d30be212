package logging

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func readEvents(t *testing.T, path string) []Event {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("decode log line: %v", err)
		}
		events = append(events, ev)
	}
	return events
}

func TestLoggerWritesJSONL(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(dir, "panel")
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer logger.Close()

	logger.SetScope("work")
	if err := logger.Info(CategoryStore, "refresh", "documents refreshed", map[string]any{"count": 3}); err != nil {
		t.Fatalf("Info failed: %v", err)
	}

	events := readEvents(t, filepath.Join(dir, "panel.jsonl"))
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if ev.Category != CategoryStore || ev.EventType != "refresh" {
		t.Errorf("Unexpected event: %+v", ev)
	}
	if ev.Scope != "work" {
		t.Errorf("Expected scope 'work', got %q", ev.Scope)
	}
	if ev.Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}
}

func TestLoggerErrorMirroring(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(dir, "panel")
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer logger.Close()

	logger.Error(CategorySession, "stream_error", "stream failed", nil)
	logger.Info(CategorySession, "stream_done", "ok", nil)

	errEvents := readEvents(t, filepath.Join(dir, "errors.jsonl"))
	if len(errEvents) != 1 {
		t.Fatalf("Expected 1 error event, got %d", len(errEvents))
	}
	if errEvents[0].EventType != "stream_error" {
		t.Errorf("Unexpected error event: %+v", errEvents[0])
	}
}

func TestLoggerMinLevel(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(dir, "panel")
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer logger.Close()

	logger.Debug(CategoryBus, "publish", "should be dropped", nil)
	logger.SetMinLevel(LevelDebug)
	logger.Debug(CategoryBus, "publish", "should be kept", nil)

	events := readEvents(t, filepath.Join(dir, "panel.jsonl"))
	if len(events) != 1 {
		t.Fatalf("Expected 1 event after min-level filtering, got %d", len(events))
	}
}

func TestNopLoggerDoesNotPanic(t *testing.T) {
	logger := Nop()
	if err := logger.Error(CategoryNetwork, "noop", "dropped", nil); err != nil {
		t.Fatalf("Nop logger should swallow events, got %v", err)
	}
}
