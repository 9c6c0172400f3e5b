package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLogWritesJSONToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "requests.log")

	l := &Logger{enabled: true}
	if err := l.SetOutput(path); err != nil {
		t.Fatalf("SetOutput failed: %v", err)
	}
	defer l.Close()

	l.Log(&RequestLog{
		RequestID: "req-1",
		Method:    "GET",
		Path:      "/todos/1",
		Status:    200,
		Outcome:   "Done",
	})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}

	var entry RequestLog
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("failed to unmarshal log line: %v", err)
	}
	if entry.RequestID != "req-1" || entry.Status != 200 {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestLogSkipsWhenDisabled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "requests.log")

	l := &Logger{enabled: false}
	if err := l.SetOutput(path); err != nil {
		t.Fatalf("SetOutput failed: %v", err)
	}
	defer l.Close()

	l.Log(&RequestLog{RequestID: "req-2", Outcome: "Done"})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if len(data) != 0 {
		t.Fatalf("expected no output while disabled, got %q", data)
	}
}

func TestSetOutputClosesPreviousFile(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.log")
	second := filepath.Join(dir, "second.log")

	l := &Logger{enabled: true}
	if err := l.SetOutput(first); err != nil {
		t.Fatalf("SetOutput(first) failed: %v", err)
	}
	if err := l.SetOutput(second); err != nil {
		t.Fatalf("SetOutput(second) failed: %v", err)
	}
	defer l.Close()

	l.Log(&RequestLog{RequestID: "req-3", Outcome: "Done"})

	data, err := os.ReadFile(second)
	if err != nil {
		t.Fatalf("failed to read second log file: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected the entry to land in the second file")
	}
}

func TestDefaultReturnsASharedLogger(t *testing.T) {
	if Default() != Default() {
		t.Fatal("expected Default() to return the same shared instance across calls")
	}
}
