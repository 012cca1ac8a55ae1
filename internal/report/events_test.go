package report

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func readEvents(t *testing.T, path string) []Event {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open log file: %v", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("Invalid JSONL line %q: %v", scanner.Text(), err)
		}
		events = append(events, e)
	}
	return events
}

func TestNewEventLogger(t *testing.T) {
	tmpDir := t.TempDir()

	logger, err := NewEventLogger(tmpDir, LevelDebug)
	if err != nil {
		t.Fatalf("NewEventLogger failed: %v", err)
	}
	defer logger.Close()

	if _, err := os.Stat(logger.Path()); os.IsNotExist(err) {
		t.Errorf("Event log file was not created at %s", logger.Path())
	}

	filename := filepath.Base(logger.Path())
	if len(filename) < len("events-20060102-150405.jsonl") {
		t.Errorf("Event log filename format incorrect: %s", filename)
	}
}

func TestEventLogger_TypedEvents(t *testing.T) {
	logger, err := NewEventLogger(t.TempDir(), LevelDebug)
	if err != nil {
		t.Fatalf("NewEventLogger failed: %v", err)
	}

	logger.LogAlbumScanned("s1", "/music/A/B", 10, false)
	logger.LogGroup("s1", "g-1", "OK Computer", 2, true)
	logger.LogScore("s1", "g-1", "/music/A/B", 250, 100)
	logger.LogMove("s1", "m1", "dedupe", "/music/A/C", "/dupes/A/C (2)", "move", 312.5, 40*time.Millisecond, nil)
	logger.LogRestore("s1", "m1", "/music/A/C", "")
	logger.LogAI("s1", "g-1", "evaluate", time.Second, errors.New("deadline exceeded"))
	logger.Close()

	events := readEvents(t, logger.Path())
	if len(events) != 6 {
		t.Fatalf("Expected 6 events, got %d", len(events))
	}

	if events[0].Event != EventScan || events[0].Extra["tracks"] != "10" {
		t.Errorf("scan event = %+v", events[0])
	}
	if events[1].Level != LevelWarning || events[1].Extra["no_move"] != "true" {
		t.Errorf("no_move group should be a warning: %+v", events[1])
	}
	if events[2].Extra["margin"] != "100.0" {
		t.Errorf("score margin = %q", events[2].Extra["margin"])
	}
	move := events[3]
	if move.MoveID != "m1" || move.DestPath != "/dupes/A/C (2)" || move.SizeMB != 312.5 || move.Duration != 40 {
		t.Errorf("move event = %+v", move)
	}
	if events[5].Level != LevelWarning || events[5].Error != "deadline exceeded" {
		t.Errorf("AI failure event = %+v", events[5])
	}
}

func TestEventLogger_ConcurrentWrites(t *testing.T) {
	logger, err := NewEventLogger(t.TempDir(), LevelDebug)
	if err != nil {
		t.Fatalf("NewEventLogger failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				logger.LogAlbumScanned("s1", "/music/x", j, false)
			}
		}()
	}
	wg.Wait()
	logger.Close()

	if got := len(readEvents(t, logger.Path())); got != 200 {
		t.Errorf("Expected 200 events, got %d", got)
	}
}

func TestEventLogger_NullLogger(t *testing.T) {
	logger := NullLogger()

	if err := logger.LogAlbumScanned("s", "/path", 1, false); err != nil {
		t.Errorf("NullLogger should not error: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("NullLogger.Close should not error: %v", err)
	}
	if logger.Path() != "" {
		t.Errorf("NullLogger path should be empty")
	}
}

func TestEventLogger_LogLevelFiltering(t *testing.T) {
	tests := []struct {
		minLevel EventLevel
		expected int
	}{
		{LevelDebug, 3},
		{LevelInfo, 2},
		{LevelWarning, 1},
		{LevelError, 0},
	}

	for _, tt := range tests {
		t.Run(string(tt.minLevel), func(t *testing.T) {
			logger, err := NewEventLogger(t.TempDir(), tt.minLevel)
			if err != nil {
				t.Fatalf("NewEventLogger failed: %v", err)
			}

			// One debug, one info and one warning event
			logger.LogAlbumScanned("s", "/a", 1, true)
			logger.LogAlbumScanned("s", "/b", 1, false)
			logger.LogRestore("s", "m", "/c", "source_occupied")
			logger.Close()

			if got := len(readEvents(t, logger.Path())); got != tt.expected {
				t.Errorf("Expected %d events at %s, got %d", tt.expected, tt.minLevel, got)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("debug") != LevelDebug || ParseLevel("bogus") != LevelInfo {
		t.Error("ParseLevel mapping is wrong")
	}
}
