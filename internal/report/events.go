package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	EventScan       EventType = "scan"
	EventGroup      EventType = "group"
	EventScore      EventType = "score"
	EventAI         EventType = "ai"
	EventMove       EventType = "move"
	EventRestore    EventType = "restore"
	EventIncomplete EventType = "incomplete"
	EventSession    EventType = "session"
	EventError      EventType = "error"
)

// EventLevel represents the severity level
type EventLevel string

const (
	LevelDebug   EventLevel = "debug"
	LevelInfo    EventLevel = "info"
	LevelWarning EventLevel = "warning"
	LevelError   EventLevel = "error"
)

// levelPriority maps event levels to numeric priorities for comparison
var levelPriority = map[EventLevel]int{
	LevelDebug:   0,
	LevelInfo:    1,
	LevelWarning: 2,
	LevelError:   3,
}

// ParseLevel maps a level name to an EventLevel, defaulting to info
func ParseLevel(s string) EventLevel {
	switch EventLevel(s) {
	case LevelDebug, LevelWarning, LevelError:
		return EventLevel(s)
	}
	return LevelInfo
}

// Event represents a single entry in the run's audit trail
type Event struct {
	Timestamp time.Time         `json:"ts"`
	Level     EventLevel        `json:"level"`
	Event     EventType         `json:"event"`
	ScanID    string            `json:"scan_id,omitempty"`
	AlbumKey  string            `json:"album_key,omitempty"`
	Path      string            `json:"path,omitempty"`
	DestPath  string            `json:"dest_path,omitempty"`
	GroupKey  string            `json:"group_key,omitempty"`
	MoveID    string            `json:"move_id,omitempty"`
	Score     float64           `json:"score,omitempty"`
	Action    string            `json:"action,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	SizeMB    float64           `json:"size_mb,omitempty"`
	Duration  int64             `json:"duration_ms,omitempty"` // in milliseconds
	Error     string            `json:"error,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// EventLogger writes events to a JSONL file
type EventLogger struct {
	file     *os.File
	encoder  *json.Encoder
	mu       sync.Mutex
	path     string
	minLevel EventLevel
}

// NewEventLogger creates a new event logger with a minimum log level
// minLevel determines which events are written (e.g., LevelInfo skips LevelDebug)
func NewEventLogger(outputDir string, minLevel EventLevel) (*EventLogger, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	timestamp := time.Now().Format("20060102-150405")
	path := filepath.Join(outputDir, fmt.Sprintf("events-%s.jsonl", timestamp))

	// Two runs inside the same second share a file
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create event log: %w", err)
	}

	return &EventLogger{
		file:     file,
		encoder:  json.NewEncoder(file),
		path:     path,
		minLevel: minLevel,
	}, nil
}

// Log writes an event to the JSONL file
func (l *EventLogger) Log(event *Event) error {
	if l == nil || l.file == nil {
		return nil // Silently ignore if logger not initialized
	}

	if levelPriority[event.Level] < levelPriority[l.minLevel] {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	return nil
}

// LogAlbumScanned logs one album folder read by the scanner
func (l *EventLogger) LogAlbumScanned(scanID, albumKey string, tracks int, cached bool) error {
	level := LevelInfo
	if cached {
		level = LevelDebug
	}
	return l.Log(&Event{
		Level:    level,
		Event:    EventScan,
		ScanID:   scanID,
		AlbumKey: albumKey,
		Extra: map[string]string{
			"tracks": strconv.Itoa(tracks),
			"cached": strconv.FormatBool(cached),
		},
	})
}

// LogScanError logs an album that could not be read
func (l *EventLogger) LogScanError(scanID, albumKey string, err error) error {
	return l.Log(&Event{
		Level:    LevelError,
		Event:    EventScan,
		ScanID:   scanID,
		AlbumKey: albumKey,
		Error:    err.Error(),
	})
}

// LogGroup logs a duplicate group found for an artist
func (l *EventLogger) LogGroup(scanID, groupKey, title string, editions int, noMove bool) error {
	level := LevelInfo
	if noMove {
		level = LevelWarning
	}
	return l.Log(&Event{
		Level:    level,
		Event:    EventGroup,
		ScanID:   scanID,
		GroupKey: groupKey,
		Extra: map[string]string{
			"title":    title,
			"editions": strconv.Itoa(editions),
			"no_move":  strconv.FormatBool(noMove),
		},
	})
}

// LogScore logs the kept edition of a ranked group
func (l *EventLogger) LogScore(scanID, groupKey, keptPath string, score, margin float64) error {
	return l.Log(&Event{
		Level:    LevelInfo,
		Event:    EventScore,
		ScanID:   scanID,
		GroupKey: groupKey,
		Path:     keptPath,
		Score:    score,
		Extra: map[string]string{
			"margin": strconv.FormatFloat(margin, 'f', 1, 64),
		},
	})
}

// LogAI logs a tie-breaker call; err is nil on success
func (l *EventLogger) LogAI(scanID, groupKey, action string, duration time.Duration, err error) error {
	level := LevelInfo
	errMsg := ""
	if err != nil {
		level = LevelWarning
		errMsg = err.Error()
	}
	return l.Log(&Event{
		Level:    level,
		Event:    EventAI,
		ScanID:   scanID,
		GroupKey: groupKey,
		Action:   action,
		Duration: duration.Milliseconds(),
		Error:    errMsg,
	})
}

// LogMove logs a move attempt; action is "move" or "dry-run"
func (l *EventLogger) LogMove(scanID, moveID, reason, src, dest, action string, sizeMB float64, duration time.Duration, err error) error {
	level := LevelInfo
	errMsg := ""
	if err != nil {
		level = LevelError
		errMsg = err.Error()
	}
	return l.Log(&Event{
		Level:    level,
		Event:    EventMove,
		ScanID:   scanID,
		MoveID:   moveID,
		Path:     src,
		DestPath: dest,
		Action:   action,
		Reason:   reason,
		SizeMB:   sizeMB,
		Duration: duration.Milliseconds(),
		Error:    errMsg,
	})
}

// LogRestore logs a restored move or a restore conflict
func (l *EventLogger) LogRestore(scanID, moveID, path string, conflict string) error {
	level := LevelInfo
	if conflict != "" {
		level = LevelWarning
	}
	return l.Log(&Event{
		Level:  level,
		Event:  EventRestore,
		ScanID: scanID,
		MoveID: moveID,
		Path:   path,
		Reason: conflict,
	})
}

// LogIncomplete logs an album classified as incomplete
func (l *EventLogger) LogIncomplete(scanID, path string, expected, actual int) error {
	return l.Log(&Event{
		Level:  LevelInfo,
		Event:  EventIncomplete,
		ScanID: scanID,
		Path:   path,
		Extra: map[string]string{
			"expected": strconv.Itoa(expected),
			"actual":   strconv.Itoa(actual),
		},
	})
}

// LogSession logs a scan session state change
func (l *EventLogger) LogSession(scanID, from, to string) error {
	return l.Log(&Event{
		Level:  LevelInfo,
		Event:  EventSession,
		ScanID: scanID,
		Action: from + "->" + to,
	})
}

// LogError logs an error event
func (l *EventLogger) LogError(event EventType, path string, err error) error {
	return l.Log(&Event{
		Level: LevelError,
		Event: event,
		Path:  path,
		Error: err.Error(),
	})
}

// Close closes the event log file
func (l *EventLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.file.Close()
}

// Path returns the path to the event log file
func (l *EventLogger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// NullLogger returns a no-op event logger
func NullLogger() *EventLogger {
	return nil
}
