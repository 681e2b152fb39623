package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Level represents log severity
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Category represents the subsystem generating the log
type Category string

const (
	CategorySession  Category = "session"
	CategoryProtocol Category = "protocol"
	CategoryDispatch Category = "dispatch"
	CategorySnapshot Category = "snapshot"
	CategoryNetwork  Category = "network"
	CategoryStorage  Category = "storage"
)

// Event represents a structured log event
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Category  Category       `json:"category"`
	EventType string         `json:"type"`
	SessionID string         `json:"session_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Message   string         `json:"message,omitempty"`
}

// Logger writes structured events as JSON lines, one shared events file plus
// a separate error stream.
type Logger struct {
	mu        sync.Mutex
	eventFile *os.File
	errorFile *os.File
	minLevel  Level
	discard   bool
}

var levelRank = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// New creates a logger rooted at baseDir. Files are opened in append mode so
// restarts extend the existing streams.
func New(baseDir string, minLevel Level) (*Logger, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	eventFile, err := os.OpenFile(
		filepath.Join(baseDir, "events.jsonl"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644,
	)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	errorFile, err := os.OpenFile(
		filepath.Join(baseDir, "errors.jsonl"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644,
	)
	if err != nil {
		_ = eventFile.Close()
		return nil, fmt.Errorf("open error log: %w", err)
	}
	if _, ok := levelRank[minLevel]; !ok {
		minLevel = LevelInfo
	}
	return &Logger{
		eventFile: eventFile,
		errorFile: errorFile,
		minLevel:  minLevel,
	}, nil
}

// Discard returns a logger that drops everything. Useful default for tests
// and optional dependencies.
func Discard() *Logger {
	return &Logger{discard: true}
}

// Log writes one structured event.
func (l *Logger) Log(event Event) {
	if l == nil || l.discard {
		return
	}
	if levelRank[event.Level] < levelRank[l.minLevel] {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	line, err := json.Marshal(event)
	if err != nil {
		return
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.eventFile != nil {
		_, _ = l.eventFile.Write(line)
	}
	if event.Level == LevelError && l.errorFile != nil {
		_, _ = l.errorFile.Write(line)
	}
}

// Debug logs a debug-level event.
func (l *Logger) Debug(category Category, eventType, sessionID, message string, details map[string]any) {
	l.Log(Event{Level: LevelDebug, Category: category, EventType: eventType, SessionID: sessionID, Message: message, Details: details})
}

// Info logs an info-level event.
func (l *Logger) Info(category Category, eventType, sessionID, message string, details map[string]any) {
	l.Log(Event{Level: LevelInfo, Category: category, EventType: eventType, SessionID: sessionID, Message: message, Details: details})
}

// Warn logs a warning-level event.
func (l *Logger) Warn(category Category, eventType, sessionID, message string, details map[string]any) {
	l.Log(Event{Level: LevelWarn, Category: category, EventType: eventType, SessionID: sessionID, Message: message, Details: details})
}

// Error logs an error-level event; it is duplicated to the error stream.
func (l *Logger) Error(category Category, eventType, sessionID, message string, details map[string]any) {
	l.Log(Event{Level: LevelError, Category: category, EventType: eventType, SessionID: sessionID, Message: message, Details: details})
}

// Close flushes and closes the underlying files.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var firstErr error
	for _, f := range []*os.File{l.eventFile, l.errorFile} {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.eventFile = nil
	l.errorFile = nil
	return firstErr
}
