package logger

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogEntry is one captured log event.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Component string    `json:"component,omitempty"`
	Message   string    `json:"message"`
	Caller    string    `json:"caller,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// LogBuffer is a fixed-size ring of recent log entries.
type LogBuffer struct {
	mu       sync.RWMutex
	entries  []LogEntry
	size     int
	writePos int
	count    int
}

var (
	globalBuffer *LogBuffer
	bufferOnce   sync.Once
)

// GetBuffer returns the process-wide buffer (10k entries).
func GetBuffer() *LogBuffer {
	bufferOnce.Do(func() {
		globalBuffer = NewLogBuffer(10000)
	})
	return globalBuffer
}

func NewLogBuffer(size int) *LogBuffer {
	if size <= 0 {
		size = 1
	}
	return &LogBuffer{
		entries: make([]LogEntry, size),
		size:    size,
	}
}

func (b *LogBuffer) Add(entry LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.writePos] = entry
	b.writePos = (b.writePos + 1) % b.size
	if b.count < b.size {
		b.count++
	}
}

// GetRecent returns up to limit entries, newest first, at or above level
// and no older than sinceMinutes. Zero values disable a filter.
func (b *LogBuffer) GetRecent(limit int, level string, sinceMinutes int) []LogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if limit <= 0 || limit > b.count {
		limit = b.count
	}

	var cutoff time.Time
	if sinceMinutes > 0 {
		cutoff = time.Now().Add(-time.Duration(sinceMinutes) * time.Minute)
	}
	minLevel := zerolog.NoLevel
	if level != "" {
		if l, err := zerolog.ParseLevel(strings.ToLower(level)); err == nil {
			minLevel = l
		}
	}

	result := make([]LogEntry, 0, limit)
	for i := 0; i < b.count && len(result) < limit; i++ {
		entry := b.entries[(b.writePos-1-i+b.size)%b.size]
		if entry.Timestamp.Before(cutoff) {
			continue
		}
		if minLevel != zerolog.NoLevel {
			l, err := zerolog.ParseLevel(strings.ToLower(entry.Level))
			if err != nil || l < minLevel {
				continue
			}
		}
		result = append(result, entry)
	}
	return result
}

// BufferWriter decodes zerolog JSON events into a LogBuffer.
type BufferWriter struct {
	buffer *LogBuffer
}

func NewBufferWriter(buffer *LogBuffer) *BufferWriter {
	return &BufferWriter{buffer: buffer}
}

func (w *BufferWriter) Write(p []byte) (int, error) {
	if entry, ok := parseEvent(p); ok {
		w.buffer.Add(entry)
	}
	return len(p), nil
}

// WriteLevel makes BufferWriter a zerolog.LevelWriter.
func (w *BufferWriter) WriteLevel(_ zerolog.Level, p []byte) (int, error) {
	return w.Write(p)
}

func parseEvent(p []byte) (LogEntry, bool) {
	var raw struct {
		Level     string `json:"level"`
		Component string `json:"component"`
		Message   string `json:"message"`
		Caller    string `json:"caller"`
		Error     string `json:"error"`
		Time      string `json:"time"`
	}
	if err := json.Unmarshal(p, &raw); err != nil {
		return LogEntry{}, false
	}
	if raw.Level == "" && raw.Message == "" {
		return LogEntry{}, false
	}

	entry := LogEntry{
		Timestamp: time.Now(),
		Level:     strings.ToUpper(raw.Level),
		Component: raw.Component,
		Message:   raw.Message,
		Caller:    raw.Caller,
		Error:     raw.Error,
	}
	if t, err := time.Parse(time.RFC3339, raw.Time); err == nil {
		entry.Timestamp = t
	}
	return entry, true
}
