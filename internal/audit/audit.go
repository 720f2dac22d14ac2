// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package audit implements the per-execution audit trail: an append-only,
// newline-delimited JSON file that records every lifecycle event of an
// execution (START, CHECKPOINT, PAUSE, RESUME, ERROR, EXIT, ...).
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/jinterlante1206/pystele-go/internal/clock"
)

// Event is one record appended to an execution's audit.log.
type Event struct {
	Timestamp string         `json:"timestamp"`
	Sequence  uint64         `json:"sequence"`
	ExecID    string         `json:"exec_id"`
	EventType string         `json:"event_type"`
	Outcome   string         `json:"outcome,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Filter narrows a Query to a subset of recorded events. Zero-valued fields
// are not applied.
type Filter struct {
	EventTypes []string
	Since      time.Time
	Until      time.Time
	Limit      int
}

// Logger appends events to a single execution's audit.log and can replay
// them back.
//
// A Logger is safe for concurrent use: writes are serialized and every
// record is flushed and fsynced before Log returns, so a crash immediately
// after Log cannot silently drop the most recent event.
type Logger struct {
	mu    sync.Mutex
	file  *os.File
	clock clock.LogicalClock
}

// Open appends to (creating if necessary) the audit.log at path.
func Open(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	return &Logger{file: f}, nil
}

// Log appends event to the log, filling in Timestamp and Sequence, then
// flushes and fsyncs before returning.
func (l *Logger) Log(_ context.Context, execID, eventType, outcome string, metadata map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts, seq := l.clock.Tick()
	event := Event{
		Timestamp: ts,
		Sequence:  seq,
		ExecID:    execID,
		EventType: eventType,
		Outcome:   outcome,
		Metadata:  metadata,
	}

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit: marshal event: %w", err)
	}
	line = append(line, '\n')

	if _, err := l.file.Write(line); err != nil {
		return fmt.Errorf("audit: write event: %w", err)
	}
	return l.file.Sync()
}

// Query replays every event, applying filter, and returns the matching
// ones in file order (oldest first).
func (l *Logger) Query(_ context.Context, filter Filter) ([]Event, error) {
	l.mu.Lock()
	path := l.file.Name()
	l.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audit: reopen for query: %w", err)
	}
	defer f.Close()

	var out []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		if !matches(e, filter) {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("audit: scan: %w", err)
	}
	return out, nil
}

// Flush is a no-op: every Log call already fsyncs before returning.
func (l *Logger) Flush(_ context.Context) error { return nil }

// Close releases the underlying file handle.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

func matches(e Event, f Filter) bool {
	if len(f.EventTypes) > 0 {
		found := false
		for _, t := range f.EventTypes {
			if t == e.EventType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.Since.IsZero() && e.Timestamp < f.Since.UTC().Format("2006-01-02T15:04:05.000Z07:00") {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp > f.Until.UTC().Format("2006-01-02T15:04:05.000Z07:00") {
		return false
	}
	return true
}
