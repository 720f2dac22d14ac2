// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package clock provides the timestamp formatting used across audit
// records and checkpoint metadata, plus a small monotonic counter used to
// order events that land within the same millisecond.
package clock

import (
	"sync/atomic"
	"time"
)

// Now returns the current UTC time formatted to millisecond precision,
// RFC3339-compatible.
func Now() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// LogicalClock hands out a strictly increasing sequence number alongside a
// wall-clock timestamp, so events sharing a timestamp still sort stably.
type LogicalClock struct {
	seq uint64
}

// Tick returns the current timestamp and the next sequence number.
func (c *LogicalClock) Tick() (string, uint64) {
	return Now(), atomic.AddUint64(&c.seq, 1)
}
