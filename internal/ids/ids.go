// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ids generates the identifiers used throughout the engine:
// execution, run, and branch IDs, each a fixed prefix, a UTC timestamp, and
// a random hex suffix.
package ids

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

func newID(prefix string, now time.Time) string {
	suffix := make([]byte, 4)
	// crypto/rand.Read never returns a short read without an error on the
	// platforms this engine targets; a zero suffix on the rare error path
	// is an acceptable degradation for an identifier's tail, not its space.
	_, _ = rand.Read(suffix)
	return fmt.Sprintf("%s-%s-%s", prefix, now.UTC().Format("20060102T150405"), hex.EncodeToString(suffix))
}

// NewExecutionID returns an identifier of the form
// execution-YYYYMMDDThhmmss-xxxxxxxx.
func NewExecutionID() string { return newID("execution", time.Now()) }

// NewRunID returns an identifier of the form run-YYYYMMDDThhmmss-xxxxxxxx.
func NewRunID() string { return newID("run", time.Now()) }

// NewBranchID returns an identifier of the form
// branch-YYYYMMDDThhmmss-xxxxxxxx.
func NewBranchID() string { return newID("branch", time.Now()) }
