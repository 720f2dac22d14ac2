// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

//go:build linux

package procexec

import (
	"fmt"
	"os"
	"strings"
)

// State is the OS-level projection of a child process's lifecycle.
type State string

const (
	StateRunning State = "RUNNING"
	StatePaused  State = "PAUSED"
	StateStopped State = "STOPPED"
)

// ProcessState reads /proc/<pid>/stat and maps the process state character
// (field 3) to State. A stopped-by-signal process (state T or t) is
// reported PAUSED; any other living state is RUNNING; a pid that cannot be
// read is STOPPED.
func ProcessState(pid int) State {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return StateStopped
	}

	// Field 2 is "(comm)" and may itself contain spaces/parens, so field 3
	// is found after the last ')', not by a naive split on spaces.
	after := data
	if idx := strings.LastIndexByte(string(data), ')'); idx >= 0 {
		after = data[idx+1:]
	}
	fields := strings.Fields(string(after))
	if len(fields) == 0 {
		return StateStopped
	}

	switch fields[0] {
	case "T", "t":
		return StatePaused
	default:
		return StateRunning
	}
}
