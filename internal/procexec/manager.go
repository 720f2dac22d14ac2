// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package procexec launches and supervises the child processes that carry
// out an execution, and projects their OS-level state (running, paused,
// stopped) back to the supervisor.
package procexec

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
)

// StartSpec describes a child process to launch.
type StartSpec struct {
	// Path to the executable to run; normally the running binary
	// (os.Executable) re-launched in child mode.
	Path string
	Args []string
	Env  []string
	Dir  string

	Stdout *os.File
	Stderr *os.File
}

// Manager launches and signals child processes. DefaultManager implements
// it against the real OS; MockManager is a test double recording calls.
type Manager interface {
	Start(spec StartSpec) (pid int, err error)
	Signal(pid int, sig syscall.Signal) error
	IsAlive(pid int) bool
	State(pid int) State
}

// DefaultManager launches real OS processes.
type DefaultManager struct{}

// Start launches spec as a new, detached process and returns its PID
// without waiting for it to exit. The child is started in a new session
// (via sysProcAttrDetached, platform-specific) so it keeps running after
// the launching process exits.
func (DefaultManager) Start(spec StartSpec) (int, error) {
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Env = spec.Env
	cmd.Dir = spec.Dir
	cmd.Stdout = spec.Stdout
	cmd.Stderr = spec.Stderr
	cmd.SysProcAttr = sysProcAttrDetached()

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("procexec: start %s: %w", spec.Path, err)
	}
	pid := cmd.Process.Pid
	// The child is detached; release so the Go runtime doesn't keep trying
	// to reap it as our own child on exit.
	if err := cmd.Process.Release(); err != nil {
		return pid, fmt.Errorf("procexec: release %s: %w", spec.Path, err)
	}
	return pid, nil
}

// Signal sends sig to pid. Signaling a process that no longer exists is
// treated as already-done rather than an error.
func (m DefaultManager) Signal(pid int, sig syscall.Signal) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	if err := proc.Signal(sig); err != nil {
		if !m.IsAlive(pid) {
			return nil
		}
		return fmt.Errorf("procexec: signal pid %d: %w", pid, err)
	}
	return nil
}

// IsAlive reports whether pid refers to a live process, via the
// zero-signal liveness probe. A zombie (exited, not yet reaped) still
// answers that probe, so where /proc/<pid>/stat is readable a zombie state
// is reported as not alive.
func (DefaultManager) IsAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	if proc.Signal(syscall.Signal(0)) != nil {
		return false
	}
	if data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid)); err == nil {
		stat := string(data)
		if idx := strings.LastIndexByte(stat, ')'); idx >= 0 {
			if fields := strings.Fields(stat[idx+1:]); len(fields) > 0 && (fields[0] == "Z" || fields[0] == "X") {
				return false
			}
		}
	}
	return true
}

// State projects pid's OS process state into the engine's state space.
func (DefaultManager) State(pid int) State {
	return ProcessState(pid)
}

var _ Manager = DefaultManager{}
