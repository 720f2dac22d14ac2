// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package execlock guards the read-modify-write sequence on an execution's
// meta.json with an advisory, cross-process file lock.
package execlock

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// StaleAfter is how old an unreleased lock file must be, combined with its
// holder no longer being alive, before ForceRelease will touch it.
const StaleAfter = time.Hour

// Lock is an advisory lock backed by flock(2) on a sidecar file next to the
// resource it protects (conventionally "<resource>.lock").
type Lock struct {
	path string
	file *os.File
}

// New returns a Lock for the sidecar file at path. The file is not created
// or opened until Acquire.
func New(path string) *Lock {
	return &Lock{path: path}
}

// ErrHeld is returned by Acquire when another process already holds the
// lock.
type ErrHeld struct {
	HolderPID int
	Path      string
}

func (e *ErrHeld) Error() string {
	return fmt.Sprintf("execlock: %s is held by pid %d", e.Path, e.HolderPID)
}

// Acquire takes an exclusive, non-blocking lock and records the current
// PID in the lock file for diagnosis of stuck locks.
func (l *Lock) Acquire() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o640)
	if err != nil {
		return fmt.Errorf("execlock: open %s: %w", l.path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		holder := readPID(f)
		f.Close()
		return &ErrHeld{HolderPID: holder, Path: l.path}
	}

	if err := f.Truncate(0); err != nil {
		f.Close()
		return fmt.Errorf("execlock: truncate %s: %w", l.path, err)
	}
	if _, err := f.WriteAt([]byte(fmt.Sprintf("pid=%d\ntime=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))), 0); err != nil {
		f.Close()
		return fmt.Errorf("execlock: write %s: %w", l.path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("execlock: sync %s: %w", l.path, err)
	}

	l.file = f
	return nil
}

// Release unlocks and closes the lock file, then removes it.
func (l *Lock) Release() error {
	if l.file == nil {
		return nil
	}
	defer func() { l.file = nil }()

	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		l.file.Close()
		return fmt.Errorf("execlock: unlock %s: %w", l.path, err)
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("execlock: close %s: %w", l.path, err)
	}
	return os.Remove(l.path)
}

// IsHeld reports whether another process currently holds the lock, by
// probing and immediately releasing a non-blocking lock attempt.
func IsHeld(path string) (bool, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o640)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("execlock: open %s: %w", path, err)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return true, nil
	}
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
	return false, nil
}

// HolderPID returns the PID recorded in the lock file, or 0 if it cannot
// be read.
func HolderPID(path string) int {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()
	return readPID(f)
}

func readPID(f *os.File) int {
	var pid int
	if _, err := f.Seek(0, 0); err != nil {
		return 0
	}
	if _, err := fmt.Fscanf(f, "pid=%d\n", &pid); err != nil {
		return 0
	}
	return pid
}

// IsStale reports whether the lock file at path is older than StaleAfter
// and its recorded holder is no longer alive.
func IsStale(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if time.Since(info.ModTime()) < StaleAfter {
		return false
	}

	pid := HolderPID(path)
	if pid <= 0 {
		return true
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return true
	}
	return proc.Signal(syscall.Signal(0)) != nil
}

// ForceRelease removes a lock file that IsStale has already confirmed is
// abandoned. Callers must check IsStale first; ForceRelease does not
// re-verify staleness itself.
func ForceRelease(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("execlock: force release %s: %w", path, err)
	}
	return nil
}
