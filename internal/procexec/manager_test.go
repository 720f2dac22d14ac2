// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package procexec

import (
	"os"
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultManagerStartAndSignal(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep binary not available")
	}

	m := DefaultManager{}
	pid, err := m.Start(StartSpec{
		Path:   "sleep",
		Args:   []string{"5"},
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	})
	require.NoError(t, err)
	require.True(t, m.IsAlive(pid))

	require.NoError(t, m.Signal(pid, syscall.SIGKILL))
	// Give the kernel a moment to reap the signal.
	for i := 0; i < 20 && m.IsAlive(pid); i++ {
		time.Sleep(50 * time.Millisecond)
	}
	require.False(t, m.IsAlive(pid))
}

func TestDefaultManagerSignalDeadPidIsNotAnError(t *testing.T) {
	m := DefaultManager{}
	err := m.Signal(999999999, syscall.SIGTERM)
	require.NoError(t, err)
}

func TestMockManagerRecordsCalls(t *testing.T) {
	m := &MockManager{}
	_, _ = m.Start(StartSpec{})
	_ = m.Signal(1, syscall.SIGSTOP)
	_ = m.IsAlive(1)

	require.Equal(t, []string{"Start", "Signal", "IsAlive"}, m.Calls)
}
