// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package supervisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinterlante1206/pystele-go/internal/audit"
	"github.com/jinterlante1206/pystele-go/internal/procexec"
)

func init() {
	Register("test.noop", func(ctx context.Context, tc *TaskContext) error { return nil })
}

func newTestSupervisor(t *testing.T, mgr procexec.Manager) *Supervisor {
	t.Helper()
	s, err := New(t.TempDir(), mgr, nil)
	require.NoError(t, err)
	return s
}

func auditEvents(t *testing.T, s *Supervisor, execID string) []string {
	t.Helper()
	events, err := s.History(context.Background(), execID, audit.Filter{})
	require.NoError(t, err)
	types := make([]string, len(events))
	for i, e := range events {
		types[i] = e.EventType
	}
	return types
}

func TestRunSpawnsChildAndEmitsStart(t *testing.T) {
	mgr := &procexec.MockManager{
		StartFunc: func(spec procexec.StartSpec) (int, error) {
			assert.Contains(t, spec.Env, EnvChildTask+"=test.noop")
			return 4242, nil
		},
	}
	s := newTestSupervisor(t, mgr)

	execID, err := s.Run(context.Background(), RunSpec{
		TaskName:                  "test.noop",
		Args:                      []string{"alpha"},
		Metadata:                  map[string]any{"owner": "tests"},
		CheckpointIntervalSeconds: 30,
	})
	require.NoError(t, err)
	require.NotEmpty(t, execID)

	execDir := filepath.Join(s.Root(), execID)
	rec, err := readRecord(execDir)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, rec.State)
	assert.Equal(t, "test.noop", rec.TaskName)
	assert.Equal(t, []string{"alpha"}, rec.Args)
	assert.Equal(t, 4242, rec.PID)
	assert.Equal(t, 30, rec.CheckpointIntervalSeconds)
	assert.NotEmpty(t, rec.SpawnID)

	assert.Equal(t, 4242, readPID(execDir))
	assert.Equal(t, []string{"START"}, auditEvents(t, s, execID))

	for _, f := range []string{"stdout.log", "stderr.log", "audit.log", "meta.json", "pid"} {
		_, err := os.Stat(filepath.Join(execDir, f))
		assert.NoError(t, err, f)
	}
}

func TestRunRejectsUnknownTask(t *testing.T) {
	s := newTestSupervisor(t, &procexec.MockManager{})
	_, err := s.Run(context.Background(), RunSpec{TaskName: "test.never-registered"})
	require.Error(t, err)
}

func TestRunRejectsUnsafeExecID(t *testing.T) {
	s := newTestSupervisor(t, &procexec.MockManager{})
	_, err := s.Run(context.Background(), RunSpec{TaskName: "test.noop", ExecID: "../escape"})
	require.Error(t, err)
}

func TestRunRecordsSpawnFailure(t *testing.T) {
	mgr := &procexec.MockManager{
		StartFunc: func(procexec.StartSpec) (int, error) { return 0, errors.New("fork bomb averted") },
	}
	s := newTestSupervisor(t, mgr)

	_, err := s.Run(context.Background(), RunSpec{TaskName: "test.noop", ExecID: "spawnfail"})
	require.Error(t, err)

	rec, err := readRecord(filepath.Join(s.Root(), "spawnfail"))
	require.NoError(t, err)
	assert.Equal(t, StateStopped, rec.State)
	assert.Contains(t, rec.ExitError, "fork bomb")
	assert.Equal(t, []string{"ERROR"}, auditEvents(t, s, "spawnfail"))
}

func TestPauseAndResumeSignalLiveChild(t *testing.T) {
	if !procexec.SupportsStopSignal() {
		t.Skip("platform has no stop signal")
	}

	var signals []int32
	mgr := &procexec.MockManager{
		StartFunc:   func(procexec.StartSpec) (int, error) { return 77, nil },
		IsAliveFunc: func(pid int) bool { return true },
		SignalFunc: func(pid int, sig syscall.Signal) error {
			signals = append(signals, int32(sig))
			return nil
		},
		StateFunc: func(pid int) procexec.State { return procexec.StatePaused },
	}
	s := newTestSupervisor(t, mgr)
	ctx := context.Background()

	execID, err := s.Run(ctx, RunSpec{TaskName: "test.noop"})
	require.NoError(t, err)

	require.NoError(t, s.Pause(ctx, execID))
	st, err := s.Status(execID)
	require.NoError(t, err)
	assert.Equal(t, StatePaused, st.State)
	assert.Equal(t, 77, st.PID)

	mgr.StateFunc = func(pid int) procexec.State { return procexec.StateRunning }
	require.NoError(t, s.Resume(ctx, execID))
	st, err = s.Status(execID)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, st.State)

	assert.Equal(t, []int32{int32(procexec.SignalStop), int32(procexec.SignalContinue)}, signals)
	assert.Equal(t, []string{"START", "PAUSE", "RESUME"}, auditEvents(t, s, execID))
}

func TestPauseDeadChildIsSkipped(t *testing.T) {
	if !procexec.SupportsStopSignal() {
		t.Skip("platform has no stop signal")
	}
	mgr := &procexec.MockManager{
		StartFunc:   func(procexec.StartSpec) (int, error) { return 77, nil },
		IsAliveFunc: func(pid int) bool { return false },
	}
	s := newTestSupervisor(t, mgr)
	ctx := context.Background()

	execID, err := s.Run(ctx, RunSpec{TaskName: "test.noop"})
	require.NoError(t, err)

	require.NoError(t, s.Pause(ctx, execID))
	assert.Equal(t, []string{"START", "PAUSE_SKIPPED"}, auditEvents(t, s, execID))
}

func TestResumeDeadChildReturnsErrNotRunning(t *testing.T) {
	if !procexec.SupportsStopSignal() {
		t.Skip("platform has no stop signal")
	}
	mgr := &procexec.MockManager{
		StartFunc:   func(procexec.StartSpec) (int, error) { return 77, nil },
		IsAliveFunc: func(pid int) bool { return false },
	}
	s := newTestSupervisor(t, mgr)
	ctx := context.Background()

	execID, err := s.Run(ctx, RunSpec{TaskName: "test.noop"})
	require.NoError(t, err)

	err = s.Resume(ctx, execID)
	require.ErrorIs(t, err, ErrNotRunning)
	assert.Equal(t, []string{"START", "RESUME_SKIPPED"}, auditEvents(t, s, execID))
}

func TestKillIsIdempotent(t *testing.T) {
	alive := true
	mgr := &procexec.MockManager{
		StartFunc:   func(procexec.StartSpec) (int, error) { return 99, nil },
		IsAliveFunc: func(pid int) bool { return alive },
		SignalFunc: func(pid int, sig syscall.Signal) error {
			alive = false
			return nil
		},
	}
	s := newTestSupervisor(t, mgr)
	ctx := context.Background()

	execID, err := s.Run(ctx, RunSpec{TaskName: "test.noop"})
	require.NoError(t, err)

	require.NoError(t, s.Kill(ctx, execID))
	require.NoError(t, s.Kill(ctx, execID))

	assert.Equal(t, []string{"START", "KILL", "KILL"}, auditEvents(t, s, execID))

	st, err := s.Status(execID)
	require.NoError(t, err)
	assert.Equal(t, StateStopped, st.State)
}

func TestStatusUnknownExecution(t *testing.T) {
	s := newTestSupervisor(t, &procexec.MockManager{})
	_, err := s.Status("execution-20250101T000000-deadbeef")
	require.Error(t, err)
}

func TestListEnumeratesExecutions(t *testing.T) {
	mgr := &procexec.MockManager{
		StartFunc:   func(procexec.StartSpec) (int, error) { return 11, nil },
		IsAliveFunc: func(pid int) bool { return false },
	}
	s := newTestSupervisor(t, mgr)
	ctx := context.Background()

	a, err := s.Run(ctx, RunSpec{TaskName: "test.noop"})
	require.NoError(t, err)
	b, err := s.Run(ctx, RunSpec{TaskName: "test.noop"})
	require.NoError(t, err)

	statuses, err := s.List()
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.Contains(t, statuses, a)
	assert.Contains(t, statuses, b)
	assert.Equal(t, StateStopped, statuses[a].State)

	sorted := SortedExecIDs(statuses)
	require.Len(t, sorted, 2)
	assert.LessOrEqual(t, sorted[0], sorted[1])
}
