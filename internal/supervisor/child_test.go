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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinterlante1206/pystele-go/internal/procexec"
)

// spawnRecorded creates the execution directory and state file exactly as
// Run would, without launching a real process, so the child loop can be
// driven in-process.
func spawnRecorded(t *testing.T, s *Supervisor, spec RunSpec) string {
	t.Helper()
	execID, err := s.Run(context.Background(), spec)
	require.NoError(t, err)
	return execID
}

func mockSpawner() *procexec.MockManager {
	return &procexec.MockManager{
		StartFunc:   func(procexec.StartSpec) (int, error) { return 555, nil },
		IsAliveFunc: func(pid int) bool { return false },
	}
}

func TestChildLoopRunsTaskToCompletion(t *testing.T) {
	Register("test.child.complete", func(ctx context.Context, tc *TaskContext) error {
		tc.Namespace["steps"] = int64(3)
		tc.Namespace["args_seen"] = len(tc.Args)
		return tc.Checkpoint(ctx)
	})

	s := newTestSupervisor(t, mockSpawner())
	execID := spawnRecorded(t, s, RunSpec{TaskName: "test.child.complete", Args: []string{"a", "b"}})

	require.NoError(t, RunChild(context.Background(), s.Root(), execID, "test.child.complete"))

	execDir := filepath.Join(s.Root(), execID)
	rec, err := readRecord(execDir)
	require.NoError(t, err)
	assert.Equal(t, StateStopped, rec.State)
	require.NotEmpty(t, rec.LastCheckpointID)
	assert.NotEmpty(t, rec.LastCheckpointAt)

	_, err = os.Stat(filepath.Join(execDir, "checkpoints", rec.LastCheckpointID))
	require.NoError(t, err)

	assert.Equal(t, []string{"START", "CHECKPOINT", "EXIT"}, auditEvents(t, s, execID))
}

func TestChildLoopRehydratesFromCheckpoint(t *testing.T) {
	Register("test.child.first", func(ctx context.Context, tc *TaskContext) error {
		tc.Namespace["counter"] = int64(41)
		return tc.Checkpoint(ctx)
	})
	var resumed any
	Register("test.child.second", func(ctx context.Context, tc *TaskContext) error {
		resumed = tc.Namespace["counter"]
		return nil
	})

	s := newTestSupervisor(t, mockSpawner())
	execID := spawnRecorded(t, s, RunSpec{TaskName: "test.child.first"})
	require.NoError(t, RunChild(context.Background(), s.Root(), execID, "test.child.first"))

	// Restart into the same execution directory: a fresh spawn, a fresh
	// START, and a rehydrated namespace.
	_ = spawnRecorded(t, s, RunSpec{TaskName: "test.child.second", ExecID: execID})
	require.NoError(t, RunChild(context.Background(), s.Root(), execID, "test.child.second"))

	assert.Equal(t, int64(41), resumed)
	assert.Equal(t,
		[]string{"START", "CHECKPOINT", "EXIT", "START", "CHECKPOINT_LOADED", "EXIT"},
		auditEvents(t, s, execID))
}

func TestChildLoopRecordsTaskFailure(t *testing.T) {
	taskErr := errors.New("gradient exploded")
	Register("test.child.fail", func(ctx context.Context, tc *TaskContext) error {
		return taskErr
	})

	s := newTestSupervisor(t, mockSpawner())
	execID := spawnRecorded(t, s, RunSpec{TaskName: "test.child.fail"})

	err := RunChild(context.Background(), s.Root(), execID, "test.child.fail")
	require.ErrorIs(t, err, taskErr)

	rec, err := readRecord(filepath.Join(s.Root(), execID))
	require.NoError(t, err)
	assert.Equal(t, StateStopped, rec.State)
	assert.Contains(t, rec.ExitError, "gradient exploded")
	assert.Equal(t, []string{"START", "ERROR"}, auditEvents(t, s, execID))
}

func TestChildLoopConvertsPanicToError(t *testing.T) {
	Register("test.child.panic", func(ctx context.Context, tc *TaskContext) error {
		panic("index out of range")
	})

	s := newTestSupervisor(t, mockSpawner())
	execID := spawnRecorded(t, s, RunSpec{TaskName: "test.child.panic"})

	err := RunChild(context.Background(), s.Root(), execID, "test.child.panic")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index out of range")

	rec, err := readRecord(filepath.Join(s.Root(), execID))
	require.NoError(t, err)
	assert.Equal(t, StateStopped, rec.State)
}

func TestChildLoopSurvivesCorruptCheckpointPointer(t *testing.T) {
	ran := false
	Register("test.child.survivor", func(ctx context.Context, tc *TaskContext) error {
		ran = true
		assert.Empty(t, tc.Namespace)
		return nil
	})

	s := newTestSupervisor(t, mockSpawner())
	execID := spawnRecorded(t, s, RunSpec{TaskName: "test.child.survivor"})

	// Point meta.json at a checkpoint that does not exist; the child must
	// log the failure and run with an empty namespace.
	execDir := filepath.Join(s.Root(), execID)
	require.NoError(t, withRecord(execDir, func(rec *Record) error {
		rec.LastCheckpointID = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
		return nil
	}))

	require.NoError(t, RunChild(context.Background(), s.Root(), execID, "test.child.survivor"))
	require.True(t, ran)
	assert.Equal(t, []string{"START", "ERROR", "EXIT"}, auditEvents(t, s, execID))
}

func TestMaybeCheckpointHonorsCadence(t *testing.T) {
	Register("test.child.cadence", func(ctx context.Context, tc *TaskContext) error {
		tc.Namespace["x"] = 1
		// Interval has not elapsed, so this must be a no-op.
		return tc.MaybeCheckpoint(ctx)
	})

	s := newTestSupervisor(t, mockSpawner())
	execID := spawnRecorded(t, s, RunSpec{
		TaskName:                  "test.child.cadence",
		CheckpointIntervalSeconds: 3600,
	})
	require.NoError(t, RunChild(context.Background(), s.Root(), execID, "test.child.cadence"))

	rec, err := readRecord(filepath.Join(s.Root(), execID))
	require.NoError(t, err)
	assert.Empty(t, rec.LastCheckpointID)
	assert.Equal(t, []string{"START", "EXIT"}, auditEvents(t, s, execID))
}
