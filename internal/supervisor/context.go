// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package supervisor

import (
	"context"
	"time"

	"github.com/jinterlante1206/pystele-go/internal/audit"
	"github.com/jinterlante1206/pystele-go/internal/checkpoint"
	"github.com/jinterlante1206/pystele-go/internal/clock"
)

// TaskContext is handed to a running TaskFunc. It holds the execution's
// mutable namespace and lets the task request a checkpoint whenever it
// judges it safe to pause there.
type TaskContext struct {
	// Namespace is the task's working state. Mutate it freely; whatever is
	// present when MaybeCheckpoint decides to act is what gets saved.
	Namespace map[string]any

	// Args are the positional arguments the execution was spawned with.
	Args []string

	execID       string
	execDir      string
	store        *checkpoint.Store
	auditLog     *audit.Logger
	intervalSecs int
	lastSaveAt   time.Time
}

// MaybeCheckpoint saves Namespace if at least CheckpointIntervalSeconds
// have elapsed since the last checkpoint (or since the task started, if
// none has been taken yet). It is a no-op otherwise, so a task can call it
// as often as convenient — e.g. once per training step — without forcing a
// checkpoint on every call. A failed save is recorded as an ERROR audit
// event but never terminates a healthy execution; the error is returned
// for tasks that want to react.
func (tc *TaskContext) MaybeCheckpoint(ctx context.Context) error {
	if tc.intervalSecs <= 0 || time.Since(tc.lastSaveAt) < time.Duration(tc.intervalSecs)*time.Second {
		return nil
	}
	return tc.Checkpoint(ctx)
}

// Checkpoint saves Namespace unconditionally and records the resulting
// content address in meta.json and the audit log.
func (tc *TaskContext) Checkpoint(ctx context.Context) error {
	result, err := tc.store.Save(ctx, tc.execID, tc.Namespace, checkpoint.SaveOptions{})
	if err != nil {
		_ = tc.auditLog.Log(ctx, tc.execID, "ERROR", "failure", map[string]any{"phase": "checkpoint", "error": err.Error()})
		return err
	}

	tc.lastSaveAt = time.Now()
	if err := withRecord(tc.execDir, func(rec *Record) error {
		rec.LastCheckpointID = result.CheckpointID
		rec.LastCheckpointAt = clock.Now()
		return nil
	}); err != nil {
		_ = tc.auditLog.Log(ctx, tc.execID, "ERROR", "failure", map[string]any{"phase": "checkpoint", "error": err.Error()})
		return err
	}
	_ = tc.auditLog.Log(ctx, tc.execID, "CHECKPOINT", "success", map[string]any{"checkpoint_id": result.CheckpointID})
	return nil
}
