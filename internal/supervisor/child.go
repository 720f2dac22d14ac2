// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package supervisor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/jinterlante1206/pystele-go/internal/audit"
	"github.com/jinterlante1206/pystele-go/internal/checkpoint"
	"github.com/jinterlante1206/pystele-go/pkg/logging"
)

// IsChild reports whether this process was re-exec'd by a Supervisor and
// should run the child loop instead of its normal entry point.
func IsChild() bool {
	return os.Getenv(EnvChildExecID) != ""
}

// ChildMain is the child-process entry point. The binary's main function
// calls it (and exits with its result) when IsChild reports true; the
// parent has already pointed stdout and stderr at the execution's log
// files, so everything the task prints lands there.
func ChildMain() error {
	return RunChild(context.Background(), os.Getenv(EnvChildRoot), os.Getenv(EnvChildExecID), os.Getenv(EnvChildTask))
}

// RunChild executes one task to completion inside the current process:
// rehydrate from the last checkpoint if one exists, run the task with a
// TaskContext, checkpoint at the configured cadence, and record the
// outcome. A non-nil return means the child should exit non-zero.
func RunChild(ctx context.Context, root, execID, taskName string) error {
	execDir := filepath.Join(root, execID)
	logger := logging.New(logging.Config{Level: logging.LevelInfo, Service: "child"}).With("exec_id", execID)

	auditLog, err := audit.Open(auditPath(execDir))
	if err != nil {
		return err
	}
	defer auditLog.Close()

	fail := func(phase string, err error) error {
		_ = auditLog.Log(ctx, execID, "ERROR", "failure", map[string]any{
			"phase": phase,
			"error": err.Error(),
			"stack": string(debug.Stack()),
		})
		_ = withRecord(execDir, func(rec *Record) error {
			rec.State = StateStopped
			rec.ExitError = err.Error()
			return nil
		})
		logger.Error("execution failed", "phase", phase, "error", err.Error())
		return err
	}

	rec, err := readRecord(execDir)
	if err != nil {
		return fail("init", err)
	}
	fn, err := Lookup(taskName)
	if err != nil {
		return fail("init", err)
	}

	store, err := checkpoint.NewStore(filepath.Join(execDir, "checkpoints"), logger, nil)
	if err != nil {
		return fail("init", err)
	}

	tc := &TaskContext{
		Namespace:    map[string]any{},
		Args:         rec.Args,
		execID:       execID,
		execDir:      execDir,
		store:        store,
		auditLog:     auditLog,
		intervalSecs: rec.CheckpointIntervalSeconds,
		lastSaveAt:   time.Now(),
	}

	// A failed rehydrate is logged but non-fatal: the task runs with an
	// empty namespace rather than not at all.
	if rec.LastCheckpointID != "" {
		if result, err := store.Restore(ctx, rec.LastCheckpointID, tc.Namespace, ""); err != nil {
			_ = auditLog.Log(ctx, execID, "ERROR", "failure", map[string]any{"phase": "restore", "error": err.Error()})
			logger.Warn("checkpoint rehydrate failed; starting empty", "checkpoint_id", rec.LastCheckpointID, "error", err.Error())
		} else {
			_ = auditLog.Log(ctx, execID, "CHECKPOINT_LOADED", "success", map[string]any{
				"checkpoint_id": rec.LastCheckpointID,
				"variables":     len(result.Variables),
			})
		}
	}

	if err := runTask(ctx, fn, tc); err != nil {
		return fail("task", err)
	}

	// One last cadence check so work done since the previous tick is not
	// lost on natural completion.
	_ = tc.MaybeCheckpoint(ctx)

	_ = auditLog.Log(ctx, execID, "EXIT", "success", nil)
	_ = withRecord(execDir, func(rec *Record) error {
		rec.State = StateStopped
		return nil
	})
	logger.Info("execution completed")
	return nil
}

// runTask invokes fn, converting a panic in user code into an error so the
// child can still record its outcome before exiting non-zero.
func runTask(ctx context.Context, fn TaskFunc, tc *TaskContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return fn(ctx, tc)
}
