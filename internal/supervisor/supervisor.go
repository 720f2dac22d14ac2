// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package supervisor manages execution lifecycles: it spawns user tasks as
// detached child processes, arranges their periodic checkpoints, mediates
// OS-level pause/resume, and projects observed process state back into the
// engine's RUNNING/PAUSED/STOPPED space.
//
// An execution's on-disk record lives at <root>/<exec_id>/ and survives the
// processes that wrote it: meta.json (state file, advisory-locked), pid,
// stdout.log, stderr.log, audit.log, and a checkpoints/ store holding the
// execution's content-addressed snapshots.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/jinterlante1206/pystele-go/internal/audit"
	"github.com/jinterlante1206/pystele-go/internal/clock"
	"github.com/jinterlante1206/pystele-go/internal/execlock"
	"github.com/jinterlante1206/pystele-go/internal/ids"
	"github.com/jinterlante1206/pystele-go/internal/procexec"
	"github.com/jinterlante1206/pystele-go/internal/validation"
	"github.com/jinterlante1206/pystele-go/pkg/logging"
)

// ErrNotRunning is returned by Resume when the execution has no live child
// to continue.
var ErrNotRunning = errors.New("supervisor: execution is not running")

// Supervisor spawns and controls executions rooted at a single storage
// directory.
type Supervisor struct {
	root   string
	mgr    procexec.Manager
	logger *logging.Logger
}

// New creates a Supervisor rooted at dir, creating it if necessary. mgr
// may be nil, in which case real OS processes are launched; tests pass a
// MockManager.
func New(dir string, mgr procexec.Manager, logger *logging.Logger) (*Supervisor, error) {
	if mgr == nil {
		mgr = procexec.DefaultManager{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("supervisor: create root: %w", err)
	}
	return &Supervisor{root: dir, mgr: mgr, logger: logger}, nil
}

// Root returns the storage directory executions live under.
func (s *Supervisor) Root() string { return s.root }

// RunSpec describes an execution to spawn.
type RunSpec struct {
	// TaskName must be registered via Register in both the spawning binary
	// and the binary the child re-execs (normally the same binary).
	TaskName string

	// Args are passed through to the task via TaskContext.Args.
	Args []string

	// ExecID, when empty, is generated. A caller-supplied ID lets a fresh
	// spawn resume from an earlier execution's checkpoint.
	ExecID string

	// Metadata is free-form user metadata recorded in meta.json.
	Metadata map[string]any

	// CheckpointIntervalSeconds is the cadence at which the child attempts
	// a checkpoint; zero disables periodic checkpoints.
	CheckpointIntervalSeconds int
}

// Run creates the execution directory, writes the initial state file,
// spawns a detached child to execute the registered task, and emits START.
// It returns the execution ID immediately; the child runs asynchronously.
//
// Spawning into an existing execution directory is how restart-from-
// checkpoint works: the fresh child finds last_checkpoint_id in meta.json
// and rehydrates from it. The prior execution is not resurrected — the new
// spawn gets a new pid, a new spawn id, and a new START event.
func (s *Supervisor) Run(ctx context.Context, spec RunSpec) (string, error) {
	if _, err := Lookup(spec.TaskName); err != nil {
		return "", err
	}

	execID := spec.ExecID
	if execID == "" {
		execID = ids.NewExecutionID()
	} else if err := validation.ValidatePathSegment(execID); err != nil {
		return "", fmt.Errorf("supervisor: %w", err)
	}

	execDir := filepath.Join(s.root, execID)
	if err := os.MkdirAll(execDir, 0o750); err != nil {
		return "", fmt.Errorf("supervisor: create execution dir: %w", err)
	}

	spawnID := uuid.NewString()
	rec := Record{
		ExecID:                    execID,
		TaskName:                  spec.TaskName,
		Args:                      spec.Args,
		State:                     StateRunning,
		SpawnID:                   spawnID,
		CreatedAt:                 clock.Now(),
		CheckpointIntervalSeconds: spec.CheckpointIntervalSeconds,
		Metadata:                  spec.Metadata,
	}
	// A re-spawn into an existing directory keeps its provenance and its
	// checkpoint pointer; everything else is reset for the new attempt.
	if prev, err := readRecord(execDir); err == nil {
		rec.CreatedAt = prev.CreatedAt
		rec.LastCheckpointID = prev.LastCheckpointID
		rec.LastCheckpointAt = prev.LastCheckpointAt
	}
	if err := s.writeInitialRecord(execDir, rec); err != nil {
		return "", err
	}

	stdout, err := os.OpenFile(filepath.Join(execDir, "stdout.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return "", fmt.Errorf("supervisor: open stdout.log: %w", err)
	}
	defer stdout.Close()
	stderr, err := os.OpenFile(filepath.Join(execDir, "stderr.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return "", fmt.Errorf("supervisor: open stderr.log: %w", err)
	}
	defer stderr.Close()

	exe, err := os.Executable()
	if err != nil {
		exe = os.Args[0]
	}
	pid, err := s.mgr.Start(procexec.StartSpec{
		Path: exe,
		Env: append(os.Environ(),
			EnvChildTask+"="+spec.TaskName,
			EnvChildExecID+"="+execID,
			EnvChildRoot+"="+s.root,
		),
		Stdout: stdout,
		Stderr: stderr,
	})
	if err != nil {
		_ = withRecord(execDir, func(rec *Record) error {
			rec.State = StateStopped
			rec.ExitError = err.Error()
			return nil
		})
		s.audit(ctx, execID, "ERROR", "failure", map[string]any{"phase": "spawn", "error": err.Error()})
		return "", err
	}

	if err := writePID(execDir, pid); err != nil {
		return "", err
	}
	if err := withRecord(execDir, func(rec *Record) error {
		rec.PID = pid
		return nil
	}); err != nil {
		return "", err
	}

	s.audit(ctx, execID, "START", "success", map[string]any{"task": spec.TaskName, "pid": pid, "spawn_id": spawnID})
	s.logger.Info("execution spawned", "exec_id", execID, "task", spec.TaskName, "pid", pid)
	return execID, nil
}

// Pause stops the child with SIGSTOP where the platform supports it. On
// platforms without stop-signal semantics, or when no child is alive, it
// emits PAUSE_SKIPPED and returns nil: pause is advisory, not guaranteed.
func (s *Supervisor) Pause(ctx context.Context, execID string) error {
	execDir, err := s.execDir(execID)
	if err != nil {
		return err
	}

	if !procexec.SupportsStopSignal() {
		s.audit(ctx, execID, "PAUSE_SKIPPED", "skipped", map[string]any{"reason": "os_not_supported"})
		return nil
	}

	pid := readPID(execDir)
	if pid <= 0 || !s.mgr.IsAlive(pid) {
		s.audit(ctx, execID, "PAUSE_SKIPPED", "skipped", map[string]any{"reason": "not_running"})
		return nil
	}

	if err := s.mgr.Signal(pid, procexec.SignalStop); err != nil {
		return fmt.Errorf("supervisor: pause %s: %w", execID, err)
	}
	_ = withRecord(execDir, func(rec *Record) error {
		rec.State = StatePaused
		return nil
	})
	s.audit(ctx, execID, "PAUSE", "success", map[string]any{"pid": pid})
	return nil
}

// Resume continues a paused child with SIGCONT. On platforms without stop
// signals it emits RESUME_SKIPPED and returns nil; with no live child it
// emits RESUME_SKIPPED and returns ErrNotRunning, since the caller asked
// for forward progress that cannot happen.
func (s *Supervisor) Resume(ctx context.Context, execID string) error {
	execDir, err := s.execDir(execID)
	if err != nil {
		return err
	}

	if !procexec.SupportsStopSignal() {
		s.audit(ctx, execID, "RESUME_SKIPPED", "skipped", map[string]any{"reason": "os_not_supported"})
		return nil
	}

	pid := readPID(execDir)
	if pid <= 0 || !s.mgr.IsAlive(pid) {
		s.audit(ctx, execID, "RESUME_SKIPPED", "skipped", map[string]any{"reason": "not_running"})
		return ErrNotRunning
	}

	if err := s.mgr.Signal(pid, procexec.SignalContinue); err != nil {
		return fmt.Errorf("supervisor: resume %s: %w", execID, err)
	}
	_ = withRecord(execDir, func(rec *Record) error {
		rec.State = StateRunning
		return nil
	})
	s.audit(ctx, execID, "RESUME", "success", map[string]any{"pid": pid})
	return nil
}

// Kill terminates the child immediately. KILL is emitted whether or not
// the pid was still alive, which is what makes Kill idempotent.
func (s *Supervisor) Kill(ctx context.Context, execID string) error {
	execDir, err := s.execDir(execID)
	if err != nil {
		return err
	}

	pid := readPID(execDir)
	if pid > 0 && s.mgr.IsAlive(pid) {
		if err := s.mgr.Signal(pid, syscall.SIGKILL); err != nil {
			return fmt.Errorf("supervisor: kill %s: %w", execID, err)
		}
	}
	_ = withRecord(execDir, func(rec *Record) error {
		rec.State = StateStopped
		return nil
	})
	s.audit(ctx, execID, "KILL", "success", map[string]any{"pid": pid})
	s.logger.Info("execution killed", "exec_id", execID, "pid", pid)
	return nil
}

// Status projects the observed OS state of execID's child into the
// engine's state space: RUNNING (alive), PAUSED (alive but stopped by
// signal), STOPPED (no child, or pid no longer alive). A terminal STOPPED
// is never rewritten back to RUNNING; restarting from a checkpoint is a
// fresh spawn, not a resurrection.
func (s *Supervisor) Status(execID string) (Status, error) {
	execDir, err := s.execDir(execID)
	if err != nil {
		return Status{}, err
	}

	st := Status{ExecID: execID, State: StateStopped, PID: readPID(execDir)}
	if st.PID > 0 && s.mgr.IsAlive(st.PID) {
		switch s.mgr.State(st.PID) {
		case procexec.StatePaused:
			st.State = StatePaused
		case procexec.StateStopped:
			st.State = StateStopped
		default:
			st.State = StateRunning
		}
	}
	return st, nil
}

// List enumerates every execution directory under the root and returns its
// current status, keyed by execution ID.
func (s *Supervisor) List() (map[string]Status, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("supervisor: list executions: %w", err)
	}

	out := make(map[string]Status, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		st, err := s.Status(entry.Name())
		if err != nil {
			continue
		}
		out[entry.Name()] = st
	}
	return out, nil
}

// History replays execID's audit log, optionally filtered.
func (s *Supervisor) History(ctx context.Context, execID string, filter audit.Filter) ([]audit.Event, error) {
	execDir, err := s.execDir(execID)
	if err != nil {
		return nil, err
	}
	log, err := audit.Open(auditPath(execDir))
	if err != nil {
		return nil, err
	}
	defer log.Close()
	return log.Query(ctx, filter)
}

func (s *Supervisor) execDir(execID string) (string, error) {
	if err := validation.ValidatePathSegment(execID); err != nil {
		return "", fmt.Errorf("supervisor: %w", err)
	}
	dir := filepath.Join(s.root, execID)
	if _, err := os.Stat(dir); err != nil {
		return "", fmt.Errorf("supervisor: unknown execution %q", execID)
	}
	return dir, nil
}

// writeInitialRecord claims the meta lock before the first write so two
// concurrent spawns of the same exec id cannot interleave. A lock left
// behind by a crashed supervisor is reclaimed when provably stale.
func (s *Supervisor) writeInitialRecord(execDir string, rec Record) error {
	lp := lockPath(execDir)
	if execlock.IsStale(lp) {
		if err := execlock.ForceRelease(lp); err != nil {
			return err
		}
		s.logger.Warn("reclaimed stale meta lock", "exec_dir", execDir)
	}
	lock := execlock.New(lp)
	if err := lock.Acquire(); err != nil {
		return fmt.Errorf("supervisor: acquire meta lock: %w", err)
	}
	defer lock.Release()
	return writeRecord(execDir, rec)
}

// audit appends one event to the execution's audit log. Audit failures are
// logged but never propagate: losing one narrative record must not fail
// the lifecycle operation that produced it.
func (s *Supervisor) audit(ctx context.Context, execID, event, outcome string, meta map[string]any) {
	log, err := audit.Open(auditPath(filepath.Join(s.root, execID)))
	if err != nil {
		s.logger.Error("open audit log", "exec_id", execID, "error", err.Error())
		return
	}
	defer log.Close()
	if err := log.Log(ctx, execID, event, outcome, meta); err != nil {
		s.logger.Error("append audit event", "exec_id", execID, "event", event, "error", err.Error())
	}
}

func auditPath(execDir string) string { return filepath.Join(execDir, "audit.log") }
func pidPath(execDir string) string   { return filepath.Join(execDir, "pid") }

// writePID records the child pid with the same stage-then-rename
// discipline as every other mutable file in the execution directory.
func writePID(execDir string, pid int) error {
	tmp := pidPath(execDir) + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(pid)), 0o640); err != nil {
		return fmt.Errorf("supervisor: write pid: %w", err)
	}
	if err := os.Rename(tmp, pidPath(execDir)); err != nil {
		return fmt.Errorf("supervisor: commit pid: %w", err)
	}
	return nil
}

func readPID(execDir string) int {
	data, err := os.ReadFile(pidPath(execDir))
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

// SortedExecIDs is a convenience for deterministic CLI listings.
func SortedExecIDs(statuses map[string]Status) []string {
	out := make([]string, 0, len(statuses))
	for id := range statuses {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
