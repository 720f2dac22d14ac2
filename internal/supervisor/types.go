// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package supervisor

// State is the lifecycle state of an execution as recorded in meta.json.
type State string

const (
	StateRunning State = "RUNNING"
	StatePaused  State = "PAUSED"
	StateStopped State = "STOPPED"
)

// Record is the per-execution state persisted at <root>/<exec_id>/meta.json.
type Record struct {
	ExecID                    string         `json:"exec_id"`
	TaskName                  string         `json:"task_name"`
	Args                      []string       `json:"args,omitempty"`
	State                     State          `json:"state"`
	PID                       int            `json:"pid"`
	SpawnID                   string         `json:"spawn_id"`
	CreatedAt                 string         `json:"created_at"`
	UpdatedAt                 string         `json:"updated_at"`
	CheckpointIntervalSeconds int            `json:"checkpoint_interval_s"`
	LastCheckpointID          string         `json:"last_checkpoint_id,omitempty"`
	LastCheckpointAt          string         `json:"last_checkpoint_at,omitempty"`
	Metadata                  map[string]any `json:"metadata,omitempty"`
	ExitError                 string         `json:"exit_error,omitempty"`
}

// Status is the projection of observed OS process state into the engine's
// state space, as returned by Supervisor.Status.
type Status struct {
	ExecID string `json:"exec_id"`
	State  State  `json:"state"`
	// PID is the most recently recorded child pid; 0 when none was ever
	// recorded.
	PID int `json:"pid"`
}

// env vars read by a re-exec'd child to find its task and working
// directory; set by the parent when it launches the child.
const (
	EnvChildTask   = "PYSTELE_CHILD_TASK"
	EnvChildExecID = "PYSTELE_CHILD_EXEC_ID"
	EnvChildRoot   = "PYSTELE_CHILD_ROOT"
)
