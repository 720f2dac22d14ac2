// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package checkpoint

// Field order in the structs below is chosen so encoding/json emits keys
// in ascending order, which is what makes the marshaled form canonical.
// Index needs no such care: it is a map, and encoding/json sorts map keys.

// Manifest is the ordered variable listing a checkpoint's content address
// is computed over (together with the raw blob; metadata is excluded so
// identical data saved at different times collides to one address).
type Manifest struct {
	Schema    string   `json:"schema"`
	Variables []string `json:"variables"`
}

// SchemaV1 is the only checkpoint schema this engine writes.
const SchemaV1 = "v1"

// ObjectRecord locates and certifies one serialized variable within a
// checkpoint's objects.bin blob.
type ObjectRecord struct {
	Length int64  `json:"length"`
	Offset int64  `json:"offset"`
	SHA256 string `json:"sha256"`
	Type   string `json:"type"`
}

// Index maps variable name to its object record; persisted as objects.idx.
type Index map[string]ObjectRecord

// CallerInfo is where in the calling code a checkpoint was requested.
type CallerInfo struct {
	File     string `json:"file"`
	Function string `json:"function"`
	Line     int    `json:"line"`
}

// EnvInfo fingerprints the process that wrote a checkpoint.
type EnvInfo struct {
	GoVersion string `json:"go_version"`
	PID       int    `json:"pid"`
}

// Metadata records the provenance of a checkpoint: which execution took
// it, where in the code, under what environment, and against which source
// revision. It is persisted as metadata.json but deliberately excluded
// from the content address.
type Metadata struct {
	Caller         CallerInfo `json:"caller"`
	CheckpointName string     `json:"checkpoint_name"`
	Environment    EnvInfo    `json:"environment"`
	ExecutionID    string     `json:"execution_id"`
	GitCommit      string     `json:"git_commit"`
	Timestamp      string     `json:"timestamp"`
}

// SaveOptions are the optional parts of a Save call.
type SaveOptions struct {
	// Name is an optional human-readable checkpoint name recorded in
	// metadata only.
	Name string

	// Include, when non-nil, restricts the save to these variable names.
	// Names absent from the namespace are silently dropped rather than
	// treated as errors.
	Include []string
}

// SaveResult reports what Save wrote (or found already present).
type SaveResult struct {
	CheckpointID   string
	AlreadyExisted bool
}

// RestoreResult reports what Restore inserted, in manifest order, plus the
// checkpoint's metadata.
type RestoreResult struct {
	Metadata  Metadata
	Variables []string
}
