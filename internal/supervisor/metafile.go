// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package supervisor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jinterlante1206/pystele-go/internal/clock"
	"github.com/jinterlante1206/pystele-go/internal/execlock"
)

func metaPath(execDir string) string { return filepath.Join(execDir, "meta.json") }
func lockPath(execDir string) string { return filepath.Join(execDir, "meta.json.lock") }

func readRecord(execDir string) (Record, error) {
	var rec Record
	data, err := os.ReadFile(metaPath(execDir))
	if err != nil {
		return Record{}, fmt.Errorf("supervisor: read meta.json: %w", err)
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("supervisor: parse meta.json: %w", err)
	}
	return rec, nil
}

// writeRecord commits meta.json by staging to a sibling temp file and
// renaming, so a crash mid-write can never leave a torn state file.
func writeRecord(execDir string, rec Record) error {
	rec.UpdatedAt = clock.Now()
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("supervisor: marshal meta.json: %w", err)
	}

	tmp := metaPath(execDir) + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("supervisor: stage meta.json: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("supervisor: write meta.json: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("supervisor: sync meta.json: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("supervisor: close meta.json: %w", err)
	}
	if err := os.Rename(tmp, metaPath(execDir)); err != nil {
		return fmt.Errorf("supervisor: commit meta.json: %w", err)
	}
	return nil
}

// withRecord locks meta.json, loads it, lets mutate change it, writes it
// back, then releases the lock — the read-modify-write sequence the lock
// exists to protect.
func withRecord(execDir string, mutate func(*Record) error) error {
	lock := execlock.New(lockPath(execDir))
	if err := lock.Acquire(); err != nil {
		return fmt.Errorf("supervisor: acquire meta lock: %w", err)
	}
	defer lock.Release()

	rec, err := readRecord(execDir)
	if err != nil {
		return err
	}
	if err := mutate(&rec); err != nil {
		return err
	}
	return writeRecord(execDir, rec)
}
