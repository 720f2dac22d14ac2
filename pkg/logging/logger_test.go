// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "INFO", LevelInfo.String())
	assert.Equal(t, "WARN", LevelWarn.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "UNKNOWN", Level(42).String())
}

func TestDefaultLoggerDoesNotPanic(t *testing.T) {
	logger := Default()
	logger.Info("hello", "key", "value")
	logger.Debug("filtered at default level")
	require.NoError(t, logger.Close())
}

func TestFileLoggingWritesJSON(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{
		Level:   LevelInfo,
		LogDir:  dir,
		Service: "supervisor",
		Quiet:   true,
	})

	logger.Info("execution spawned", "exec_id", "execution-20250101T000000-deadbeef", "pid", 1234)
	require.NoError(t, logger.Close())

	name := "supervisor_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)

	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(data))), &record))
	assert.Equal(t, "execution spawned", record["msg"])
	assert.Equal(t, "supervisor", record["service"])
	assert.Equal(t, float64(1234), record["pid"])
}

func TestLevelFiltering(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{Level: LevelWarn, LogDir: dir, Service: "cli", Quiet: true})

	logger.Info("should be filtered")
	logger.Warn("should be written")
	require.NoError(t, logger.Close())

	name := "cli_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "should be filtered")
	assert.Contains(t, string(data), "should be written")
}

func TestWithAddsPersistentAttributes(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{Level: LevelInfo, LogDir: dir, Service: "child", Quiet: true})

	execLogger := logger.With("exec_id", "execution-20250101T000000-deadbeef")
	execLogger.Info("first")
	execLogger.Info("second")
	require.NoError(t, logger.Close())

	name := "child_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		assert.Contains(t, line, "execution-20250101T000000-deadbeef")
	}
}

func TestUnopenableLogDirDegradesToStderr(t *testing.T) {
	logger := New(Config{Level: LevelInfo, LogDir: string([]byte{0}), Service: "cli", Quiet: true})
	logger.Info("still works")
	require.NoError(t, logger.Close())
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".pystele/logs"), expandPath("~/.pystele/logs"))
	assert.Equal(t, "/var/log/pystele", expandPath("/var/log/pystele"))
	assert.Equal(t, "relative/path", expandPath("relative/path"))
}
