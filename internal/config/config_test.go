// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(envStoragePath, "")
	t.Setenv(envDefaultBackend, "")
	t.Setenv(envVersion, "")

	cfg := Load()
	require.Equal(t, defaultStoragePath, cfg.StoragePath)
	require.Equal(t, defaultDefaultBackend, cfg.DefaultBackend)
	require.Equal(t, defaultVersion, cfg.Version)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv(envStoragePath, "/tmp/custom-store")
	t.Setenv(envDefaultBackend, "remote")
	t.Setenv(envVersion, "9.9.9")

	cfg := Load()
	require.Equal(t, "/tmp/custom-store", cfg.StoragePath)
	require.Equal(t, "remote", cfg.DefaultBackend)
	require.Equal(t, "9.9.9", cfg.Version)
}
