// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package audit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "audit.log"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestLogAndQueryRoundTrip(t *testing.T) {
	l := newTestLogger(t)
	ctx := context.Background()

	require.NoError(t, l.Log(ctx, "execution-1", "START", "success", nil))
	require.NoError(t, l.Log(ctx, "execution-1", "CHECKPOINT", "success", map[string]any{"checkpoint_id": "abc"}))
	require.NoError(t, l.Log(ctx, "execution-1", "EXIT", "success", nil))

	events, err := l.Query(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, "START", events[0].EventType)
	require.Equal(t, "EXIT", events[2].EventType)
	require.Less(t, events[0].Sequence, events[1].Sequence)
}

func TestQueryFiltersByEventType(t *testing.T) {
	l := newTestLogger(t)
	ctx := context.Background()

	require.NoError(t, l.Log(ctx, "execution-1", "START", "success", nil))
	require.NoError(t, l.Log(ctx, "execution-1", "ERROR", "failure", nil))
	require.NoError(t, l.Log(ctx, "execution-1", "EXIT", "failure", nil))

	events, err := l.Query(ctx, Filter{EventTypes: []string{"ERROR"}})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "ERROR", events[0].EventType)
}

func TestQueryRespectsLimit(t *testing.T) {
	l := newTestLogger(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Log(ctx, "execution-1", "CHECKPOINT", "success", nil))
	}

	events, err := l.Query(ctx, Filter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, events, 2)
}

func TestAuditLogIsAppendOnlyAcrossReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, l1.Log(context.Background(), "execution-1", "START", "success", nil))
	require.NoError(t, l1.Close())

	l2, err := Open(path)
	require.NoError(t, err)
	defer l2.Close()
	require.NoError(t, l2.Log(context.Background(), "execution-1", "EXIT", "success", nil))

	events, err := l2.Query(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, events, 2)
}
