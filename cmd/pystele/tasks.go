// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jinterlante1206/pystele-go/internal/supervisor"
)

// Built-in example tasks. Binaries embedding this engine register their
// own tasks the same way; registration must happen in an init function so
// the name resolves in both the CLI process and the re-exec'd child.
func init() {
	supervisor.Register("examples.counter", counterTask)
	supervisor.Register("examples.sleeper", sleeperTask)
}

// counterTask counts one step per second, surviving kill/restart cycles by
// keeping its position in the namespace. Run with e.g.
//
//	pystele run examples.counter 120 --interval 5
func counterTask(ctx context.Context, tc *supervisor.TaskContext) error {
	steps := 60
	if len(tc.Args) > 0 {
		parsed, err := strconv.Atoi(tc.Args[0])
		if err != nil {
			return fmt.Errorf("counter: bad step count %q: %w", tc.Args[0], err)
		}
		steps = parsed
	}

	start := int64(0)
	if v, ok := tc.Namespace["count"].(int64); ok {
		start = v
		fmt.Printf("resuming from count=%d\n", start)
	}

	for i := start; i < int64(steps); i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
		tc.Namespace["count"] = i + 1
		fmt.Printf("count=%d\n", i+1)
		_ = tc.MaybeCheckpoint(ctx)
	}
	return nil
}

// sleeperTask idles for the requested number of seconds (default 300);
// useful for exercising pause/resume/kill by hand.
func sleeperTask(ctx context.Context, tc *supervisor.TaskContext) error {
	seconds := 300
	if len(tc.Args) > 0 {
		parsed, err := strconv.Atoi(tc.Args[0])
		if err != nil {
			return fmt.Errorf("sleeper: bad duration %q: %w", tc.Args[0], err)
		}
		seconds = parsed
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(seconds) * time.Second):
		return nil
	}
}
