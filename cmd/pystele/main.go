// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// pystele is the command-line front-end of the durable execution engine:
// it spawns registered tasks as supervised child processes, checkpoints
// their state, and controls them (status, pause, resume, kill).
//
// The same binary is also the child: a supervisor re-execs it with the
// child environment variables set, in which case main skips the CLI
// entirely and runs the task loop.
package main

import (
	"fmt"
	"os"

	"github.com/jinterlante1206/pystele-go/internal/supervisor"
)

func main() {
	if supervisor.IsChild() {
		if err := supervisor.ChildMain(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	shutdown := initTelemetry()
	defer shutdown()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
