// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jinterlante1206/pystele-go/internal/supervisor"
)

func runRun(cmd *cobra.Command, args []string) error {
	taskName := args[0]
	ctx, span := cliTracer.Start(cmd.Context(), "cli.run",
		trace.WithAttributes(attribute.String("task", taskName)))
	defer span.End()

	execID, err := engine.Run(ctx, supervisor.RunSpec{
		TaskName:                  taskName,
		Args:                      args[1:],
		ExecID:                    execIDFlag,
		CheckpointIntervalSeconds: intervalFlag,
	})
	if err != nil {
		return err
	}
	fmt.Println(execID)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	st, err := engine.Status(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("exec_id : %s\n", st.ExecID)
	fmt.Printf("state   : %s\n", st.State)
	if st.PID > 0 {
		fmt.Printf("pid     : %d\n", st.PID)
	} else {
		fmt.Printf("pid     : -\n")
	}
	return nil
}

func runPause(cmd *cobra.Command, args []string) error {
	if err := engine.Pause(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Println("paused", args[0])
	return nil
}

func runResume(cmd *cobra.Command, args []string) error {
	if err := engine.Resume(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Println("resumed", args[0])
	return nil
}

func runKill(cmd *cobra.Command, args []string) error {
	if err := engine.Kill(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Println("killed", args[0])
	return nil
}

func runLs(cmd *cobra.Command, args []string) error {
	statuses, err := engine.List()
	if err != nil {
		return err
	}
	if len(statuses) == 0 {
		fmt.Println("no executions found")
		return nil
	}

	fmt.Printf("%-40s  %-10s  %s\n", "EXEC_ID", "STATE", "PID")
	fmt.Println(strings.Repeat("-", 60))
	for _, id := range supervisor.SortedExecIDs(statuses) {
		st := statuses[id]
		pid := "-"
		if st.PID > 0 {
			pid = fmt.Sprint(st.PID)
		}
		fmt.Printf("%-40s  %-10s  %s\n", id, st.State, pid)
	}
	return nil
}
