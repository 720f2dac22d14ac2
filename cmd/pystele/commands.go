// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jinterlante1206/pystele-go/internal/config"
	"github.com/jinterlante1206/pystele-go/internal/supervisor"
	"github.com/jinterlante1206/pystele-go/pkg/logging"
)

// --- Global Command Variables ---
var (
	rootFlag     string // CLI override for the storage root
	execIDFlag   string // caller-chosen execution ID for run
	intervalFlag int    // checkpoint cadence in seconds for run
	verboseFlag  bool

	appConfig config.Config
	logger    *logging.Logger
	engine    *supervisor.Supervisor

	rootCmd = &cobra.Command{
		Use:   "pystele",
		Short: "A durable execution engine with content-addressed checkpointing",
		Long: `pystele runs long-lived tasks in supervised child processes,
periodically checkpoints their in-memory state to verifiable,
content-addressed artifacts, and can pause, resume, kill, and
restart them from the most recent checkpoint.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			appConfig = config.Load()
			if rootFlag != "" {
				appConfig.StoragePath = rootFlag
			}
			if appConfig.DefaultBackend != "local" {
				return fmt.Errorf("unsupported backend %q (only \"local\" is implemented)", appConfig.DefaultBackend)
			}

			level := logging.LevelInfo
			if verboseFlag {
				level = logging.LevelDebug
			}
			logger = logging.New(logging.Config{Level: level, Service: "cli"})

			var err error
			engine, err = supervisor.New(appConfig.StoragePath, nil, logger)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Close()
			}
		},
	}

	runCmd = &cobra.Command{
		Use:   "run [task] [task args...]",
		Short: "Spawn a registered task as a supervised execution",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runRun, // Defined in cmd_exec.go
	}
	statusCmd = &cobra.Command{
		Use:   "status [exec_id]",
		Short: "Show the observed state of an execution",
		Args:  cobra.ExactArgs(1),
		RunE:  runStatus, // Defined in cmd_exec.go
	}
	pauseCmd = &cobra.Command{
		Use:   "pause [exec_id]",
		Short: "Stop an execution's child process (SIGSTOP where supported)",
		Args:  cobra.ExactArgs(1),
		RunE:  runPause, // Defined in cmd_exec.go
	}
	resumeCmd = &cobra.Command{
		Use:   "resume [exec_id]",
		Short: "Continue a paused execution (SIGCONT where supported)",
		Args:  cobra.ExactArgs(1),
		RunE:  runResume, // Defined in cmd_exec.go
	}
	killCmd = &cobra.Command{
		Use:   "kill [exec_id]",
		Short: "Terminate an execution immediately",
		Args:  cobra.ExactArgs(1),
		RunE:  runKill, // Defined in cmd_exec.go
	}
	lsCmd = &cobra.Command{
		Use:   "ls",
		Short: "List all executions under the storage root",
		Args:  cobra.NoArgs,
		RunE:  runLs, // Defined in cmd_exec.go
	}
	watchCmd = &cobra.Command{
		Use:   "watch [exec_id]",
		Short: "Follow an execution's audit log live",
		Args:  cobra.ExactArgs(1),
		RunE:  runWatch, // Defined in cmd_watch.go
	}
)

func init() {
	rootCmd.Version = config.Load().Version
	rootCmd.PersistentFlags().StringVar(&rootFlag, "root", "", "Storage root (overrides STORAGE_PATH)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&execIDFlag, "exec-id", "", "Reuse an execution ID (restarts from its last checkpoint)")
	runCmd.Flags().IntVar(&intervalFlag, "interval", 0, "Checkpoint cadence in seconds (0 disables periodic checkpoints)")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(killCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(watchCmd)
}
