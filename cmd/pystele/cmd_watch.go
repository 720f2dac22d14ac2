// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/jinterlante1206/pystele-go/internal/audit"
)

// runWatch tails an execution's audit.log: it prints every event already
// recorded, then follows the file for new ones until interrupted. The
// follow is event-driven via fsnotify rather than a poll loop.
func runWatch(cmd *cobra.Command, args []string) error {
	execID := args[0]
	if _, err := engine.Status(execID); err != nil {
		return err
	}
	logPath := filepath.Join(engine.Root(), execID, "audit.log")

	f, err := os.Open(logPath)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	drain := func() {
		for {
			line, err := reader.ReadBytes('\n')
			if len(line) > 0 {
				printEvent(line)
			}
			if err != nil {
				return
			}
		}
	}
	drain()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	// Watch the directory, not the file; write events naming audit.log
	// trigger a drain. Reads continue on the handle opened above, so a
	// file replaced under the same name is not followed.
	if err := watcher.Add(filepath.Dir(logPath)); err != nil {
		return fmt.Errorf("watch %s: %w", logPath, err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name == logPath && event.Op.Has(fsnotify.Write) {
				drain()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", "error", err.Error())
		}
	}
}

// printEvent renders one audit record as a fixed-width line, falling back
// to the raw bytes if the record does not parse.
func printEvent(line []byte) {
	var e audit.Event
	if err := json.Unmarshal(line, &e); err != nil {
		fmt.Print(string(line))
		return
	}
	fmt.Printf("%-28s  %-18s  %s\n", e.Timestamp, e.EventType, formatMeta(e.Metadata))
}

func formatMeta(meta map[string]any) string {
	if len(meta) == 0 {
		return ""
	}
	out, err := json.Marshal(meta)
	if err != nil {
		return ""
	}
	return string(out)
}
