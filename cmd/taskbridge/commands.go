// Copyright (C) 2025 Harborline Systems (oss@harborline.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/harborline/taskbridge/pkg/logging"
	"github.com/harborline/taskbridge/services/bridge"
	"github.com/harborline/taskbridge/services/bridge/config"
	"github.com/harborline/taskbridge/services/bridge/operation"
)

// Version is stamped at build time.
var Version = "dev"

var (
	configPath string
	logLevel   string
	logger     *logging.Logger
	cfg        config.Config

	rootCmd = &cobra.Command{
		Use:   "taskbridge",
		Short: "Execute task-manager operations through generated host scripts",
		Long: `taskbridge compiles declarative task operations into scripts the
host application's interpreter will accept, runs them with a timeout,
and returns validated JSON results.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			logger = logging.New(logging.Config{
				Level:   parseLevel(cfg.Log.Level),
				LogDir:  cfg.Log.Dir,
				Service: "taskbridge",
			})
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				logger.Close()
			}
		},
	}

	runCmd = &cobra.Command{
		Use:   "run [request.json]",
		Short: "Execute one operation from a JSON request file or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runOperation,
	}

	diagnoseCmd = &cobra.Command{
		Use:   "diagnose",
		Short: "Probe the interpreter and host application layer by layer",
		RunE:  runDiagnose,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the taskbridge version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("taskbridge", Version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to bridge.yaml (default: built-in defaults)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug|info|warn|error)")
	rootCmd.AddCommand(runCmd, diagnoseCmd, versionCmd)
}

func runOperation(cmd *cobra.Command, args []string) error {
	var data []byte
	var err error
	if len(args) == 1 && args[0] != "-" {
		data, err = os.ReadFile(args[0])
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return fmt.Errorf("read request: %w", err)
	}

	var req operation.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("parse request: %w", err)
	}

	b := bridge.New(cfg, logger.Slog())
	resp, err := b.Execute(cmd.Context(), &req)
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func runDiagnose(cmd *cobra.Command, args []string) error {
	b := bridge.New(cfg, logger.Slog())
	report := b.Diagnose(cmd.Context())
	if err := printJSON(report); err != nil {
		return err
	}
	if !report.Healthy {
		return fmt.Errorf("bridge is unhealthy")
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseLevel(s string) logging.Level {
	switch s {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}
