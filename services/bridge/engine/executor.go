// Copyright (C) 2025 Harborline Systems (oss@harborline.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/harborline/taskbridge/services/bridge/script"
)

// =============================================================================
// EXECUTOR
// =============================================================================

// RawResult carries the interpreter's unparsed output.
type RawResult struct {
	Stdout    string
	Stderr    string
	ExitCode  int
	Truncated bool
	Duration  time.Duration
}

// Executor runs one script in an interpreter process.
//
// Implementations must be safe for concurrent use; each call spawns its
// own process.
type Executor interface {
	Run(ctx context.Context, s *script.Script) (*RawResult, error)
}

// Default executor tuning.
const (
	defaultMaxOutputBytes = 4 << 20 // 4 MiB per stream
	// Scripts at or under this size go to the interpreter on stdin.
	// Larger ones are written to a temp file so no single argument or
	// pipe write can hit platform limits.
	defaultStdinMaxBytes = 128 << 10
)

// OsascriptExecutor spawns the system interpreter for each script.
//
// Thread Safety: safe for concurrent use.
type OsascriptExecutor struct {
	binary        string
	maxOutput     int
	stdinMaxBytes int
	logger        *slog.Logger
}

// ExecutorOption customizes an OsascriptExecutor.
type ExecutorOption func(*OsascriptExecutor)

// WithBinary overrides the interpreter binary. Used by tests.
func WithBinary(path string) ExecutorOption {
	return func(e *OsascriptExecutor) {
		if path != "" {
			e.binary = path
		}
	}
}

// WithMaxOutputBytes caps captured output per stream.
func WithMaxOutputBytes(n int) ExecutorOption {
	return func(e *OsascriptExecutor) {
		if n > 0 {
			e.maxOutput = n
		}
	}
}

// NewOsascriptExecutor creates an executor for the system interpreter.
func NewOsascriptExecutor(logger *slog.Logger, opts ...ExecutorOption) *OsascriptExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &OsascriptExecutor{
		binary:        "osascript",
		maxOutput:     defaultMaxOutputBytes,
		stdinMaxBytes: defaultStdinMaxBytes,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes one script.
//
// Description:
//
//	Small scripts are piped to the interpreter on stdin; larger ones go
//	through a temp file deleted after the run. Cancellation kills the
//	process group via the command context. The returned RawResult is
//	non-nil whenever the process actually started, including on
//	non-zero exit.
//
// Outputs:
//   - *RawResult: captured output, nil only when the process never started.
//   - error: ErrInterpreterNotFound, context errors, or a start failure.
func (e *OsascriptExecutor) Run(ctx context.Context, s *script.Script) (*RawResult, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if s == nil {
		return nil, ErrNilScript
	}
	if strings.TrimSpace(s.Text) == "" {
		return nil, ErrEmptyScript
	}

	var run *exec.Cmd
	var cleanup func()
	if len(s.Text) <= e.stdinMaxBytes {
		run = exec.CommandContext(ctx, e.binary, "-")
		run.Stdin = strings.NewReader(s.Text)
	} else {
		f, err := os.CreateTemp("", "taskbridge-*.applescript")
		if err != nil {
			return nil, fmt.Errorf("staging script to temp file: %w", err)
		}
		if _, err := io.WriteString(f, s.Text); err != nil {
			f.Close()
			os.Remove(f.Name())
			return nil, fmt.Errorf("staging script to temp file: %w", err)
		}
		if err := f.Close(); err != nil {
			os.Remove(f.Name())
			return nil, fmt.Errorf("staging script to temp file: %w", err)
		}
		run = exec.CommandContext(ctx, e.binary, f.Name())
		cleanup = func() { os.Remove(f.Name()) }
	}
	if cleanup != nil {
		defer cleanup()
	}

	var stdout, stderr bytes.Buffer
	stdoutLimited := &limitedWriter{w: &stdout, limit: e.maxOutput}
	stderrLimited := &limitedWriter{w: &stderr, limit: e.maxOutput}
	run.Stdout = stdoutLimited
	run.Stderr = stderrLimited

	start := time.Now()
	e.logger.Debug("spawning interpreter",
		"binary", e.binary,
		"dialect", string(s.Dialect),
		"script_size", s.Size,
		"via_temp_file", cleanup != nil)

	err := run.Run()
	result := &RawResult{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: stdoutLimited.truncated || stderrLimited.truncated,
		Duration:  time.Since(start),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrInterpreterNotFound, e.binary)
		}
		result.ExitCode = -1
		return result, fmt.Errorf("interpreter execution failed: %w", err)
	}
	return result, nil
}

// limitedWriter caps captured output; the interpreter keeps running and
// the surplus is discarded.
type limitedWriter struct {
	w         io.Writer
	limit     int
	written   int
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (n int, err error) {
	orig := len(p)
	if lw.written >= lw.limit {
		lw.truncated = true
		return orig, nil
	}
	remaining := lw.limit - lw.written
	if len(p) > remaining {
		p = p[:remaining]
		lw.truncated = true
	}
	n, err = lw.w.Write(p)
	lw.written += n
	// Report the caller's full length so the pipe copier never sees a
	// short write; the surplus is discarded, not an error.
	return orig, err
}
