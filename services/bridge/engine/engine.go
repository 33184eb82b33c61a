// Copyright (C) 2025 Harborline Systems (oss@harborline.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package engine runs generated scripts through the host interpreter
// with a hard deadline and a bounded number of concurrent processes.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/harborline/taskbridge/services/bridge/script"
)

// =============================================================================
// ENGINE
// =============================================================================

// Default engine tuning.
const (
	DefaultTimeout       = 60 * time.Second
	DefaultMaxConcurrent = 4
)

// Engine executes scripts with timeout and concurrency control.
//
// Description:
//
//	Every execution acquires a slot from a weighted semaphore before
//	spawning, so a burst of operations cannot fork an unbounded number
//	of interpreter processes against the host application. The deadline
//	covers queueing plus execution; a script that cannot finish in time
//	has its process killed and surfaces a *TimeoutError.
//
// Thread Safety: safe for concurrent use.
type Engine struct {
	exec    Executor
	timeout time.Duration
	slots   *semaphore.Weighted
	logger  *slog.Logger
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithTimeout sets the per-execution deadline.
func WithTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithMaxConcurrent caps simultaneous interpreter processes.
func WithMaxConcurrent(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.slots = semaphore.NewWeighted(int64(n))
		}
	}
}

// NewEngine creates an Engine around an Executor. A nil executor gets
// the system interpreter.
func NewEngine(exec Executor, logger *slog.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if exec == nil {
		exec = NewOsascriptExecutor(logger)
	}
	e := &Engine{
		exec:    exec,
		timeout: DefaultTimeout,
		slots:   semaphore.NewWeighted(DefaultMaxConcurrent),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs one script to completion.
//
// Inputs:
//   - ctx: caller cancellation. The engine adds its own deadline on top.
//   - s: the script to run.
//
// Outputs:
//   - *RawResult: interpreter output, non-nil when the process produced any.
//   - error: *TimeoutError on deadline, ErrInterpreterNotFound when the
//     interpreter is missing, or the executor's failure.
func (e *Engine) Execute(ctx context.Context, s *script.Script) (*RawResult, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if s == nil {
		return nil, ErrNilScript
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	if err := e.slots.Acquire(ctx, 1); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			executionsTotal.WithLabelValues(string(s.Dialect), "timeout").Inc()
			return nil, &TimeoutError{Elapsed: time.Since(start), Timeout: e.timeout}
		}
		return nil, err
	}
	defer e.slots.Release(1)

	executionsInflight.Inc()
	defer executionsInflight.Dec()
	scriptSizeRunes.WithLabelValues(string(s.Dialect), s.Variant.String()).Observe(float64(s.Size))

	result, err := e.exec.Run(ctx, s)
	elapsed := time.Since(start)
	executionDuration.WithLabelValues(string(s.Dialect)).Observe(elapsed.Seconds())

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		executionsTotal.WithLabelValues(string(s.Dialect), "timeout").Inc()
		e.logger.Warn("script execution timed out",
			"dialect", string(s.Dialect),
			"elapsed", elapsed,
			"timeout", e.timeout)
		return nil, &TimeoutError{Elapsed: elapsed, Timeout: e.timeout}
	}
	if err != nil {
		executionsTotal.WithLabelValues(string(s.Dialect), "error").Inc()
		return result, err
	}

	outcome := "ok"
	if result.ExitCode != 0 {
		outcome = "nonzero_exit"
	}
	executionsTotal.WithLabelValues(string(s.Dialect), outcome).Inc()

	e.logger.Debug("script executed",
		"dialect", string(s.Dialect),
		"exit_code", result.ExitCode,
		"duration", result.Duration,
		"stdout_bytes", len(result.Stdout),
		"stderr_bytes", len(result.Stderr),
		"truncated", result.Truncated)
	return result, nil
}
