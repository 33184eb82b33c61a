// Copyright (C) 2025 Harborline Systems (oss@harborline.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package bridge executes task-manager operations against a host
// application that only accepts dynamically generated scripts.
//
// The pipeline per operation: compile and fingerprint the request,
// pick a dialect, render under the size guard, run the script through
// the interpreter engine, parse and shape-check the single-line JSON
// result. Validated read results are cached by fingerprint; successful
// writes invalidate every cache entry depending on the touched entity
// classes before the caller sees the result.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/harborline/taskbridge/services/bridge/cache"
	"github.com/harborline/taskbridge/services/bridge/config"
	"github.com/harborline/taskbridge/services/bridge/engine"
	"github.com/harborline/taskbridge/services/bridge/operation"
	"github.com/harborline/taskbridge/services/bridge/result"
	"github.com/harborline/taskbridge/services/bridge/script"
)

// =============================================================================
// BRIDGE
// =============================================================================

// Response is the outcome of one executed operation.
type Response struct {
	// OpID correlates log lines for this operation.
	OpID string `json:"op_id"`
	// Value is the validated result payload.
	Value any `json:"value"`
	// Shape names the payload shape.
	Shape operation.ResultShape `json:"shape"`
	// Dialect that actually produced the value, after any escalation.
	Dialect script.Dialect `json:"dialect"`
	// Cached is true when the value came from the result cache.
	Cached bool `json:"cached"`
	// Duration covers the whole pipeline for this call.
	Duration time.Duration `json:"duration"`
}

// Bridge coordinates the operation pipeline.
//
// Thread Safety: safe for concurrent use. Identical concurrent reads
// are collapsed into one script execution.
type Bridge struct {
	compiler  *operation.Compiler
	guard     *script.SizeGuard
	engine    *engine.Engine
	cache     *cache.Manager
	useCache  bool
	hostApp   string
	logger    *slog.Logger
	readGroup singleflight.Group
}

// New assembles a Bridge from configuration.
func New(cfg config.Config, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}

	gen := script.NewGenerator(cfg.HostApp, logger)
	var execOpts []engine.ExecutorOption
	if cfg.Interpreter != "" {
		execOpts = append(execOpts, engine.WithBinary(cfg.Interpreter))
	}
	if cfg.Engine.MaxOutputMB > 0 {
		execOpts = append(execOpts, engine.WithMaxOutputBytes(cfg.Engine.MaxOutputMB<<20))
	}
	exec := engine.NewOsascriptExecutor(logger, execOpts...)

	return &Bridge{
		compiler: operation.NewCompiler(logger),
		guard:    script.NewSizeGuard(gen, cfg.Script.SoftLimit, cfg.Script.HardLimit, logger),
		engine: engine.NewEngine(exec, logger,
			engine.WithTimeout(cfg.Engine.Timeout),
			engine.WithMaxConcurrent(cfg.Engine.MaxConcurrent)),
		cache:    cache.NewManager(logger, cache.WithTTLs(cfg.Cache.TTLs())),
		useCache: cfg.Cache.Enabled,
		hostApp:  cfg.HostApp,
		logger:   logger,
	}
}

// NewWithParts assembles a Bridge from explicit components. Used by
// tests and by callers that need a custom executor.
func NewWithParts(compiler *operation.Compiler, guard *script.SizeGuard, eng *engine.Engine, cacheMgr *cache.Manager, hostApp string, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		compiler: compiler,
		guard:    guard,
		engine:   eng,
		cache:    cacheMgr,
		useCache: cacheMgr != nil,
		hostApp:  hostApp,
		logger:   logger,
	}
}

// Execute runs one operation end to end.
//
// Description:
//
//	Reads are served from cache when a fresh validated result exists
//	for the same fingerprint; concurrent identical reads share one
//	execution. A direct-dialect read that fails with a
//	capability-unsupported error is re-rendered bridged and retried
//	once. Writes are never cached, never deduplicated, and invalidate
//	dependent cache entries before returning.
//
// Outputs:
//   - *Response: validated payload with provenance.
//   - error: *operation.ValidationError, *script.GenerationError,
//     *engine.TimeoutError, *result.ParseError, *result.RuntimeError,
//     or an engine failure.
func (b *Bridge) Execute(ctx context.Context, req *operation.Request) (*Response, error) {
	start := time.Now()
	opID := uuid.NewString()
	log := b.logger.With("op_id", opID)

	op, err := b.compiler.Compile(req)
	if err != nil {
		return nil, err
	}
	log = log.With("fingerprint", op.Fingerprint, "kind", string(op.Req.Kind), "entity", string(op.Req.Entity))

	isRead := op.Req.Kind != operation.KindWrite

	if isRead && b.useCache {
		if payload, ok := b.cache.Get(ctx, op.Fingerprint); ok {
			log.Debug("operation served from cache")
			return &Response{
				OpID:     opID,
				Value:    payload,
				Shape:    op.Shape(),
				Dialect:  script.SelectDialect(op),
				Cached:   true,
				Duration: time.Since(start),
			}, nil
		}
	}

	type outcome struct {
		value   any
		dialect script.Dialect
	}

	run := func() (any, error) {
		value, dialect, err := b.run(ctx, op, log)
		if err != nil {
			return nil, err
		}
		return outcome{value: value, dialect: dialect}, nil
	}

	var raw any
	if isRead {
		raw, err, _ = b.readGroup.Do(op.Fingerprint, run)
	} else {
		raw, err = run()
	}
	if err != nil {
		return nil, err
	}
	out := raw.(outcome)

	if isRead && b.useCache {
		b.cache.Set(ctx, op, out.value)
	}
	if !isRead && b.cache != nil {
		for _, class := range op.DependsOn() {
			b.cache.Invalidate(ctx, class)
		}
	}

	log.Info("operation completed",
		"dialect", string(out.dialect),
		"shape", string(op.Shape()),
		"duration", time.Since(start))

	return &Response{
		OpID:     opID,
		Value:    out.value,
		Shape:    op.Shape(),
		Dialect:  out.dialect,
		Duration: time.Since(start),
	}, nil
}

// run renders and executes one compiled operation, escalating reads to
// the bridged dialect when the direct dialect turns out not to support
// the request at runtime.
func (b *Bridge) run(ctx context.Context, op *operation.Compiled, log *slog.Logger) (any, script.Dialect, error) {
	dialect := script.SelectDialect(op)

	value, err := b.renderAndExecute(ctx, op, dialect)
	if err == nil {
		return value, dialect, nil
	}

	var runtimeErr *result.RuntimeError
	escalatable := op.Req.Kind != operation.KindWrite &&
		dialect == script.DialectDirect &&
		errors.As(err, &runtimeErr) &&
		runtimeErr.Kind == result.KindCapabilityUnsupported

	if !escalatable {
		return nil, dialect, err
	}

	log.Debug("direct dialect lacks capability, escalating to bridged",
		"cause", runtimeErr.Message)
	value, err = b.renderAndExecute(ctx, op, script.DialectBridged)
	if err != nil {
		return nil, script.DialectBridged, err
	}
	return value, script.DialectBridged, nil
}

// renderAndExecute runs one dialect attempt through guard, engine,
// parser, and shape validation.
func (b *Bridge) renderAndExecute(ctx context.Context, op *operation.Compiled, dialect script.Dialect) (any, error) {
	s, err := b.guard.Render(op, dialect)
	if err != nil {
		return nil, err
	}

	raw, err := b.engine.Execute(ctx, s)
	if err != nil {
		return nil, err
	}

	env, err := result.Parse(raw.Stdout)
	if err != nil {
		// An AppleScript-level failure (host not running, automation
		// refused) aborts the interpreter before the shim can print an
		// envelope: nonzero exit, empty stdout, the host's error prose
		// on stderr. Classify the stderr text so those outcomes carry
		// the same kinds as envelope failures.
		var runtimeErr *result.RuntimeError
		if raw.ExitCode != 0 && !errors.As(err, &runtimeErr) {
			if msg := strings.TrimSpace(raw.Stderr); msg != "" {
				err = &result.RuntimeError{Kind: result.Classify(msg), Message: msg}
			}
		}
		if errors.As(err, &runtimeErr) && runtimeErr.Kind == result.KindHostNotRunning {
			return nil, &engine.HostUnavailableError{App: b.hostApp, Cause: err}
		}
		return nil, err
	}
	return result.Validate(env, op.Shape())
}

// InvalidateClass drops cached results depending on an entity class.
// Exposed for callers that mutate the host outside this bridge.
func (b *Bridge) InvalidateClass(ctx context.Context, class operation.EntityClass) int {
	if b.cache == nil {
		return 0
	}
	return b.cache.Invalidate(ctx, class)
}
