// Copyright (C) 2025 Harborline Systems (oss@harborline.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/harborline/taskbridge/services/bridge/operation"
	"github.com/harborline/taskbridge/services/bridge/result"
	"github.com/harborline/taskbridge/services/bridge/script"
)

// =============================================================================
// DIAGNOSTICS
// =============================================================================

// Check is one diagnostic probe's outcome.
type Check struct {
	Name    string        `json:"name"`
	OK      bool          `json:"ok"`
	Latency time.Duration `json:"latency"`
	Detail  string        `json:"detail,omitempty"`
}

// DiagnosticsReport summarizes bridge health.
type DiagnosticsReport struct {
	GeneratedAt time.Time `json:"generated_at"`
	HostApp     string    `json:"host_app"`
	Healthy     bool      `json:"healthy"`
	Checks      []Check   `json:"checks"`
}

// Diagnose probes the execution path layer by layer: the interpreter
// alone, then the host application through the direct dialect, then
// the in-process evaluator through the bridged dialect. Each probe is
// independent so the report localizes the failure.
func (b *Bridge) Diagnose(ctx context.Context) *DiagnosticsReport {
	report := &DiagnosticsReport{
		GeneratedAt: time.Now(),
		HostApp:     b.hostApp,
		Healthy:     true,
	}

	report.Checks = append(report.Checks, b.probeInterpreter(ctx))
	report.Checks = append(report.Checks, b.probeDialect(ctx, "host_direct", script.DialectDirect))
	report.Checks = append(report.Checks, b.probeDialect(ctx, "host_bridged", script.DialectBridged))

	for _, c := range report.Checks {
		if !c.OK {
			report.Healthy = false
		}
	}
	return report
}

// probeInterpreter runs a script that never talks to the host, so a
// failure here is the interpreter itself.
func (b *Bridge) probeInterpreter(ctx context.Context) Check {
	probe := &script.Script{
		Text:    "return \"{\\\"ok\\\":true,\\\"value\\\":\\\"pong\\\"}\"\n",
		Dialect: script.DialectDirect,
		Variant: script.VariantMinimal,
		Size:    42,
	}

	start := time.Now()
	raw, err := b.engine.Execute(ctx, probe)
	check := Check{Name: "interpreter", Latency: time.Since(start)}
	if err != nil {
		check.Detail = err.Error()
		return check
	}
	if _, err := result.Parse(raw.Stdout); err != nil {
		check.Detail = err.Error()
		return check
	}
	check.OK = true
	return check
}

// probeDialect runs a one-entity read through the full pipeline in a
// fixed dialect.
func (b *Bridge) probeDialect(ctx context.Context, name string, dialect script.Dialect) Check {
	fields := []string{"id"}
	if dialect == script.DialectBridged {
		// a computed property exercises the evaluator for real
		fields = []string{"id", "effectiveDueDate"}
	}
	op, err := b.compiler.Compile(&operation.Request{
		Kind:   operation.KindRead,
		Entity: operation.EntityTask,
		Fields: fields,
		Limit:  1,
	})
	if err != nil {
		return Check{Name: name, Detail: err.Error()}
	}

	start := time.Now()
	_, err = b.renderAndExecute(ctx, op, dialect)
	check := Check{Name: name, Latency: time.Since(start)}
	if err != nil {
		check.Detail = diagnoseDetail(err)
		return check
	}
	check.OK = true
	return check
}

// diagnoseDetail keeps the actionable part of a probe failure.
func diagnoseDetail(err error) string {
	var runtimeErr *result.RuntimeError
	if errors.As(err, &runtimeErr) {
		return string(runtimeErr.Kind) + ": " + runtimeErr.Message
	}
	return err.Error()
}
