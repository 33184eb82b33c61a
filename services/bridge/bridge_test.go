// Copyright (C) 2025 Harborline Systems (oss@harborline.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package bridge

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborline/taskbridge/services/bridge/cache"
	"github.com/harborline/taskbridge/services/bridge/engine"
	"github.com/harborline/taskbridge/services/bridge/operation"
	"github.com/harborline/taskbridge/services/bridge/result"
	"github.com/harborline/taskbridge/services/bridge/script"
)

// scriptedExecutor returns canned stdout per call and records every
// script it was handed. results takes precedence over outputs when a
// test needs to fake exit codes or stderr.
type scriptedExecutor struct {
	mu      sync.Mutex
	outputs []string
	results []*engine.RawResult
	calls   []*script.Script
}

func (f *scriptedExecutor) Run(_ context.Context, s *script.Script) (*engine.RawResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, s)
	if len(f.results) > 0 {
		r := f.results[0]
		f.results = f.results[1:]
		return r, nil
	}
	out := `{"ok":true,"value":[]}`
	if len(f.outputs) > 0 {
		out = f.outputs[0]
		f.outputs = f.outputs[1:]
	}
	return &engine.RawResult{Stdout: out}, nil
}

func (f *scriptedExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *scriptedExecutor) dialectOfCall(i int) script.Dialect {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i].Dialect
}

func newTestBridge(exec engine.Executor) *Bridge {
	gen := script.NewGenerator("OmniFocus", nil)
	return NewWithParts(
		operation.NewCompiler(nil),
		script.NewSizeGuard(gen, 0, 0, nil),
		engine.NewEngine(exec, nil),
		cache.NewManager(nil),
		"OmniFocus",
		nil,
	)
}

func readRequest() *operation.Request {
	return &operation.Request{
		Kind:   operation.KindRead,
		Entity: operation.EntityTask,
		Fields: []string{"id", "name"},
	}
}

func TestExecuteRead(t *testing.T) {
	exec := &scriptedExecutor{outputs: []string{`{"ok":true,"value":[{"id":"t1","name":"Buy milk"}]}`}}
	b := newTestBridge(exec)

	resp, err := b.Execute(context.Background(), readRequest())
	require.NoError(t, err)

	assert.NotEmpty(t, resp.OpID)
	assert.Equal(t, operation.ShapeEntityList, resp.Shape)
	assert.Equal(t, script.DialectDirect, resp.Dialect)
	assert.False(t, resp.Cached)
	list := resp.Value.([]any)
	require.Len(t, list, 1)
	assert.Equal(t, "t1", list[0].(map[string]any)["id"])
}

func TestExecuteReadServedFromCache(t *testing.T) {
	exec := &scriptedExecutor{outputs: []string{`{"ok":true,"value":[{"id":"t1"}]}`}}
	b := newTestBridge(exec)

	first, err := b.Execute(context.Background(), readRequest())
	require.NoError(t, err)
	require.False(t, first.Cached)

	second, err := b.Execute(context.Background(), readRequest())
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Value, second.Value)
	assert.Equal(t, 1, exec.callCount(), "cached read must not spawn the interpreter")
}

func TestExecuteWriteInvalidatesCache(t *testing.T) {
	exec := &scriptedExecutor{outputs: []string{
		`{"ok":true,"value":[{"id":"t1"}]}`,
		`{"ok":true,"value":{"id":"t1","updated":true}}`,
		`{"ok":true,"value":[{"id":"t1"}]}`,
	}}
	b := newTestBridge(exec)

	_, err := b.Execute(context.Background(), readRequest())
	require.NoError(t, err)

	_, err = b.Execute(context.Background(), &operation.Request{
		Kind:   operation.KindWrite,
		Entity: operation.EntityTask,
		Write: &operation.WriteSpec{
			Action:   operation.ActionUpdate,
			TargetID: "t1",
			Set:      map[string]any{"flagged": true},
		},
	})
	require.NoError(t, err)

	resp, err := b.Execute(context.Background(), readRequest())
	require.NoError(t, err)
	assert.False(t, resp.Cached, "write must drop the cached read")
	assert.Equal(t, 3, exec.callCount())
}

func TestExecuteWriteNeverCached(t *testing.T) {
	exec := &scriptedExecutor{outputs: []string{
		`{"ok":true,"value":{"id":"t1","updated":true}}`,
		`{"ok":true,"value":{"id":"t1","updated":true}}`,
	}}
	b := newTestBridge(exec)
	write := func() *operation.Request {
		return &operation.Request{
			Kind:   operation.KindWrite,
			Entity: operation.EntityTask,
			Write: &operation.WriteSpec{
				Action:   operation.ActionUpdate,
				TargetID: "t1",
				Set:      map[string]any{"flagged": true},
			},
		}
	}

	_, err := b.Execute(context.Background(), write())
	require.NoError(t, err)
	_, err = b.Execute(context.Background(), write())
	require.NoError(t, err)
	assert.Equal(t, 2, exec.callCount(), "identical writes must each execute")
}

func TestExecuteEscalatesReadToBridged(t *testing.T) {
	exec := &scriptedExecutor{outputs: []string{
		`{"ok":false,"kind":"script_error","message":"OmniFocus got an error: doesn't understand the message. (-1708)"}`,
		`{"ok":true,"value":[{"id":"t1"}]}`,
	}}
	b := newTestBridge(exec)

	resp, err := b.Execute(context.Background(), readRequest())
	require.NoError(t, err)

	assert.Equal(t, script.DialectBridged, resp.Dialect)
	require.Equal(t, 2, exec.callCount())
	assert.Equal(t, script.DialectDirect, exec.dialectOfCall(0))
	assert.Equal(t, script.DialectBridged, exec.dialectOfCall(1))
}

func TestExecuteDoesNotEscalateWrites(t *testing.T) {
	exec := &scriptedExecutor{outputs: []string{
		`{"ok":false,"kind":"script_error","message":"doesn't understand the message. (-1708)"}`,
	}}
	b := newTestBridge(exec)

	_, err := b.Execute(context.Background(), &operation.Request{
		Kind:   operation.KindWrite,
		Entity: operation.EntityTask,
		Write: &operation.WriteSpec{
			Action:   operation.ActionUpdate,
			TargetID: "t1",
			Set:      map[string]any{"flagged": true},
		},
	})

	var runtimeErr *result.RuntimeError
	require.ErrorAs(t, err, &runtimeErr)
	assert.Equal(t, result.KindCapabilityUnsupported, runtimeErr.Kind)
	assert.Equal(t, 1, exec.callCount(), "writes are never retried in another dialect")
}

func TestExecuteDoesNotEscalateOtherErrors(t *testing.T) {
	exec := &scriptedExecutor{outputs: []string{
		`{"ok":false,"kind":"script_error","message":"Application isn't running. (-600)"}`,
	}}
	b := newTestBridge(exec)

	_, err := b.Execute(context.Background(), readRequest())
	var hostErr *engine.HostUnavailableError
	require.ErrorAs(t, err, &hostErr)
	assert.Equal(t, "OmniFocus", hostErr.App)
	var runtimeErr *result.RuntimeError
	require.ErrorAs(t, err, &runtimeErr)
	assert.Equal(t, result.KindHostNotRunning, runtimeErr.Kind)
	assert.Equal(t, 1, exec.callCount())
}

func TestExecuteWriteWithoutCache(t *testing.T) {
	exec := &scriptedExecutor{outputs: []string{
		`{"ok":true,"value":{"id":"t1","updated":true}}`,
	}}
	gen := script.NewGenerator("OmniFocus", nil)
	b := NewWithParts(
		operation.NewCompiler(nil),
		script.NewSizeGuard(gen, 0, 0, nil),
		engine.NewEngine(exec, nil),
		nil, // caching disabled
		"OmniFocus",
		nil,
	)

	var resp *Response
	var err error
	require.NotPanics(t, func() {
		resp, err = b.Execute(context.Background(), &operation.Request{
			Kind:   operation.KindWrite,
			Entity: operation.EntityTask,
			Write: &operation.WriteSpec{
				Action:   operation.ActionUpdate,
				TargetID: "t1",
				Set:      map[string]any{"flagged": true},
			},
		})
	})
	require.NoError(t, err)
	assert.False(t, resp.Cached)
}

func TestExecuteClassifiesInterpreterAbort(t *testing.T) {
	// The host refusing the apple event kills the run before the shim
	// prints anything: nonzero exit, empty stdout, prose on stderr.
	exec := &scriptedExecutor{results: []*engine.RawResult{{
		Stderr:   "execution error: OmniFocus got an error: Application isn't running. (-600)\n",
		ExitCode: 1,
	}}}
	b := newTestBridge(exec)

	_, err := b.Execute(context.Background(), readRequest())
	var hostErr *engine.HostUnavailableError
	require.ErrorAs(t, err, &hostErr)
	assert.Equal(t, "OmniFocus", hostErr.App)
	var runtimeErr *result.RuntimeError
	require.ErrorAs(t, err, &runtimeErr)
	assert.Equal(t, result.KindHostNotRunning, runtimeErr.Kind)
}

func TestExecuteClassifiesAutomationRefusal(t *testing.T) {
	exec := &scriptedExecutor{results: []*engine.RawResult{{
		Stderr:   "execution error: Not authorized to send Apple events to OmniFocus. (-1743)\n",
		ExitCode: 1,
	}}}
	b := newTestBridge(exec)

	_, err := b.Execute(context.Background(), readRequest())
	var runtimeErr *result.RuntimeError
	require.ErrorAs(t, err, &runtimeErr)
	assert.Equal(t, result.KindPermissionDenied, runtimeErr.Kind)
	assert.Contains(t, runtimeErr.Message, "-1743")
}

func TestExecuteValidationErrorShortCircuits(t *testing.T) {
	exec := &scriptedExecutor{}
	b := newTestBridge(exec)

	_, err := b.Execute(context.Background(), &operation.Request{
		Kind:   operation.KindRead,
		Entity: "spaceship",
	})

	var valErr *operation.ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Zero(t, exec.callCount(), "invalid requests must not reach the interpreter")
}

func TestExecuteShapeMismatchSurfaces(t *testing.T) {
	exec := &scriptedExecutor{outputs: []string{`{"ok":true,"value":42}`}}
	b := newTestBridge(exec)

	_, err := b.Execute(context.Background(), readRequest())
	assert.ErrorIs(t, err, result.ErrShapeMismatch)
}

func TestExecuteCountOnly(t *testing.T) {
	exec := &scriptedExecutor{outputs: []string{`{"ok":true,"value":17}`}}
	b := newTestBridge(exec)

	resp, err := b.Execute(context.Background(), &operation.Request{
		Kind:      operation.KindRead,
		Entity:    operation.EntityTask,
		CountOnly: true,
	})
	require.NoError(t, err)
	assert.Equal(t, operation.ShapeCount, resp.Shape)
	assert.Equal(t, float64(17), resp.Value)
}

func TestDiagnoseHealthy(t *testing.T) {
	exec := &scriptedExecutor{outputs: []string{
		`{"ok":true,"value":"pong"}`,
		`{"ok":true,"value":[]}`,
		`{"ok":true,"value":[]}`,
	}}
	b := newTestBridge(exec)

	report := b.Diagnose(context.Background())
	assert.True(t, report.Healthy)
	require.Len(t, report.Checks, 3)
	assert.Equal(t, "interpreter", report.Checks[0].Name)
	assert.Equal(t, "host_direct", report.Checks[1].Name)
	assert.Equal(t, "host_bridged", report.Checks[2].Name)
	for _, c := range report.Checks {
		assert.True(t, c.OK, c.Name)
	}
}

func TestDiagnoseLocalizesFailure(t *testing.T) {
	exec := &scriptedExecutor{outputs: []string{
		`{"ok":true,"value":"pong"}`,
		`{"ok":true,"value":[]}`,
		`{"ok":false,"kind":"script_error","message":"doesn't understand the message. (-1708)"}`,
	}}
	b := newTestBridge(exec)

	report := b.Diagnose(context.Background())
	assert.False(t, report.Healthy)
	assert.True(t, report.Checks[0].OK)
	assert.True(t, report.Checks[1].OK)
	assert.False(t, report.Checks[2].OK)
	assert.Contains(t, report.Checks[2].Detail, "capability_unsupported")
}
