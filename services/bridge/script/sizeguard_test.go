// Copyright (C) 2025 Harborline Systems (oss@harborline.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package script

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborline/taskbridge/services/bridge/operation"
)

// wideReadRequest builds a request whose rendered script grows with n.
func wideReadRequest(n int) *operation.Request {
	children := make([]*operation.FilterNode, 0, n)
	for i := 0; i < n; i++ {
		children = append(children, &operation.FilterNode{
			Field:    "name",
			Operator: operation.OpContains,
			Value:    fmt.Sprintf("needle-%04d", i),
		})
	}
	return &operation.Request{
		Kind:   operation.KindRead,
		Entity: operation.EntityTask,
		Fields: []string{"id", "name", "dueDate"},
		Filter: &operation.FilterNode{Group: operation.GroupOr, Children: children},
	}
}

func TestSizeGuardUnderSoftLimit(t *testing.T) {
	sg := NewSizeGuard(newTestGenerator(), 0, 0, nil)
	op := compileReq(t, wideReadRequest(1))

	s, err := sg.Render(op, DialectDirect)
	require.NoError(t, err)
	assert.Equal(t, VariantStandard, s.Variant)
	assert.LessOrEqual(t, s.Size, DefaultSoftLimit)
}

func TestSizeGuardDegradesToMinimal(t *testing.T) {
	// Ceilings small enough that the standard render overflows but the
	// minimal one fits.
	gen := newTestGenerator()
	op := compileReq(t, wideReadRequest(1))

	standard, err := gen.Generate(op, DialectDirect, VariantStandard)
	require.NoError(t, err)
	minimal, err := gen.Generate(op, DialectDirect, VariantMinimal)
	require.NoError(t, err)
	require.Less(t, minimal.Size, standard.Size)

	sg := NewSizeGuard(gen, minimal.Size, standard.Size+100, nil)
	s, err := sg.Render(op, DialectDirect)
	require.NoError(t, err)
	assert.Equal(t, VariantMinimal, s.Variant)
}

func TestSizeGuardRejectsOverHardLimit(t *testing.T) {
	sg := NewSizeGuard(newTestGenerator(), 10, 20, nil)
	op := compileReq(t, wideReadRequest(50))

	_, err := sg.Render(op, DialectDirect)
	require.Error(t, err)

	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, 20, genErr.Limit)
	assert.Greater(t, genErr.Size, genErr.Limit)
	assert.Equal(t, DialectDirect, genErr.Dialect)
}

func TestSizeGuardNeverTruncates(t *testing.T) {
	// Either the script fits or Render fails; a returned script is
	// always complete.
	sg := NewSizeGuard(newTestGenerator(), 10, 100000, nil)
	op := compileReq(t, wideReadRequest(20))

	s, err := sg.Render(op, DialectDirect)
	require.NoError(t, err)
	assert.Contains(t, s.Text, "end try\n")
	assert.LessOrEqual(t, s.Size, 100000)
}

func TestSizeGuardDefaultsAndClamping(t *testing.T) {
	sg := NewSizeGuard(newTestGenerator(), -1, -1, nil)
	assert.Equal(t, DefaultSoftLimit, sg.soft)
	assert.Equal(t, DefaultHardLimit, sg.hard)

	// hard may never sit below soft
	sg = NewSizeGuard(newTestGenerator(), 500, 100, nil)
	assert.Equal(t, 500, sg.hard)
}
