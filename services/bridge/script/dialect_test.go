// Copyright (C) 2025 Harborline Systems (oss@harborline.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package script

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborline/taskbridge/services/bridge/operation"
)

// compileReq is shared by the rendering tests in this package.
func compileReq(t *testing.T, req *operation.Request) *operation.Compiled {
	t.Helper()
	op, err := operation.NewCompiler(nil).Compile(req)
	require.NoError(t, err)
	return op
}

func TestSelectDialect(t *testing.T) {
	tests := []struct {
		name string
		req  *operation.Request
		want Dialect
	}{
		{
			name: "plain read stays direct",
			req: &operation.Request{
				Kind:   operation.KindRead,
				Entity: operation.EntityTask,
				Fields: []string{"id", "name", "dueDate"},
			},
			want: DialectDirect,
		},
		{
			name: "analyze is always bridged",
			req: &operation.Request{
				Kind:    operation.KindAnalyze,
				Entity:  operation.EntityTask,
				Analyze: &operation.AnalyzeSpec{GroupBy: "project"},
			},
			want: DialectBridged,
		},
		{
			name: "computed field in projection forces bridged",
			req: &operation.Request{
				Kind:   operation.KindRead,
				Entity: operation.EntityTask,
				Fields: []string{"name", "effectiveDueDate"},
			},
			want: DialectBridged,
		},
		{
			name: "computed field in nested filter forces bridged",
			req: &operation.Request{
				Kind:   operation.KindRead,
				Entity: operation.EntityTask,
				Filter: &operation.FilterNode{
					Group: operation.GroupAnd,
					Children: []*operation.FilterNode{
						{Field: "flagged", Operator: operation.OpEquals, Value: true},
						{Field: "taskStatus", Operator: operation.OpEquals, Value: "Available"},
					},
				},
			},
			want: DialectBridged,
		},
		{
			name: "scalar write stays direct",
			req: &operation.Request{
				Kind:   operation.KindWrite,
				Entity: operation.EntityTask,
				Write: &operation.WriteSpec{
					Action:   operation.ActionUpdate,
					TargetID: "abc123",
					Set:      map[string]any{"name": "renamed", "flagged": true},
				},
			},
			want: DialectDirect,
		},
		{
			name: "relationship write forces bridged",
			req: &operation.Request{
				Kind:   operation.KindWrite,
				Entity: operation.EntityTask,
				Write: &operation.WriteSpec{
					Action:   operation.ActionUpdate,
					TargetID: "abc123",
					Set:      map[string]any{"project": "Errands"},
				},
			},
			want: DialectBridged,
		},
		{
			name: "tag assignment forces bridged",
			req: &operation.Request{
				Kind:   operation.KindWrite,
				Entity: operation.EntityTask,
				Write: &operation.WriteSpec{
					Action:   operation.ActionUpdate,
					TargetID: "abc123",
					Set:      map[string]any{"tags": []any{"home", "urgent"}},
				},
			},
			want: DialectBridged,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := compileReq(t, tt.req)
			assert.Equal(t, tt.want, SelectDialect(op))
		})
	}
}
