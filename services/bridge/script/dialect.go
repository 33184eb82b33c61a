// Copyright (C) 2025 Harborline Systems (oss@harborline.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package script turns compiled operations into executable script text
// for the host's automation interface.
//
// Two mutually incompatible dialects exist. The direct dialect is the
// host's native automation language: fast to dispatch but blind to
// computed properties and unreliable for relationship writes. The
// bridged dialect is JavaScript handed to the host's in-process
// evaluator from inside a direct-dialect shim: slower, but it reaches
// everything the host's object model exposes.
//
// Dialect choice is a pure function of the compiled operation's shape
// (SelectDialect), so retried generation is byte-identical.
package script

import (
	"github.com/harborline/taskbridge/services/bridge/operation"
)

// Dialect tags which script syntax a generated script uses.
type Dialect string

const (
	// DialectDirect is the host's native automation language.
	DialectDirect Dialect = "direct"

	// DialectBridged is JavaScript evaluated by the host's in-process
	// evaluator, wrapped in a direct-dialect shim.
	DialectBridged Dialect = "bridged"
)

// Variant selects a template family.
type Variant int

const (
	// VariantStandard includes convenience helpers (string escaping
	// handlers, shared date constructors) in the preamble.
	VariantStandard Variant = iota

	// VariantMinimal emits only what the requested fields and filters
	// strictly require. Used when the standard rendering exceeds the
	// soft size ceiling, and always for count-only operations.
	VariantMinimal
)

// String returns "standard" or "minimal".
func (v Variant) String() string {
	if v == VariantMinimal {
		return "minimal"
	}
	return "standard"
}

// Script is one rendered payload. Ephemeral: never cached, and never
// logged at full length.
type Script struct {
	// Text is the script source handed to the interpreter.
	Text string

	// Dialect tags the syntax of Text.
	Dialect Dialect

	// Size is the script length in characters, the unit the host's
	// ingestion ceiling is measured in.
	Size int

	// Variant records which template family rendered the script.
	Variant Variant
}

// =============================================================================
// CAPABILITY TABLE
// =============================================================================

// bridgedOnlyReadFields are computed or derived properties the direct
// dialect cannot enumerate; requesting or filtering on one forces the
// bridged dialect.
var bridgedOnlyReadFields = map[string]bool{
	"tags":                   true,
	"parentTask":             true,
	"effectiveDueDate":       true,
	"effectiveDeferDate":     true,
	"numberOfTasks":          true,
	"numberOfAvailableTasks": true,
	"repetitionRule":         true,
	"taskStatus":             true,
}

// relationshipWriteFields are fields whose direct-dialect writes have
// been observed to report success without being durably visible to
// subsequent reads. Writes touching them always take the bridged path.
var relationshipWriteFields = map[string]bool{
	"project":    true,
	"tags":       true,
	"parentTask": true,
	"folder":     true,
}

// SelectDialect picks the dialect for a compiled operation.
//
// Pure: depends only on the operation's shape. Escalation for a
// capability error discovered at runtime is handled by the bridge, not
// here.
func SelectDialect(op *operation.Compiled) Dialect {
	if op.Req.Kind == operation.KindAnalyze {
		// Grouped aggregation needs the evaluator's object model.
		return DialectBridged
	}

	for _, f := range op.Req.Fields {
		if bridgedOnlyReadFields[f] {
			return DialectBridged
		}
	}
	if filterNeedsBridged(op.Req.Filter) {
		return DialectBridged
	}

	if w := op.Req.Write; w != nil {
		for field := range w.Set {
			if relationshipWriteFields[field] {
				return DialectBridged
			}
		}
	}

	return DialectDirect
}

// filterNeedsBridged reports whether any predicate in the tree tests a
// bridged-only field.
func filterNeedsBridged(n *operation.FilterNode) bool {
	if n == nil {
		return false
	}
	if n.IsLeaf() {
		return bridgedOnlyReadFields[n.Field]
	}
	for _, child := range n.Children {
		if filterNeedsBridged(child) {
			return true
		}
	}
	return false
}
