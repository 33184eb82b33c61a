// Copyright (C) 2025 Harborline Systems (oss@harborline.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package script

import (
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/harborline/taskbridge/services/bridge/operation"
)

// =============================================================================
// GENERATOR
// =============================================================================

// Generator renders compiled operations into host scripts.
//
// Description:
//
//	A Generator is a pure renderer: the same compiled operation, dialect,
//	and variant always produce byte-identical script text. It holds no
//	per-operation state and is safe for concurrent use.
//
// Thread Safety: safe for concurrent use.
type Generator struct {
	hostApp string
	logger  *slog.Logger
}

// NewGenerator returns a Generator targeting the named host application.
func NewGenerator(hostApp string, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{hostApp: hostApp, logger: logger}
}

// Generate renders one script.
//
// Inputs:
//   - op: a compiled operation. Must be non-nil.
//   - dialect: the rendering dialect. Callers normally pass
//     SelectDialect(op); the parameter stays explicit so the bridge can
//     force a bridged re-render after a capability failure.
//   - variant: Standard or Minimal. Count-only reads always render
//     minimal regardless of the requested variant.
//
// Outputs:
//   - *Script: the rendered text with its rune count and provenance.
//   - error: ErrNilOperation, or a rendering failure wrapping
//     ErrUnknownField or ErrUnencodableValue.
func (g *Generator) Generate(op *operation.Compiled, dialect Dialect, variant Variant) (*Script, error) {
	if op == nil {
		return nil, ErrNilOperation
	}
	if op.Req.Kind == operation.KindRead && op.Req.CountOnly {
		variant = VariantMinimal
	}

	var text string
	var err error
	switch dialect {
	case DialectBridged:
		text, err = g.renderBridged(op, variant)
	case DialectDirect:
		text, err = g.renderDirect(op, variant)
	default:
		return nil, fmt.Errorf("unknown dialect %q", dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("rendering %s/%s operation: %w", op.Req.Kind, op.Req.Entity, err)
	}

	s := &Script{
		Text:    text,
		Dialect: dialect,
		Variant: variant,
		Size:    utf8.RuneCountInString(text),
	}
	g.logger.Debug("script rendered",
		"fingerprint", op.Fingerprint,
		"dialect", string(dialect),
		"variant", variant.String(),
		"size", s.Size)
	return s, nil
}
