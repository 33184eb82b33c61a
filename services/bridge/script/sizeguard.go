// Copyright (C) 2025 Harborline Systems (oss@harborline.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package script

import (
	"log/slog"

	"github.com/harborline/taskbridge/services/bridge/operation"
)

// =============================================================================
// SIZE GUARD
// =============================================================================

// Default script size ceilings, in runes. The host interpreter starts
// degrading well before its documented argument limit, so the soft
// ceiling triggers a leaner re-render long before the hard stop.
const (
	DefaultSoftLimit = 32000
	DefaultHardLimit = 64000
)

// SizeGuard renders scripts under a two-stage size policy.
//
// Description:
//
//	Rendering starts with the standard variant. If the result exceeds
//	the soft ceiling the operation is re-rendered with the minimal
//	variant, dropping the comment header, diagnostics, and unreferenced
//	helpers. A script that still exceeds the hard ceiling is rejected
//	with a *GenerationError; an oversized script is never sent to the
//	host truncated.
//
// Thread Safety: safe for concurrent use.
type SizeGuard struct {
	gen    *Generator
	soft   int
	hard   int
	logger *slog.Logger
}

// NewSizeGuard wraps a Generator with size ceilings. Non-positive
// limits fall back to the defaults.
func NewSizeGuard(gen *Generator, soft, hard int, logger *slog.Logger) *SizeGuard {
	if soft <= 0 {
		soft = DefaultSoftLimit
	}
	if hard <= 0 {
		hard = DefaultHardLimit
	}
	if hard < soft {
		hard = soft
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SizeGuard{gen: gen, soft: soft, hard: hard, logger: logger}
}

// Render produces a script for op in the given dialect, degrading the
// variant as needed to fit the ceilings.
func (sg *SizeGuard) Render(op *operation.Compiled, dialect Dialect) (*Script, error) {
	s, err := sg.gen.Generate(op, dialect, VariantStandard)
	if err != nil {
		return nil, err
	}

	if s.Size > sg.soft && s.Variant != VariantMinimal {
		sg.logger.Debug("soft ceiling exceeded, re-rendering minimal",
			"fingerprint", op.Fingerprint,
			"size", s.Size,
			"soft_limit", sg.soft)
		s, err = sg.gen.Generate(op, dialect, VariantMinimal)
		if err != nil {
			return nil, err
		}
	}

	if s.Size > sg.hard {
		return nil, &GenerationError{Size: s.Size, Limit: sg.hard, Dialect: dialect}
	}
	return s, nil
}
