// Copyright (C) 2025 Harborline Systems (oss@harborline.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package result turns raw interpreter output into validated values.
//
// Every generated script returns exactly one JSON line on stdout: an
// envelope of either {"ok":true,"value":...} or
// {"ok":false,"kind":...,"message":...}. Everything else the
// interpreter prints (stderr diagnostics, trailing newlines) is noise
// this package strips or preserves for error reports.
package result

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/harborline/taskbridge/services/bridge/operation"
)

// =============================================================================
// ENVELOPE
// =============================================================================

// Envelope is the wire form every script returns.
type Envelope struct {
	OK      bool            `json:"ok"`
	Value   json.RawMessage `json:"value,omitempty"`
	Kind    string          `json:"kind,omitempty"`
	Message string          `json:"message,omitempty"`
}

// rawPreviewLimit caps how much raw output a ParseError retains.
const rawPreviewLimit = 2048

// Parse extracts the result envelope from interpreter stdout.
//
// Description:
//
//	Stdout must reduce to exactly one non-empty line holding the JSON
//	envelope. A failure envelope is mapped to a *RuntimeError with its
//	kind reclassified from the host's error text, so callers never see
//	raw interpreter error prose as a success.
//
// Outputs:
//   - *Envelope: the success envelope (OK true).
//   - error: *ParseError or *RuntimeError. Empty stdout is a
//     *ParseError wrapping ErrNoOutput.
func Parse(stdout string) (*Envelope, error) {
	line, err := extractLine(stdout)
	if err != nil {
		return nil, err
	}

	var env Envelope
	if err := json.Unmarshal([]byte(line), &env); err != nil {
		return nil, &ParseError{Raw: preview(stdout), Cause: err}
	}

	if !env.OK {
		if env.Kind == "" && env.Message == "" {
			// Shape of a failure envelope without its fields: the script
			// was mangled somewhere between generation and execution.
			return nil, &ParseError{Raw: preview(stdout), Cause: errors.New("failure envelope missing kind and message")}
		}
		return nil, &RuntimeError{Kind: Classify(env.Message), Message: env.Message}
	}
	if len(env.Value) == 0 {
		return nil, &ParseError{Raw: preview(stdout), Cause: errors.New("success envelope missing value")}
	}
	return &env, nil
}

// extractLine reduces stdout to the single envelope line.
func extractLine(stdout string) (string, error) {
	var lines []string
	for _, l := range strings.Split(stdout, "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, strings.TrimSpace(l))
		}
	}
	switch len(lines) {
	case 0:
		return "", &ParseError{Raw: preview(stdout), Cause: ErrNoOutput}
	case 1:
		return lines[0], nil
	default:
		return "", &ParseError{
			Raw:   preview(stdout),
			Cause: fmt.Errorf("expected one output line, got %d", len(lines)),
		}
	}
}

func preview(s string) string {
	if len(s) > rawPreviewLimit {
		return s[:rawPreviewLimit]
	}
	return s
}

// =============================================================================
// ERROR CLASSIFICATION
// =============================================================================

// The host reports failures as prose with a trailing numeric code.
// Codes are stable across host versions; the prose is not, so codes
// are matched first.
var errorCodeKinds = []struct {
	pattern *regexp.Regexp
	kind    ErrorKind
}{
	{regexp.MustCompile(`\(-1743\)|Not authori[sz]ed to send Apple events`), KindPermissionDenied},
	{regexp.MustCompile(`\(-1728\)|Can.t get .+\. \(|doesn.t exist`), KindNotFound},
	{regexp.MustCompile(`\(-1700\)|Can.t make .+ into type`), KindTypeMismatch},
	{regexp.MustCompile(`\(-600\)|isn.t running|Application isn.t running`), KindHostNotRunning},
	{regexp.MustCompile(`\(-1708\)|doesn.t understand|not supported`), KindCapabilityUnsupported},
}

// Classify maps a script error message to an ErrorKind.
func Classify(message string) ErrorKind {
	for _, ck := range errorCodeKinds {
		if ck.pattern.MatchString(message) {
			return ck.kind
		}
	}
	if strings.Contains(message, "entity not found") {
		return KindNotFound
	}
	return KindScriptError
}

// =============================================================================
// SHAPE VALIDATION
// =============================================================================

// Validate decodes the envelope value and checks it against the shape
// the operation promises.
//
// Outputs:
//   - any: []any for entity lists, map[string]any for single entities
//     and aggregates, float64 for counts.
//   - error: ErrShapeMismatch (wrapped with detail) or a decode failure.
func Validate(env *Envelope, shape operation.ResultShape) (any, error) {
	var decoded any
	if err := json.Unmarshal(env.Value, &decoded); err != nil {
		return nil, &ParseError{Raw: preview(string(env.Value)), Cause: err}
	}

	switch shape {
	case operation.ShapeEntityList:
		list, ok := decoded.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: want array, got %T", ErrShapeMismatch, decoded)
		}
		for i, item := range list {
			if _, ok := item.(map[string]any); !ok {
				return nil, fmt.Errorf("%w: element %d is %T, want object", ErrShapeMismatch, i, item)
			}
		}
		return list, nil

	case operation.ShapeSingleEntity:
		obj, ok := decoded.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: want object, got %T", ErrShapeMismatch, decoded)
		}
		return obj, nil

	case operation.ShapeAggregate:
		obj, ok := decoded.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: want object, got %T", ErrShapeMismatch, decoded)
		}
		if _, ok := obj["groups"].(map[string]any); !ok {
			return nil, fmt.Errorf("%w: aggregate missing groups object", ErrShapeMismatch)
		}
		return obj, nil

	case operation.ShapeCount:
		n, ok := decoded.(float64)
		if !ok {
			return nil, fmt.Errorf("%w: want number, got %T", ErrShapeMismatch, decoded)
		}
		if n < 0 || n != float64(int64(n)) {
			return nil, fmt.Errorf("%w: count must be a non-negative integer, got %v", ErrShapeMismatch, n)
		}
		return n, nil

	default:
		return nil, fmt.Errorf("%w: unknown shape %q", ErrShapeMismatch, shape)
	}
}
