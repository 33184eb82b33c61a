// Copyright (C) 2025 Harborline Systems (oss@harborline.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package operation

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrNilRequest indicates a nil Request was passed to the compiler.
	ErrNilRequest = errors.New("request must not be nil")

	// ErrEmptyGroup indicates an AND/OR group with no children.
	ErrEmptyGroup = errors.New("filter group must have at least one child")

	// ErrNotArity indicates a NOT group without exactly one child.
	ErrNotArity = errors.New("not group must have exactly one child")

	// ErrUnknownOperator indicates a predicate operator outside the
	// supported set.
	ErrUnknownOperator = errors.New("unknown predicate operator")

	// ErrUnknownGroup indicates a group combinator outside and/or/not.
	ErrUnknownGroup = errors.New("unknown filter group combinator")

	// ErrMalformedDate indicates a date string that parses as neither
	// YYYY-MM-DD nor RFC3339.
	ErrMalformedDate = errors.New("malformed date string")

	// ErrMissingWriteSpec indicates a write request without a Write block.
	ErrMissingWriteSpec = errors.New("write operation requires a write spec")

	// ErrMissingAnalyzeSpec indicates an analyze request without an
	// Analyze block.
	ErrMissingAnalyzeSpec = errors.New("analyze operation requires an analyze spec")

	// ErrMissingTargetID indicates an update or delete without a target.
	ErrMissingTargetID = errors.New("update and delete require a target id")

	// ErrEmptySet indicates a create or update with no fields to set.
	ErrEmptySet = errors.New("create and update require at least one field to set")
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ValidationError reports a malformed request. It always names the
// offending field and is raised before any process is spawned.
type ValidationError struct {
	// Field is the request field that failed, in dotted-path form
	// (e.g. "filter.children[2].operator").
	Field string

	// Reason explains the failure.
	Reason string

	// Cause is the underlying sentinel, if any.
	Cause error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: field %q: %s", e.Field, e.Reason)
}

// Unwrap exposes the underlying sentinel for errors.Is checks.
func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// newValidationError wraps a sentinel with field context.
func newValidationError(field string, cause error) *ValidationError {
	return &ValidationError{Field: field, Reason: cause.Error(), Cause: cause}
}
