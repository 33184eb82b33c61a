// Copyright (C) 2025 Harborline Systems (oss@harborline.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package result

import (
	"errors"
	"fmt"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNoOutput indicates the interpreter produced no stdout at all.
	// Always surfaced wrapped in a *ParseError.
	ErrNoOutput = errors.New("interpreter produced no output")

	// ErrShapeMismatch indicates a well-formed envelope whose value does
	// not match the operation's expected result shape.
	ErrShapeMismatch = errors.New("result value does not match expected shape")
)

// ErrorKind classifies a script-side failure for retry and escalation
// decisions.
type ErrorKind string

const (
	// KindPermissionDenied: automation access to the host application
	// was refused. Not retryable; requires user action.
	KindPermissionDenied ErrorKind = "permission_denied"

	// KindNotFound: the referenced entity does not exist.
	KindNotFound ErrorKind = "not_found"

	// KindTypeMismatch: the host rejected a value's type.
	KindTypeMismatch ErrorKind = "type_mismatch"

	// KindHostNotRunning: the host application is not running.
	KindHostNotRunning ErrorKind = "host_not_running"

	// KindCapabilityUnsupported: the host understood the request but
	// cannot satisfy it in this dialect. Reads escalate to the bridged
	// dialect on this kind.
	KindCapabilityUnsupported ErrorKind = "capability_unsupported"

	// KindScriptError: anything else raised inside the script.
	KindScriptError ErrorKind = "script_error"
)

// ParseError indicates stdout could not be interpreted as a result
// envelope. The raw output is preserved for diagnosis, truncated at
// construction if oversized.
type ParseError struct {
	Raw   string
	Cause error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unparseable interpreter output: %v", e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// RuntimeError indicates the script ran and reported failure through
// the error envelope.
type RuntimeError struct {
	Kind    ErrorKind
	Message string
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("script failed (%s): %s", e.Kind, e.Message)
}

// Retryable reports whether re-running the same operation could
// plausibly succeed without intervention.
func (e *RuntimeError) Retryable() bool {
	return e.Kind == KindHostNotRunning
}
