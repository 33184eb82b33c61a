// Copyright (C) 2025 Harborline Systems (oss@harborline.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNilContext indicates a nil context was passed.
	ErrNilContext = errors.New("context cannot be nil")

	// ErrNilScript indicates a nil script was passed.
	ErrNilScript = errors.New("script cannot be nil")

	// ErrEmptyScript indicates a script with empty text was passed.
	ErrEmptyScript = errors.New("script text cannot be empty")

	// ErrInterpreterNotFound indicates the interpreter binary is not on
	// PATH. This host cannot run bridge operations at all.
	ErrInterpreterNotFound = errors.New("interpreter binary not found")
)

// TimeoutError indicates a script exceeded its execution deadline. The
// interpreter process was killed; the operation's effect on the host
// application is unknown.
type TimeoutError struct {
	Elapsed time.Duration
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("script execution timed out after %s (limit %s)", e.Elapsed.Round(time.Millisecond), e.Timeout)
}

// HostUnavailableError indicates the interpreter ran but could not
// reach the host application.
type HostUnavailableError struct {
	App   string
	Cause error
}

func (e *HostUnavailableError) Error() string {
	return fmt.Sprintf("host application %q unavailable: %v", e.App, e.Cause)
}

func (e *HostUnavailableError) Unwrap() error { return e.Cause }
