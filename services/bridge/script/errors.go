// Copyright (C) 2025 Harborline Systems (oss@harborline.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package script

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrUnencodableValue indicates a parameter whose dynamic type has
	// no literal form in the target dialect.
	ErrUnencodableValue = errors.New("value type cannot be encoded")

	// ErrUnknownField indicates a field name with no property mapping
	// in the selected dialect.
	ErrUnknownField = errors.New("field has no property mapping in this dialect")

	// ErrNilOperation indicates a nil compiled operation.
	ErrNilOperation = errors.New("compiled operation must not be nil")
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// GenerationError reports a script that exceeds the hard size ceiling
// even after the minimal-template fallback. The operation is rejected
// without spawning a process; the script text itself is deliberately
// not carried.
type GenerationError struct {
	// Size is the character count of the final (minimal) rendering.
	Size int

	// Limit is the configured hard ceiling.
	Limit int

	// Dialect is the dialect that was rendered.
	Dialect Dialect
}

// Error implements the error interface.
func (e *GenerationError) Error() string {
	return fmt.Sprintf("generated script size %d exceeds hard ceiling %d (%s dialect, minimal template)",
		e.Size, e.Limit, e.Dialect)
}
