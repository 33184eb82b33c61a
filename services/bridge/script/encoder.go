// Copyright (C) 2025 Harborline Systems (oss@harborline.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package script

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// ENCODER
// =============================================================================

// Encoder produces dialect-appropriate literal syntax for request
// values. It is the ONLY place raw values may touch generated script
// text: every parameter inserted into a template goes through one of
// these methods, so no unescaped request-supplied string can reach the
// interpreter.
type Encoder interface {
	// String encodes s as a quoted string literal with every
	// dialect-significant character escaped.
	String(s string) string

	// Number encodes a numeric literal.
	Number(f float64) string

	// Bool encodes a boolean literal.
	Bool(b bool) string

	// Null encodes the dialect's missing-value literal.
	Null() string

	// Date encodes a canonical timestamp (2006-01-02T15:04:05, host
	// local) as a date-construction expression.
	Date(canonical string) (string, error)

	// Value dispatches on the dynamic type of v, handling nested
	// objects and arrays. Unsupported types are an error, never
	// silently interpolated.
	Value(v any) (string, error)
}

// ForDialect returns the Encoder for a dialect.
func ForDialect(d Dialect) Encoder {
	if d == DialectBridged {
		return bridgedEncoder{}
	}
	return directEncoder{}
}

// canonicalTimeLayout mirrors the compiler's normalized date form.
const canonicalTimeLayout = "2006-01-02T15:04:05"

// =============================================================================
// DIRECT DIALECT (AppleScript)
// =============================================================================

// directEncoder emits AppleScript literals.
type directEncoder struct{}

func (directEncoder) String(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func (directEncoder) Number(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func (directEncoder) Bool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func (directEncoder) Null() string {
	return "missing value"
}

// Date renders a component-wise date constructor call. The literal
// `date "..."` form is locale-dependent and therefore never emitted;
// the mkdate handler is part of every preamble that needs dates.
func (e directEncoder) Date(canonical string) (string, error) {
	t, err := time.ParseInLocation(canonicalTimeLayout, canonical, time.Local)
	if err != nil {
		return "", fmt.Errorf("encode date %q: %w", canonical, err)
	}
	return fmt.Sprintf("my mkdate(%d, %d, %d, %d, %d, %d)",
		t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second()), nil
}

// Value dispatches dynamic values. AppleScript lists and records both
// use brace syntax.
func (e directEncoder) Value(v any) (string, error) {
	return encodeValue(e, v, "{", "}")
}

// =============================================================================
// BRIDGED DIALECT (JavaScript)
// =============================================================================

// bridgedEncoder emits JavaScript literals. Beyond the usual string
// escapes it neutralizes U+2028/U+2029 (line terminators inside JS
// string literals) and the `${` template-interpolation opener, the
// dialect's nested-evaluation construct.
type bridgedEncoder struct{}

func (bridgedEncoder) String(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	runes := []rune(s)
	for i, r := range runes {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\u2028':
			b.WriteString(`\u2028`)
		case '\u2029':
			b.WriteString(`\u2029`)
		case '$':
			if i+1 < len(runes) && runes[i+1] == '{' {
				b.WriteString(`\u0024`)
			} else {
				b.WriteRune(r)
			}
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func (bridgedEncoder) Number(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func (bridgedEncoder) Bool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func (bridgedEncoder) Null() string {
	return "null"
}

// Date renders a local-time Date constructor. JS months are zero-based.
func (bridgedEncoder) Date(canonical string) (string, error) {
	t, err := time.ParseInLocation(canonicalTimeLayout, canonical, time.Local)
	if err != nil {
		return "", fmt.Errorf("encode date %q: %w", canonical, err)
	}
	return fmt.Sprintf("new Date(%d, %d, %d, %d, %d, %d)",
		t.Year(), int(t.Month())-1, t.Day(), t.Hour(), t.Minute(), t.Second()), nil
}

// Value dispatches dynamic values using JS array and object syntax.
func (e bridgedEncoder) Value(v any) (string, error) {
	return encodeValue(e, v, "[", "]")
}

// =============================================================================
// SHARED DISPATCH
// =============================================================================

// encodeValue dispatches a dynamic value through enc. listOpen and
// listClose carry the dialect's sequence delimiters. Maps are encoded
// with sorted keys so generation stays deterministic.
func encodeValue(enc Encoder, v any, listOpen, listClose string) (string, error) {
	switch val := v.(type) {
	case nil:
		return enc.Null(), nil
	case string:
		return enc.String(val), nil
	case bool:
		return enc.Bool(val), nil
	case float64:
		return enc.Number(val), nil
	case int:
		return enc.Number(float64(val)), nil
	case int64:
		return enc.Number(float64(val)), nil
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			encoded, err := enc.Value(item)
			if err != nil {
				return "", err
			}
			parts[i] = encoded
		}
		return listOpen + strings.Join(parts, ", ") + listClose, nil
	case map[string]any:
		// AppleScript record keys are bare identifiers, not string
		// literals; there is no safe way to quote an arbitrary key.
		if _, direct := enc.(directEncoder); direct {
			return "", fmt.Errorf("%w: records are not encodable in the direct dialect", ErrUnencodableValue)
		}
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			encoded, err := enc.Value(val[k])
			if err != nil {
				return "", err
			}
			parts = append(parts, enc.String(k)+": "+encoded)
		}
		return "{" + strings.Join(parts, ", ") + "}", nil
	default:
		return "", fmt.Errorf("%w: %T", ErrUnencodableValue, v)
	}
}
