// Copyright (C) 2025 Harborline Systems (oss@harborline.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package script

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectEncoderString(t *testing.T) {
	enc := directEncoder{}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello", `"hello"`},
		{"embedded quote", `say "hi"`, `"say \"hi\""`},
		{"backslash", `a\b`, `"a\\b"`},
		{"newline", "a\nb", `"a\nb"`},
		{"tab and return", "a\tb\rc", `"a\tb\rc"`},
		{"unicode passthrough", "crème brûlée", `"crème brûlée"`},
		{"empty", "", `""`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, enc.String(tt.in))
		})
	}
}

func TestDirectEncoderStringNeutralizesScriptBreakout(t *testing.T) {
	enc := directEncoder{}

	// A value that would terminate the literal and inject statements
	// must come back as inert text inside one literal.
	hostile := `" & (do shell script "rm -rf ~") & "`
	got := enc.String(hostile)
	assert.Equal(t, `"\" & (do shell script \"rm -rf ~\") & \""`, got)
}

func TestBridgedEncoderString(t *testing.T) {
	enc := bridgedEncoder{}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello", `"hello"`},
		{"quote and backslash", `a"b\c`, `"a\"b\\c"`},
		{"newline", "a\nb", `"a\nb"`},
		{"line separator", "a b", `"a\u2028b"`},
		{"paragraph separator", "a b", `"a\u2029b"`},
		{"template opener", "a${b}c", `"a\u0024{b}c"`},
		{"lone dollar", "cost $5", `"cost $5"`},
		{"dollar at end", "total$", `"total$"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, enc.String(tt.in))
		})
	}
}

func TestEncoderNullAndBool(t *testing.T) {
	assert.Equal(t, "missing value", directEncoder{}.Null())
	assert.Equal(t, "null", bridgedEncoder{}.Null())
	assert.Equal(t, "true", directEncoder{}.Bool(true))
	assert.Equal(t, "false", bridgedEncoder{}.Bool(false))
}

func TestDirectEncoderDate(t *testing.T) {
	enc := directEncoder{}

	got, err := enc.Date("2025-06-01T17:00:00")
	require.NoError(t, err)
	assert.Equal(t, "my mkdate(2025, 6, 1, 17, 0, 0)", got)

	_, err = enc.Date("not a date")
	assert.Error(t, err)
}

func TestBridgedEncoderDate(t *testing.T) {
	enc := bridgedEncoder{}

	// JS months are zero-based.
	got, err := enc.Date("2025-06-01T17:00:00")
	require.NoError(t, err)
	assert.Equal(t, "new Date(2025, 5, 1, 17, 0, 0)", got)

	_, err = enc.Date("2025-13-99")
	assert.Error(t, err)
}

func TestEncodeValueLists(t *testing.T) {
	in := []any{"a", float64(2), true, nil}

	direct, err := directEncoder{}.Value(in)
	require.NoError(t, err)
	assert.Equal(t, `{"a", 2, true, missing value}`, direct)

	bridged, err := bridgedEncoder{}.Value(in)
	require.NoError(t, err)
	assert.Equal(t, `["a", 2, true, null]`, bridged)
}

func TestEncodeValueMapSortsKeys(t *testing.T) {
	in := map[string]any{"zeta": "z", "alpha": "a", "mid": float64(1)}

	got, err := bridgedEncoder{}.Value(in)
	require.NoError(t, err)
	// json-ish object with keys in sorted order, every time
	for i := 0; i < 10; i++ {
		again, err := bridgedEncoder{}.Value(in)
		require.NoError(t, err)
		assert.Equal(t, got, again)
	}
	assert.Contains(t, got, `"alpha"`)
	assert.Less(t, strings.Index(got, "alpha"), strings.Index(got, "mid"))
	assert.Less(t, strings.Index(got, "mid"), strings.Index(got, "zeta"))
}

func TestDirectEncoderRejectsRecords(t *testing.T) {
	// AppleScript record keys are bare identifiers; arbitrary keys
	// cannot be quoted safely, so maps only encode in the bridged
	// dialect.
	_, err := directEncoder{}.Value(map[string]any{"note": "x"})
	assert.ErrorIs(t, err, ErrUnencodableValue)

	got, err := bridgedEncoder{}.Value(map[string]any{"note": "x"})
	require.NoError(t, err)
	assert.Equal(t, `{"note": "x"}`, got)
}

func TestEncodeValueUnsupportedType(t *testing.T) {
	_, err := directEncoder{}.Value(struct{}{})
	assert.ErrorIs(t, err, ErrUnencodableValue)

	_, err = bridgedEncoder{}.Value(make(chan int))
	assert.ErrorIs(t, err, ErrUnencodableValue)
}

func TestForDialect(t *testing.T) {
	assert.IsType(t, directEncoder{}, ForDialect(DialectDirect))
	assert.IsType(t, bridgedEncoder{}, ForDialect(DialectBridged))
}
