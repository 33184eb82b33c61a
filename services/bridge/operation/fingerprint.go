// Copyright (C) 2025 Harborline Systems (oss@harborline.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package operation

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint computes the stable cache key of a normalized request.
//
// The serialization is canonical by construction: fixed section order,
// sorted map keys, and the already-sorted field list, so requests that
// differ only in JSON key order or whitespace hash identically. The
// hash is xxhash64, rendered as 16 lowercase hex characters.
func Fingerprint(req *Request) string {
	var b strings.Builder
	writeCanonical(&b, req)
	return fmt.Sprintf("%016x", xxhash.Sum64String(b.String()))
}

// writeCanonical serializes req into the canonical fingerprint form.
func writeCanonical(b *strings.Builder, req *Request) {
	b.WriteString("k=")
	b.WriteString(string(req.Kind))
	b.WriteString(";e=")
	b.WriteString(string(req.Entity))
	b.WriteString(";c=")
	b.WriteString(strconv.FormatBool(req.CountOnly))
	b.WriteString(";l=")
	b.WriteString(strconv.Itoa(req.Limit))
	b.WriteString(";o=")
	b.WriteString(strconv.Itoa(req.Offset))

	b.WriteString(";f=[")
	for i, f := range req.Fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(f)
	}
	b.WriteString("]")

	b.WriteString(";q=")
	writeFilterCanonical(b, req.Filter)

	if req.Write != nil {
		b.WriteString(";w=")
		b.WriteString(string(req.Write.Action))
		b.WriteString("|")
		b.WriteString(req.Write.TargetID)
		b.WriteString("|{")
		keys := make([]string, 0, len(req.Write.Set))
		for k := range req.Write.Set {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(k)
			b.WriteByte(':')
			writeValueCanonical(b, req.Write.Set[k])
		}
		b.WriteString("}")
	}

	if req.Analyze != nil {
		b.WriteString(";a=")
		b.WriteString(req.Analyze.GroupBy)
	}
}

// writeFilterCanonical serializes a filter subtree. Group child order
// is preserved: it is part of the request's meaning.
func writeFilterCanonical(b *strings.Builder, n *FilterNode) {
	if n == nil {
		b.WriteString("nil")
		return
	}
	if n.IsLeaf() {
		b.WriteString("(")
		b.WriteString(n.Field)
		b.WriteByte(' ')
		b.WriteString(string(n.Operator))
		b.WriteByte(' ')
		writeValueCanonical(b, n.Value)
		b.WriteString(")")
		return
	}
	b.WriteString(string(n.Group))
	b.WriteString("(")
	for i, child := range n.Children {
		if i > 0 {
			b.WriteByte(',')
		}
		writeFilterCanonical(b, child)
	}
	b.WriteString(")")
}

// writeValueCanonical serializes one predicate or write value. Maps
// are written with sorted keys; everything else defers to
// encoding/json, which is deterministic for scalars and slices.
func writeValueCanonical(b *strings.Builder, v any) {
	switch val := v.(type) {
	case nil:
		b.WriteString("null")
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("{")
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(k)
			b.WriteByte(':')
			writeValueCanonical(b, val[k])
		}
		b.WriteString("}")
	case []any:
		b.WriteString("[")
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			writeValueCanonical(b, item)
		}
		b.WriteString("]")
	default:
		data, err := json.Marshal(val)
		if err != nil {
			// Unmarshalable values cannot arrive through the JSON
			// transport boundary; fall back to fmt for safety.
			fmt.Fprintf(b, "%v", val)
			return
		}
		b.Write(data)
	}
}
