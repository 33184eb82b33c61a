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
	"strings"

	"github.com/harborline/taskbridge/services/bridge/operation"
)

// =============================================================================
// DIRECT DIALECT FIELD TABLES
// =============================================================================

// fieldKind drives JSON assembly for a projected field.
type fieldKind int

const (
	fieldString fieldKind = iota
	fieldBool
	fieldNumber
	fieldDate
)

// directField maps a request field name to the host property
// expression used relative to the iterated element.
type directField struct {
	property string
	kind     fieldKind
}

// directElement names the host element class enumerated per entity.
var directElement = map[operation.EntityClass]string{
	operation.EntityTask:    "flattened task",
	operation.EntityProject: "flattened project",
	operation.EntityTag:     "flattened tag",
	operation.EntityFolder:  "folder",
}

// directFields lists the properties the direct dialect can read per
// entity class. Computed properties are absent here on purpose; they
// force the bridged dialect at selection time.
var directFields = map[operation.EntityClass]map[string]directField{
	operation.EntityTask: {
		"id":               {"id", fieldString},
		"name":             {"name", fieldString},
		"note":             {"note", fieldString},
		"flagged":          {"flagged", fieldBool},
		"completed":        {"completed", fieldBool},
		"dueDate":          {"due date", fieldDate},
		"deferDate":        {"defer date", fieldDate},
		"startDate":        {"defer date", fieldDate},
		"completionDate":   {"completion date", fieldDate},
		"addedDate":        {"creation date", fieldDate},
		"modifiedDate":     {"modification date", fieldDate},
		"estimatedMinutes": {"estimated minutes", fieldNumber},
		"project":          {"name of containing project", fieldString},
	},
	operation.EntityProject: {
		"id":             {"id", fieldString},
		"name":           {"name", fieldString},
		"note":           {"note", fieldString},
		"completed":      {"completed", fieldBool},
		"dueDate":        {"due date", fieldDate},
		"deferDate":      {"defer date", fieldDate},
		"completionDate": {"completion date", fieldDate},
		"folder":         {"name of container", fieldString},
	},
	operation.EntityTag: {
		"id":   {"id", fieldString},
		"name": {"name", fieldString},
	},
	operation.EntityFolder: {
		"id":   {"id", fieldString},
		"name": {"name", fieldString},
	},
}

// directWriteProperty maps settable field names to host properties.
// Relationship fields are bridged-routed and intentionally absent.
var directWriteProperty = map[string]string{
	"name":             "name",
	"note":             "note",
	"flagged":          "flagged",
	"completed":        "completed",
	"dueDate":          "due date",
	"deferDate":        "defer date",
	"startDate":        "defer date",
	"completionDate":   "completion date",
	"estimatedMinutes": "estimated minutes",
}

// directOperator maps filter operators to host comparison syntax.
var directOperator = map[operation.Operator]string{
	operation.OpEquals:    "is",
	operation.OpNotEquals: "is not",
	operation.OpContains:  "contains",
	operation.OpBefore:    "<",
	operation.OpAfter:     ">",
}

// defaultFields is projected when the request names none.
var defaultFields = []string{"id", "name"}

// =============================================================================
// RENDERING
// =============================================================================

// renderDirect produces the direct-dialect script for op.
func (g *Generator) renderDirect(op *operation.Compiled, variant Variant) (string, error) {
	enc := directEncoder{}

	var body strings.Builder
	var err error
	switch op.Req.Kind {
	case operation.KindWrite:
		err = g.directWriteBody(&body, op, enc)
	default:
		err = g.directReadBody(&body, op, enc)
	}
	if err != nil {
		return "", err
	}

	var b strings.Builder
	if variant == VariantStandard {
		b.WriteString("-- taskbridge generated script (direct dialect)\n")
	}
	writeDirectHelpers(&b, variant, body.String())

	b.WriteString("try\n")
	if variant == VariantStandard {
		fmt.Fprintf(&b, "\tlog \"taskbridge: %s %s\"\n", op.Req.Kind, op.Req.Entity)
	}
	b.WriteString(indent(body.String(), 1))
	b.WriteString("on error errMsg number errNum\n")
	b.WriteString("\treturn \"{\\\"ok\\\":false,\\\"kind\\\":\\\"script_error\\\",\\\"message\\\":\\\"\" & my q(errMsg & \" (\" & errNum & \")\") & \"\\\"}\"\n")
	b.WriteString("end try\n")
	return b.String(), nil
}

// writeDirectHelpers emits the handler preamble. The standard variant
// carries the full helper family; the minimal variant includes only
// handlers the body references. q is always present: the error path
// needs it.
func writeDirectHelpers(b *strings.Builder, variant Variant, body string) {
	b.WriteString(helperQ)
	if variant == VariantStandard || strings.Contains(body, "my mkdate(") {
		b.WriteString(helperMkdate)
	}
	if variant == VariantStandard || strings.Contains(body, "my iso(") {
		b.WriteString(helperPad2)
		b.WriteString(helperIso)
	}
}

// Handler bodies. The JSON escaper walks characters rather than using
// text item delimiters so backslashes are handled in one pass.
const helperQ = `on q(s)
	set out to ""
	repeat with c in characters of (s as text)
		set ch to contents of c
		if ch is "\"" then
			set out to out & "\\\""
		else if ch is "\\" then
			set out to out & "\\\\"
		else if ch is linefeed then
			set out to out & "\\n"
		else if ch is return then
			set out to out & "\\r"
		else if ch is tab then
			set out to out & "\\t"
		else
			set out to out & ch
		end if
	end repeat
	return out
end q
`

const helperMkdate = `on mkdate(y, mo, d, h, mi, s)
	set dt to current date
	set day of dt to 1
	set year of dt to y
	set month of dt to mo
	set day of dt to d
	set time of dt to h * hours + mi * minutes + s
	return dt
end mkdate
`

const helperPad2 = `on pad2(n)
	if n < 10 then return "0" & n
	return "" & n
end pad2
`

const helperIso = `on iso(dt)
	if dt is missing value then return "null"
	set y to year of dt as integer
	set mo to month of dt as integer
	set d to day of dt as integer
	set h to (time of dt) div hours
	set mi to ((time of dt) mod hours) div minutes
	set s to (time of dt) mod minutes
	return "\"" & y & "-" & my pad2(mo) & "-" & my pad2(d) & "T" & my pad2(h) & ":" & my pad2(mi) & ":" & my pad2(s) & "\""
end iso
`

// directReadBody emits the query, pagination, and JSON assembly for a
// read or count operation.
func (g *Generator) directReadBody(b *strings.Builder, op *operation.Compiled, enc directEncoder) error {
	element, ok := directElement[op.Req.Entity]
	if !ok {
		return fmt.Errorf("%w: entity %q", ErrUnknownField, op.Req.Entity)
	}

	whose := ""
	if op.Req.Filter != nil {
		pred, err := g.directPredicate(op.Req.Filter, op.Req.Entity, enc)
		if err != nil {
			return err
		}
		whose = " whose " + pred
	}

	fmt.Fprintf(b, "tell application %s\n", enc.String(g.hostApp))
	b.WriteString("\ttell default document\n")
	fmt.Fprintf(b, "\t\tset matched to every %s%s\n", element, whose)
	b.WriteString("\tend tell\n")
	b.WriteString("end tell\n")

	if op.Req.CountOnly {
		b.WriteString("return \"{\\\"ok\\\":true,\\\"value\\\":\" & (count of matched) & \"}\"\n")
		return nil
	}

	writePagination(b, op.Req.Offset, op.Req.Limit)

	fields := op.Req.Fields
	if len(fields) == 0 {
		fields = defaultFields
	}
	table := directFields[op.Req.Entity]

	b.WriteString("set parts to {}\n")
	fmt.Fprintf(b, "tell application %s\n", enc.String(g.hostApp))
	b.WriteString("\trepeat with t in matched\n")
	b.WriteString("\t\tset entry to \"{\"\n")
	for i, f := range fields {
		df, ok := table[f]
		if !ok {
			return fmt.Errorf("%w: %q on entity %q", ErrUnknownField, f, op.Req.Entity)
		}
		sep := " & \",\""
		if i == len(fields)-1 {
			sep = ""
		}
		key := `\"` + f + `\":`
		switch df.kind {
		case fieldString:
			fmt.Fprintf(b, "\t\tset entry to entry & \"%s\\\"\" & my q(%s of t) & \"\\\"\"%s\n", key, df.property, sep)
		case fieldBool, fieldNumber:
			fmt.Fprintf(b, "\t\tset entry to entry & \"%s\" & (%s of t)%s\n", key, df.property, sep)
		case fieldDate:
			fmt.Fprintf(b, "\t\tset entry to entry & \"%s\" & my iso(%s of t)%s\n", key, df.property, sep)
		}
	}
	b.WriteString("\t\tset entry to entry & \"}\"\n")
	b.WriteString("\t\tcopy entry to end of parts\n")
	b.WriteString("\tend repeat\n")
	b.WriteString("end tell\n")
	b.WriteString("set AppleScript's text item delimiters to \",\"\n")
	b.WriteString("set joined to parts as text\n")
	b.WriteString("set AppleScript's text item delimiters to \"\"\n")
	b.WriteString("return \"{\\\"ok\\\":true,\\\"value\\\":[\" & joined & \"]}\"\n")
	return nil
}

// writePagination emits offset/limit trimming of the matched list.
func writePagination(b *strings.Builder, offset, limit int) {
	if offset > 0 {
		fmt.Fprintf(b, "if %d >= (count of matched) then\n", offset)
		b.WriteString("\tset matched to {}\n")
		b.WriteString("else\n")
		fmt.Fprintf(b, "\tset matched to items %d thru (count of matched) of matched\n", offset+1)
		b.WriteString("end if\n")
	}
	if limit > 0 {
		fmt.Fprintf(b, "if (count of matched) > %d then set matched to items 1 thru %d of matched\n", limit, limit)
	}
}

// directWriteBody emits a create, update, or delete mutation.
func (g *Generator) directWriteBody(b *strings.Builder, op *operation.Compiled, enc directEncoder) error {
	element, ok := directElement[op.Req.Entity]
	if !ok {
		return fmt.Errorf("%w: entity %q", ErrUnknownField, op.Req.Entity)
	}
	w := op.Req.Write

	fmt.Fprintf(b, "tell application %s\n", enc.String(g.hostApp))
	b.WriteString("\ttell default document\n")

	switch w.Action {
	case operation.ActionCreate:
		props, err := g.directProperties(w.Set, op.Req.Entity, enc)
		if err != nil {
			return err
		}
		target := "new " + strings.TrimPrefix(element, "flattened ")
		if op.Req.Entity == operation.EntityTask {
			target = "new inbox task"
		}
		fmt.Fprintf(b, "\t\tset t to make %s with properties %s\n", target, props)
		b.WriteString("\t\tset outId to id of t\n")
		b.WriteString("\t\tset outName to name of t\n")
		b.WriteString("\tend tell\n")
		b.WriteString("end tell\n")
		b.WriteString("return \"{\\\"ok\\\":true,\\\"value\\\":{\\\"id\\\":\\\"\" & my q(outId) & \"\\\",\\\"name\\\":\\\"\" & my q(outName) & \"\\\"}}\"\n")

	case operation.ActionUpdate:
		fmt.Fprintf(b, "\t\tset t to first %s whose id is %s\n", element, enc.String(w.TargetID))
		// Deterministic order: the write set was canonicalized upstream
		// but map iteration is not; sort here.
		for _, field := range sortedKeys(w.Set) {
			prop, ok := directWriteProperty[field]
			if !ok {
				return fmt.Errorf("%w: %q is not settable in the direct dialect", ErrUnknownField, field)
			}
			encoded, err := g.encodeWriteValue(w.Set[field], field, enc)
			if err != nil {
				return err
			}
			fmt.Fprintf(b, "\t\tset %s of t to %s\n", prop, encoded)
		}
		b.WriteString("\t\tset outId to id of t\n")
		b.WriteString("\tend tell\n")
		b.WriteString("end tell\n")
		b.WriteString("return \"{\\\"ok\\\":true,\\\"value\\\":{\\\"id\\\":\\\"\" & my q(outId) & \"\\\",\\\"updated\\\":true}}\"\n")

	case operation.ActionDelete:
		fmt.Fprintf(b, "\t\tdelete (first %s whose id is %s)\n", element, enc.String(w.TargetID))
		b.WriteString("\tend tell\n")
		b.WriteString("end tell\n")
		fmt.Fprintf(b, "return \"{\\\"ok\\\":true,\\\"value\\\":{\\\"id\\\":\\\"\" & my q(%s) & \"\\\",\\\"deleted\\\":true}}\"\n", enc.String(w.TargetID))
	}
	return nil
}

// directProperties renders a properties record for make new.
func (g *Generator) directProperties(set map[string]any, entity operation.EntityClass, enc directEncoder) (string, error) {
	parts := make([]string, 0, len(set))
	for _, field := range sortedKeys(set) {
		prop, ok := directWriteProperty[field]
		if !ok {
			return "", fmt.Errorf("%w: %q is not settable in the direct dialect", ErrUnknownField, field)
		}
		encoded, err := g.encodeWriteValue(set[field], field, enc)
		if err != nil {
			return "", err
		}
		parts = append(parts, prop+":"+encoded)
	}
	return "{" + strings.Join(parts, ", ") + "}", nil
}

// encodeWriteValue encodes one write-set value, routing date fields
// through the Date encoder.
func (g *Generator) encodeWriteValue(v any, field string, enc Encoder) (string, error) {
	if isDateField(field) {
		s, ok := v.(string)
		if !ok {
			return "", fmt.Errorf("%w: date field %q requires a string", ErrUnencodableValue, field)
		}
		return enc.Date(s)
	}
	return enc.Value(v)
}

// directPredicate compiles a filter subtree to a whose-clause
// expression.
func (g *Generator) directPredicate(n *operation.FilterNode, entity operation.EntityClass, enc directEncoder) (string, error) {
	if n.IsLeaf() {
		df, ok := directFields[entity][n.Field]
		if !ok {
			return "", fmt.Errorf("%w: %q on entity %q", ErrUnknownField, n.Field, entity)
		}
		if n.Operator == operation.OpExists {
			return fmt.Sprintf("(%s is not missing value)", df.property), nil
		}
		opSyntax, ok := directOperator[n.Operator]
		if !ok {
			return "", fmt.Errorf("%w: %q", ErrUnknownField, n.Operator)
		}
		var encoded string
		var err error
		if df.kind == fieldDate {
			s, isStr := n.Value.(string)
			if !isStr {
				return "", fmt.Errorf("%w: date predicate on %q requires a string", ErrUnencodableValue, n.Field)
			}
			encoded, err = enc.Date(s)
		} else {
			encoded, err = enc.Value(n.Value)
		}
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s %s %s)", df.property, opSyntax, encoded), nil
	}

	if n.Group == operation.GroupNot {
		inner, err := g.directPredicate(n.Children[0], entity, enc)
		if err != nil {
			return "", err
		}
		return "(not " + inner + ")", nil
	}

	joiner := " and "
	if n.Group == operation.GroupOr {
		joiner = " or "
	}
	parts := make([]string, 0, len(n.Children))
	for _, child := range n.Children {
		p, err := g.directPredicate(child, entity, enc)
		if err != nil {
			return "", err
		}
		parts = append(parts, p)
	}
	return "(" + strings.Join(parts, joiner) + ")", nil
}

// sortedKeys returns map keys in sorted order for deterministic output.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// isDateField reports whether a write-set or predicate field carries a
// date value.
func isDateField(field string) bool {
	switch field {
	case "dueDate", "deferDate", "startDate", "completionDate", "addedDate", "modifiedDate":
		return true
	}
	return false
}

// indent prefixes every non-empty line of s with n tabs.
func indent(s string, n int) string {
	prefix := strings.Repeat("\t", n)
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = prefix + line
		}
	}
	return strings.Join(lines, "\n")
}
