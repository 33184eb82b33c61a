// Copyright (C) 2025 Harborline Systems (oss@harborline.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package script

import (
	"fmt"
	"strings"

	"github.com/harborline/taskbridge/services/bridge/operation"
)

// =============================================================================
// BRIDGED DIALECT TABLES
// =============================================================================

// bridgedCollection names the evaluator's global collection per entity.
var bridgedCollection = map[operation.EntityClass]string{
	operation.EntityTask:    "flattenedTasks",
	operation.EntityProject: "flattenedProjects",
	operation.EntityTag:     "flattenedTags",
	operation.EntityFolder:  "flattenedFolders",
}

// bridgedConstructor names the evaluator's constructor per entity.
var bridgedConstructor = map[operation.EntityClass]string{
	operation.EntityTask:    "Task",
	operation.EntityProject: "Project",
	operation.EntityTag:     "Tag",
	operation.EntityFolder:  "Folder",
}

// bridgedFieldExpr maps field names to evaluator expressions over the
// iteration variable x. The bridged dialect reaches computed and
// relationship properties the direct dialect cannot.
var bridgedFieldExpr = map[string]string{
	"id":                     "x.id.primaryKey",
	"name":                   "x.name",
	"note":                   "x.note",
	"flagged":                "x.flagged",
	"completed":              "x.completed",
	"dueDate":                "x.dueDate",
	"deferDate":              "x.deferDate",
	"startDate":              "x.deferDate",
	"completionDate":         "x.completionDate",
	"addedDate":              "x.added",
	"modifiedDate":           "x.modified",
	"estimatedMinutes":       "x.estimatedMinutes",
	"project":                `(x.containingProject ? x.containingProject.name : null)`,
	"folder":                 `(x.parentFolder ? x.parentFolder.name : null)`,
	"parentTask":             `(x.parent ? x.parent.id.primaryKey : null)`,
	"tags":                   `x.tags.map(function(t) { return t.name })`,
	"effectiveDueDate":       "x.effectiveDueDate",
	"effectiveDeferDate":     "x.effectiveDeferDate",
	"numberOfTasks":          "x.tasks.length",
	"numberOfAvailableTasks": "x.numberOfAvailableTasks",
	"repetitionRule":         `(x.repetitionRule ? String(x.repetitionRule) : null)`,
	"taskStatus":             "String(x.taskStatus)",
}

// bridgedDateProjectedFields are projected through the iso helper.
var bridgedDateProjectedFields = map[string]bool{
	"dueDate":            true,
	"deferDate":          true,
	"startDate":          true,
	"completionDate":     true,
	"addedDate":          true,
	"modifiedDate":       true,
	"effectiveDueDate":   true,
	"effectiveDeferDate": true,
}

// =============================================================================
// RENDERING
// =============================================================================

// renderBridged wraps the evaluator payload in the direct-dialect shim.
// The shim's only job is to invoke the evaluator and relay its JSON
// result unchanged; the payload goes through the direct-dialect String
// encoder so nothing inside it can escape the shim's string literal.
func (g *Generator) renderBridged(op *operation.Compiled, variant Variant) (string, error) {
	js, err := g.renderBridgedJS(op, variant)
	if err != nil {
		return "", err
	}

	outer := directEncoder{}
	var b strings.Builder
	if variant == VariantStandard {
		b.WriteString("-- taskbridge generated script (bridged dialect)\n")
	}
	fmt.Fprintf(&b, "tell application %s to return evaluate javascript %s\n",
		outer.String(g.hostApp), outer.String(js))
	return b.String(), nil
}

// renderBridgedJS produces the evaluator payload.
func (g *Generator) renderBridgedJS(op *operation.Compiled, variant Variant) (string, error) {
	enc := bridgedEncoder{}
	var body strings.Builder
	var err error
	switch op.Req.Kind {
	case operation.KindWrite:
		err = g.bridgedWriteBody(&body, op, enc)
	case operation.KindAnalyze:
		err = g.bridgedAnalyzeBody(&body, op, enc)
	default:
		err = g.bridgedReadBody(&body, op, enc, variant)
	}
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("(function() {\n")
	b.WriteString("try {\n")
	if variant == VariantStandard || strings.Contains(body.String(), "iso(") {
		b.WriteString("var iso = function(d) { return (d instanceof Date) ? d.toISOString() : null };\n")
	}
	b.WriteString(body.String())
	b.WriteString("} catch (e) {\n")
	b.WriteString(`return JSON.stringify({ok: false, kind: "script_error", message: String(e)});` + "\n")
	b.WriteString("}\n")
	b.WriteString("})()")
	return b.String(), nil
}

// bridgedReadBody emits filter, pagination, and projection.
func (g *Generator) bridgedReadBody(b *strings.Builder, op *operation.Compiled, enc bridgedEncoder, variant Variant) error {
	collection, ok := bridgedCollection[op.Req.Entity]
	if !ok {
		return fmt.Errorf("%w: entity %q", ErrUnknownField, op.Req.Entity)
	}

	fmt.Fprintf(b, "var items = %s;\n", collection)
	if op.Req.Filter != nil {
		pred, err := g.bridgedPredicate(op.Req.Filter, enc)
		if err != nil {
			return err
		}
		fmt.Fprintf(b, "items = items.filter(function(x) { return %s });\n", pred)
	}

	if op.Req.CountOnly {
		b.WriteString("return JSON.stringify({ok: true, value: items.length});\n")
		return nil
	}

	if op.Req.Offset > 0 || op.Req.Limit > 0 {
		end := ""
		if op.Req.Limit > 0 {
			end = fmt.Sprintf(", %d", op.Req.Offset+op.Req.Limit)
		}
		fmt.Fprintf(b, "items = items.slice(%d%s);\n", op.Req.Offset, end)
	}

	fields := op.Req.Fields
	if len(fields) == 0 {
		fields = defaultFields
	}
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		expr, ok := bridgedFieldExpr[f]
		if !ok {
			return fmt.Errorf("%w: %q in bridged dialect", ErrUnknownField, f)
		}
		if bridgedDateProjectedFields[f] {
			if variant == VariantMinimal {
				expr = "((" + expr + ") instanceof Date ? (" + expr + ").toISOString() : null)"
			} else {
				expr = "iso(" + expr + ")"
			}
		}
		parts = append(parts, enc.String(f)+": "+expr)
	}
	fmt.Fprintf(b, "var out = items.map(function(x) { return {%s} });\n", strings.Join(parts, ", "))
	b.WriteString("return JSON.stringify({ok: true, value: out});\n")
	return nil
}

// bridgedAnalyzeBody emits a grouped count summary.
func (g *Generator) bridgedAnalyzeBody(b *strings.Builder, op *operation.Compiled, enc bridgedEncoder) error {
	collection, ok := bridgedCollection[op.Req.Entity]
	if !ok {
		return fmt.Errorf("%w: entity %q", ErrUnknownField, op.Req.Entity)
	}
	groupExpr, ok := bridgedFieldExpr[op.Req.Analyze.GroupBy]
	if !ok {
		return fmt.Errorf("%w: group_by %q", ErrUnknownField, op.Req.Analyze.GroupBy)
	}

	fmt.Fprintf(b, "var items = %s;\n", collection)
	if op.Req.Filter != nil {
		pred, err := g.bridgedPredicate(op.Req.Filter, enc)
		if err != nil {
			return err
		}
		fmt.Fprintf(b, "items = items.filter(function(x) { return %s });\n", pred)
	}
	b.WriteString("var groups = {};\n")
	fmt.Fprintf(b, "items.forEach(function(x) { var k = String(%s); groups[k] = (groups[k] || 0) + 1 });\n", groupExpr)
	fmt.Fprintf(b, "return JSON.stringify({ok: true, value: {groupBy: %s, total: items.length, groups: groups}});\n",
		enc.String(op.Req.Analyze.GroupBy))
	return nil
}

// bridgedWriteBody emits a create, update, or delete mutation through
// the evaluator's object model.
func (g *Generator) bridgedWriteBody(b *strings.Builder, op *operation.Compiled, enc bridgedEncoder) error {
	collection, ok := bridgedCollection[op.Req.Entity]
	if !ok {
		return fmt.Errorf("%w: entity %q", ErrUnknownField, op.Req.Entity)
	}
	w := op.Req.Write

	switch w.Action {
	case operation.ActionCreate:
		ctor := bridgedConstructor[op.Req.Entity]
		nameVal := ""
		if v, ok := w.Set["name"].(string); ok {
			nameVal = v
		}
		fmt.Fprintf(b, "var target = new %s(%s);\n", ctor, enc.String(nameVal))
		if err := g.bridgedAssignments(b, w.Set, enc, true); err != nil {
			return err
		}
		b.WriteString("return JSON.stringify({ok: true, value: {id: target.id.primaryKey, name: target.name}});\n")

	case operation.ActionUpdate:
		fmt.Fprintf(b, "var target = %s.find(function(x) { return x.id.primaryKey === %s });\n",
			collection, enc.String(w.TargetID))
		fmt.Fprintf(b, "if (!target) { throw new Error(\"entity not found: \" + %s) }\n", enc.String(w.TargetID))
		if err := g.bridgedAssignments(b, w.Set, enc, false); err != nil {
			return err
		}
		b.WriteString("return JSON.stringify({ok: true, value: {id: target.id.primaryKey, updated: true}});\n")

	case operation.ActionDelete:
		fmt.Fprintf(b, "var target = %s.find(function(x) { return x.id.primaryKey === %s });\n",
			collection, enc.String(w.TargetID))
		fmt.Fprintf(b, "if (!target) { throw new Error(\"entity not found: \" + %s) }\n", enc.String(w.TargetID))
		b.WriteString("deleteObject(target);\n")
		fmt.Fprintf(b, "return JSON.stringify({ok: true, value: {id: %s, deleted: true}});\n", enc.String(w.TargetID))
	}
	return nil
}

// bridgedAssignments emits one statement per write-set field. The
// relationship fields the direct dialect cannot persist are assigned
// through the evaluator's move and tag APIs, where durability has been
// verified against subsequent reads.
func (g *Generator) bridgedAssignments(b *strings.Builder, set map[string]any, enc bridgedEncoder, creating bool) error {
	for _, field := range sortedKeys(set) {
		v := set[field]
		switch field {
		case "name":
			if creating {
				continue // passed to the constructor
			}
			encoded, err := enc.Value(v)
			if err != nil {
				return err
			}
			fmt.Fprintf(b, "target.name = %s;\n", encoded)
		case "project":
			encoded, err := enc.Value(v)
			if err != nil {
				return err
			}
			fmt.Fprintf(b, "var proj = flattenedProjects.find(function(p) { return p.name === %s });\n", encoded)
			fmt.Fprintf(b, "if (!proj) { throw new Error(\"entity not found: project \" + %s) }\n", encoded)
			b.WriteString("moveTasks([target], proj);\n")
		case "tags":
			names, ok := v.([]any)
			if !ok {
				return fmt.Errorf("%w: tags requires a list of names", ErrUnencodableValue)
			}
			encoded, err := enc.Value(names)
			if err != nil {
				return err
			}
			b.WriteString("target.clearTags();\n")
			fmt.Fprintf(b, "%s.forEach(function(n) {\n", encoded)
			b.WriteString("\tvar tag = flattenedTags.find(function(t) { return t.name === n });\n")
			b.WriteString("\tif (!tag) { tag = new Tag(n) }\n")
			b.WriteString("\ttarget.addTag(tag);\n")
			b.WriteString("});\n")
		case "parentTask":
			encoded, err := enc.Value(v)
			if err != nil {
				return err
			}
			fmt.Fprintf(b, "var parent = flattenedTasks.find(function(x) { return x.id.primaryKey === %s });\n", encoded)
			fmt.Fprintf(b, "if (!parent) { throw new Error(\"entity not found: task \" + %s) }\n", encoded)
			b.WriteString("moveTasks([target], parent);\n")
		case "completed":
			if v == true {
				b.WriteString("target.markComplete();\n")
			} else {
				b.WriteString("target.markIncomplete();\n")
			}
		default:
			expr, ok := bridgedWriteTarget[field]
			if !ok {
				return fmt.Errorf("%w: %q is not settable in the bridged dialect", ErrUnknownField, field)
			}
			var encoded string
			var err error
			if isDateField(field) {
				s, isStr := v.(string)
				if !isStr {
					return fmt.Errorf("%w: date field %q requires a string", ErrUnencodableValue, field)
				}
				encoded, err = enc.Date(s)
			} else {
				encoded, err = enc.Value(v)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(b, "target.%s = %s;\n", expr, encoded)
		}
	}
	return nil
}

// bridgedWriteTarget maps plainly-assignable fields to evaluator
// properties.
var bridgedWriteTarget = map[string]string{
	"note":             "note",
	"flagged":          "flagged",
	"dueDate":          "dueDate",
	"deferDate":        "deferDate",
	"startDate":        "deferDate",
	"estimatedMinutes": "estimatedMinutes",
}

// bridgedPredicate compiles a filter subtree to an evaluator boolean
// expression over x.
func (g *Generator) bridgedPredicate(n *operation.FilterNode, enc bridgedEncoder) (string, error) {
	if n.IsLeaf() {
		return g.bridgedLeaf(n, enc)
	}

	if n.Group == operation.GroupNot {
		inner, err := g.bridgedPredicate(n.Children[0], enc)
		if err != nil {
			return "", err
		}
		return "(!(" + inner + "))", nil
	}

	joiner := " && "
	if n.Group == operation.GroupOr {
		joiner = " || "
	}
	parts := make([]string, 0, len(n.Children))
	for _, child := range n.Children {
		p, err := g.bridgedPredicate(child, enc)
		if err != nil {
			return "", err
		}
		parts = append(parts, p)
	}
	return "(" + strings.Join(parts, joiner) + ")", nil
}

// bridgedLeaf compiles one predicate leaf.
func (g *Generator) bridgedLeaf(n *operation.FilterNode, enc bridgedEncoder) (string, error) {
	if n.Field == "tags" {
		encoded, err := enc.Value(n.Value)
		if err != nil {
			return "", err
		}
		switch n.Operator {
		case operation.OpEquals, operation.OpContains:
			return fmt.Sprintf("x.tags.some(function(t) { return t.name === %s })", encoded), nil
		case operation.OpNotEquals:
			return fmt.Sprintf("(!x.tags.some(function(t) { return t.name === %s }))", encoded), nil
		case operation.OpExists:
			return "(x.tags.length > 0)", nil
		default:
			return "", fmt.Errorf("%w: operator %q on tags", ErrUnknownField, n.Operator)
		}
	}

	expr, ok := bridgedFieldExpr[n.Field]
	if !ok {
		return "", fmt.Errorf("%w: %q in bridged dialect", ErrUnknownField, n.Field)
	}

	if n.Operator == operation.OpExists {
		return fmt.Sprintf("((%s) !== null && (%s) !== undefined)", expr, expr), nil
	}

	var encoded string
	var err error
	dateLeaf := isDateField(n.Field) || n.Field == "effectiveDueDate" || n.Field == "effectiveDeferDate"
	if dateLeaf {
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

	switch n.Operator {
	case operation.OpEquals:
		if dateLeaf {
			// Date identity never holds between distinct objects; compare epochs.
			return fmt.Sprintf("((%s) && (%s).getTime() === %s.getTime())", expr, expr, encoded), nil
		}
		return fmt.Sprintf("((%s) === %s)", expr, encoded), nil
	case operation.OpNotEquals:
		if dateLeaf {
			return fmt.Sprintf("(!(%s) || (%s).getTime() !== %s.getTime())", expr, expr, encoded), nil
		}
		return fmt.Sprintf("((%s) !== %s)", expr, encoded), nil
	case operation.OpContains:
		return fmt.Sprintf("(String((%s) || \"\").indexOf(%s) !== -1)", expr, encoded), nil
	case operation.OpBefore:
		return fmt.Sprintf("((%s) && (%s) < %s)", expr, expr, encoded), nil
	case operation.OpAfter:
		return fmt.Sprintf("((%s) && (%s) > %s)", expr, expr, encoded), nil
	default:
		return "", fmt.Errorf("%w: operator %q", ErrUnknownField, n.Operator)
	}
}
