// Copyright (C) 2025 Harborline Systems (oss@harborline.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package operation defines the typed request model for the bridge and
// the compiler that normalizes requests into executable form.
//
// An inbound Request describes what the caller wants (read, write, or
// analyze against one entity class); the Compiler validates it, fills
// context-sensitive defaults, and produces a Compiled operation with a
// deterministic fingerprint used as the cache key.
//
// Thread Safety:
//
//	Request values are immutable once handed to the Compiler. The
//	Compiler itself is stateless and safe for concurrent use.
package operation

import "time"

// =============================================================================
// REQUEST MODEL
// =============================================================================

// Kind discriminates the three operation families.
type Kind string

const (
	// KindRead retrieves entities matching a filter.
	KindRead Kind = "read"

	// KindWrite creates, updates, or deletes a single entity.
	KindWrite Kind = "write"

	// KindAnalyze computes an aggregate summary over entities.
	KindAnalyze Kind = "analyze"
)

// EntityClass is the cache-invalidation granularity: a category of
// domain object in the host application.
type EntityClass string

const (
	// EntityTask is an actionable item.
	EntityTask EntityClass = "task"

	// EntityProject is a container of tasks.
	EntityProject EntityClass = "project"

	// EntityTag is a label attached to tasks and projects.
	EntityTag EntityClass = "tag"

	// EntityFolder is a container of projects.
	EntityFolder EntityClass = "folder"
)

// KnownEntityClasses lists every entity class the bridge accepts.
var KnownEntityClasses = []EntityClass{EntityTask, EntityProject, EntityTag, EntityFolder}

// Operator is a predicate comparison in a filter leaf.
type Operator string

const (
	// OpEquals matches exact field values.
	OpEquals Operator = "eq"

	// OpNotEquals matches everything except the given value.
	OpNotEquals Operator = "ne"

	// OpContains matches substring occurrence in string fields.
	OpContains Operator = "contains"

	// OpBefore matches date fields strictly earlier than the value.
	OpBefore Operator = "before"

	// OpAfter matches date fields strictly later than the value.
	OpAfter Operator = "after"

	// OpExists matches fields that have any value at all.
	OpExists Operator = "exists"
)

// GroupOp combines child filter nodes.
type GroupOp string

const (
	// GroupAnd requires every child to match.
	GroupAnd GroupOp = "and"

	// GroupOr requires at least one child to match.
	GroupOr GroupOp = "or"

	// GroupNot inverts its single child.
	GroupNot GroupOp = "not"
)

// FilterNode is one node of a filter tree. A node is either a group
// (Group set, Children populated) or a predicate leaf (Field and
// Operator set).
type FilterNode struct {
	// Group is the boolean combinator; empty for a predicate leaf.
	Group GroupOp `json:"group,omitempty"`

	// Children are the sub-filters of a group node.
	Children []*FilterNode `json:"children,omitempty"`

	// Field is the entity field a leaf predicate tests.
	Field string `json:"field,omitempty"`

	// Operator is the leaf comparison.
	Operator Operator `json:"operator,omitempty"`

	// Value is the comparison operand. Dates arrive as strings in
	// either YYYY-MM-DD or RFC3339 form; the compiler normalizes them.
	Value any `json:"value,omitempty"`
}

// IsLeaf reports whether the node is a predicate leaf.
func (n *FilterNode) IsLeaf() bool {
	return n.Group == ""
}

// WriteAction names the mutation a write performs.
type WriteAction string

const (
	// ActionCreate adds a new entity.
	ActionCreate WriteAction = "create"

	// ActionUpdate modifies fields of an existing entity.
	ActionUpdate WriteAction = "update"

	// ActionDelete removes an existing entity.
	ActionDelete WriteAction = "delete"
)

// WriteSpec describes the mutation of a write operation.
type WriteSpec struct {
	// Action is the mutation type.
	Action WriteAction `json:"action" validate:"required,oneof=create update delete"`

	// TargetID identifies the entity for update and delete.
	TargetID string `json:"target_id,omitempty"`

	// Set maps field names to new values for create and update.
	Set map[string]any `json:"set,omitempty"`
}

// AnalyzeSpec describes an aggregate-summary operation.
type AnalyzeSpec struct {
	// GroupBy is the field whose distinct values bucket the summary.
	GroupBy string `json:"group_by" validate:"required,min=1"`
}

// Request is one inbound bridge operation. It is created per call and
// never mutated; the Compiler works on a normalized copy.
type Request struct {
	// Kind selects read, write, or analyze.
	Kind Kind `json:"kind" validate:"required,oneof=read write analyze"`

	// Entity is the target entity class.
	Entity EntityClass `json:"entity" validate:"required,oneof=task project tag folder"`

	// Filter restricts which entities the operation touches. Nil means
	// all entities of the class.
	Filter *FilterNode `json:"filter,omitempty"`

	// Fields lists the fields to return on reads. Empty means the
	// dialect's default field set.
	Fields []string `json:"fields,omitempty" validate:"max=256,dive,min=1"`

	// Limit caps the number of returned entities (0 = unlimited).
	Limit int `json:"limit,omitempty" validate:"gte=0,lte=10000"`

	// Offset skips that many matching entities.
	Offset int `json:"offset,omitempty" validate:"gte=0"`

	// CountOnly returns only the match count, no entity data.
	CountOnly bool `json:"count_only,omitempty"`

	// Write carries the mutation for write operations.
	Write *WriteSpec `json:"write,omitempty"`

	// Analyze carries the aggregation for analyze operations.
	Analyze *AnalyzeSpec `json:"analyze,omitempty"`
}

// =============================================================================
// COMPILED OPERATION
// =============================================================================

// ResultShape is the payload shape an operation's script must produce.
type ResultShape string

const (
	// ShapeEntityList is a JSON array of entity objects.
	ShapeEntityList ResultShape = "entity_list"

	// ShapeSingleEntity is one entity object.
	ShapeSingleEntity ResultShape = "single_entity"

	// ShapeAggregate is a group→summary object.
	ShapeAggregate ResultShape = "aggregate"

	// ShapeCount is a bare number.
	ShapeCount ResultShape = "count"
)

// Compiled is a validated, normalized Request plus its fingerprint.
// Two semantically identical requests compile to equal Compiled values
// and identical fingerprints.
type Compiled struct {
	// Req is the normalized request: sorted deduped field list, date
	// values resolved to canonical local timestamps.
	Req Request

	// Fingerprint is the stable hash over the normalized request,
	// used as the cache key. 16 lowercase hex characters.
	Fingerprint string

	// CompiledAt is when compilation happened. Not part of the
	// fingerprint.
	CompiledAt time.Time
}

// Shape returns the result shape the operation's script must emit.
func (c *Compiled) Shape() ResultShape {
	switch {
	case c.Req.Kind == KindAnalyze:
		return ShapeAggregate
	case c.Req.CountOnly:
		return ShapeCount
	case c.Req.Kind == KindWrite:
		return ShapeSingleEntity
	default:
		return ShapeEntityList
	}
}

// DependsOn returns the entity classes a cached result of this
// operation depends on. Always includes the target class; relationship
// fields pull in the classes they reference so a tag rename can
// invalidate task reads that projected tag names.
func (c *Compiled) DependsOn() []EntityClass {
	deps := []EntityClass{c.Req.Entity}
	seen := map[EntityClass]bool{c.Req.Entity: true}
	add := func(class EntityClass) {
		if !seen[class] {
			seen[class] = true
			deps = append(deps, class)
		}
	}
	for _, f := range c.Req.Fields {
		if class, ok := relationshipFieldClass[f]; ok {
			add(class)
		}
	}
	collectFilterClasses(c.Req.Filter, add)
	return deps
}

// collectFilterClasses walks a filter tree adding relationship classes.
func collectFilterClasses(n *FilterNode, add func(EntityClass)) {
	if n == nil {
		return
	}
	if n.IsLeaf() {
		if class, ok := relationshipFieldClass[n.Field]; ok {
			add(class)
		}
		return
	}
	for _, child := range n.Children {
		collectFilterClasses(child, add)
	}
}

// relationshipFieldClass maps relationship field names to the entity
// class they reference.
var relationshipFieldClass = map[string]EntityClass{
	"project":    EntityProject,
	"tags":       EntityTag,
	"folder":     EntityFolder,
	"parentTask": EntityTask,
}
