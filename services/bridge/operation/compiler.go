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
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/go-playground/validator/v10"
)

// =============================================================================
// DATE SEMANTICS
// =============================================================================

// dateSemantic classifies how a date-only value gains a time-of-day.
type dateSemantic int

const (
	semanticNone dateSemantic = iota
	semanticDue               // end of business
	semanticDefer             // start of day
	semanticPlain             // start of day
)

const (
	// endOfBusinessHour is the time-of-day attached to bare due dates.
	endOfBusinessHour = 17

	// canonicalTimeLayout is the normalized host-local timestamp form
	// every date value is rewritten to.
	canonicalTimeLayout = "2006-01-02T15:04:05"
)

// fieldDateSemantic maps known date-bearing field names to their
// default time-of-day semantic. Fields absent from this map are not
// treated as dates.
var fieldDateSemantic = map[string]dateSemantic{
	"dueDate":        semanticDue,
	"deferDate":      semanticDefer,
	"startDate":      semanticDefer,
	"completionDate": semanticPlain,
	"addedDate":      semanticPlain,
	"modifiedDate":   semanticPlain,
}

// validGroupOps and validOperators whitelist the filter vocabulary.
var (
	validGroupOps = map[GroupOp]bool{
		GroupAnd: true,
		GroupOr:  true,
		GroupNot: true,
	}
	validOperators = map[Operator]bool{
		OpEquals:    true,
		OpNotEquals: true,
		OpContains:  true,
		OpBefore:    true,
		OpAfter:     true,
		OpExists:    true,
	}
)

// =============================================================================
// COMPILER
// =============================================================================

// Compiler validates and normalizes operation requests.
//
// Compilation is pure except for relative-date resolution, which uses
// the injected clock; retried compilation of the same request against
// the same clock output yields byte-identical normalized forms and
// therefore identical fingerprints.
//
// Thread Safety: safe for concurrent use.
type Compiler struct {
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

// CompilerOption customizes a Compiler.
type CompilerOption func(*Compiler)

// WithClock injects the time source used to resolve relative dates
// ("today", "tomorrow", "yesterday"). Defaults to time.Now.
func WithClock(now func() time.Time) CompilerOption {
	return func(c *Compiler) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCompiler creates a Compiler. A nil logger falls back to
// slog.Default().
func NewCompiler(logger *slog.Logger, opts ...CompilerOption) *Compiler {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Compiler{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile validates req and produces its normalized, fingerprinted
// form. All failures are *ValidationError; nothing is spawned before
// this returns.
func (c *Compiler) Compile(req *Request) (*Compiled, error) {
	if req == nil {
		return nil, newValidationError("request", ErrNilRequest)
	}

	if err := c.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return nil, &ValidationError{
				Field:  strings.ToLower(fe.Field()),
				Reason: fmt.Sprintf("failed %q constraint", fe.Tag()),
			}
		}
		return nil, &ValidationError{Field: "request", Reason: err.Error()}
	}

	norm := c.normalizeRequest(req)
	if err := c.validateSemantics(&norm); err != nil {
		return nil, err
	}
	if err := c.resolveDates(&norm); err != nil {
		return nil, err
	}

	fp := Fingerprint(&norm)
	c.logger.Debug("operation compiled",
		slog.String("kind", string(norm.Kind)),
		slog.String("entity", string(norm.Entity)),
		slog.String("fingerprint", fp),
	)

	return &Compiled{
		Req:         norm,
		Fingerprint: fp,
		CompiledAt:  c.now(),
	}, nil
}

// normalizeRequest deep-copies req into canonical form: field list
// sorted and deduplicated, filter tree and write spec copied so the
// caller's request is never mutated.
func (c *Compiler) normalizeRequest(req *Request) Request {
	norm := *req

	if len(req.Fields) > 0 {
		fields := make([]string, 0, len(req.Fields))
		seen := make(map[string]bool, len(req.Fields))
		for _, f := range req.Fields {
			if !seen[f] {
				seen[f] = true
				fields = append(fields, f)
			}
		}
		sort.Strings(fields)
		norm.Fields = fields
	}

	norm.Filter = copyFilter(req.Filter)

	if req.Write != nil {
		w := *req.Write
		if req.Write.Set != nil {
			w.Set = make(map[string]any, len(req.Write.Set))
			for k, v := range req.Write.Set {
				w.Set[k] = v
			}
		}
		norm.Write = &w
	}
	if req.Analyze != nil {
		a := *req.Analyze
		norm.Analyze = &a
	}
	return norm
}

// copyFilter deep-copies a filter tree.
func copyFilter(n *FilterNode) *FilterNode {
	if n == nil {
		return nil
	}
	dup := *n
	if len(n.Children) > 0 {
		dup.Children = make([]*FilterNode, len(n.Children))
		for i, child := range n.Children {
			dup.Children[i] = copyFilter(child)
		}
	}
	return &dup
}

// validateSemantics checks kind-specific requirements and walks the
// filter tree for well-formedness.
func (c *Compiler) validateSemantics(req *Request) error {
	switch req.Kind {
	case KindWrite:
		if req.Write == nil {
			return newValidationError("write", ErrMissingWriteSpec)
		}
		switch req.Write.Action {
		case ActionUpdate, ActionDelete:
			if req.Write.TargetID == "" {
				return newValidationError("write.target_id", ErrMissingTargetID)
			}
		}
		switch req.Write.Action {
		case ActionCreate, ActionUpdate:
			if len(req.Write.Set) == 0 {
				return newValidationError("write.set", ErrEmptySet)
			}
		}
	case KindAnalyze:
		if req.Analyze == nil {
			return newValidationError("analyze", ErrMissingAnalyzeSpec)
		}
	}
	return c.validateFilter(req.Filter, "filter")
}

// validateFilter recursively checks one filter subtree. path names the
// node for error reporting.
func (c *Compiler) validateFilter(n *FilterNode, path string) error {
	if n == nil {
		return nil
	}
	if n.IsLeaf() {
		if n.Field == "" {
			return &ValidationError{Field: path + ".field", Reason: "predicate field must not be empty"}
		}
		if !validOperators[n.Operator] {
			return newValidationError(path+".operator", ErrUnknownOperator)
		}
		if n.Operator != OpExists && n.Value == nil {
			return &ValidationError{Field: path + ".value", Reason: "predicate value required for operator " + string(n.Operator)}
		}
		if len(n.Children) > 0 {
			return &ValidationError{Field: path + ".children", Reason: "predicate leaf must not have children"}
		}
		return nil
	}
	if !validGroupOps[n.Group] {
		return newValidationError(path+".group", ErrUnknownGroup)
	}
	if len(n.Children) == 0 {
		return newValidationError(path+".children", ErrEmptyGroup)
	}
	if n.Group == GroupNot && len(n.Children) != 1 {
		return newValidationError(path+".children", ErrNotArity)
	}
	for i, child := range n.Children {
		if err := c.validateFilter(child, fmt.Sprintf("%s.children[%d]", path, i)); err != nil {
			return err
		}
	}
	return nil
}

// resolveDates rewrites every date value in the filter tree and write
// spec into canonical host-local form, applying the time-of-day
// defaults for date-only input.
func (c *Compiler) resolveDates(req *Request) error {
	if err := c.resolveFilterDates(req.Filter, "filter"); err != nil {
		return err
	}
	if req.Write != nil {
		for field, value := range req.Write.Set {
			sem, ok := fieldDateSemantic[field]
			if !ok {
				continue
			}
			s, ok := value.(string)
			if !ok {
				return &ValidationError{
					Field:  "write.set." + field,
					Reason: "date field requires a string value",
				}
			}
			resolved, err := c.resolveDateValue(s, sem)
			if err != nil {
				return newValidationError("write.set."+field, err)
			}
			req.Write.Set[field] = resolved
		}
	}
	return nil
}

// resolveFilterDates walks the filter tree resolving leaf date values.
func (c *Compiler) resolveFilterDates(n *FilterNode, path string) error {
	if n == nil {
		return nil
	}
	if n.IsLeaf() {
		sem, isDate := fieldDateSemantic[n.Field]
		dateOp := n.Operator == OpBefore || n.Operator == OpAfter
		if dateOp && !isDate {
			return &ValidationError{
				Field:  path + ".field",
				Reason: fmt.Sprintf("operator %q requires a date field, got %q", n.Operator, n.Field),
			}
		}
		if !isDate || n.Operator == OpExists {
			return nil
		}
		s, ok := n.Value.(string)
		if !ok {
			return &ValidationError{Field: path + ".value", Reason: "date predicate requires a string value"}
		}
		resolved, err := c.resolveDateValue(s, sem)
		if err != nil {
			return newValidationError(path+".value", err)
		}
		n.Value = resolved
		return nil
	}
	for i, child := range n.Children {
		if err := c.resolveFilterDates(child, fmt.Sprintf("%s.children[%d]", path, i)); err != nil {
			return err
		}
	}
	return nil
}

// resolveDateValue turns one raw date string into canonical form.
//
// Accepted input: the relative tokens today/tomorrow/yesterday, a bare
// calendar date (YYYY-MM-DD), or a full datetime (RFC3339). Bare dates
// gain the semantic's default time-of-day; explicit times pass through
// unchanged apart from reformatting.
func (c *Compiler) resolveDateValue(raw string, sem dateSemantic) (string, error) {
	switch strings.ToLower(raw) {
	case "today":
		return c.dateWithDefault(c.now(), sem), nil
	case "tomorrow":
		return c.dateWithDefault(c.now().AddDate(0, 0, 1), sem), nil
	case "yesterday":
		return c.dateWithDefault(c.now().AddDate(0, 0, -1), sem), nil
	}

	if strfmt.IsDate(raw) {
		var d strfmt.Date
		if err := d.UnmarshalText([]byte(raw)); err != nil {
			return "", ErrMalformedDate
		}
		return c.dateWithDefault(time.Time(d), sem), nil
	}

	dt, err := strfmt.ParseDateTime(raw)
	if err != nil {
		return "", ErrMalformedDate
	}
	return time.Time(dt).Format(canonicalTimeLayout), nil
}

// dateWithDefault applies the semantic's time-of-day to a bare date.
func (c *Compiler) dateWithDefault(t time.Time, sem dateSemantic) string {
	hour := 0
	if sem == semanticDue {
		hour = endOfBusinessHour
	}
	resolved := time.Date(t.Year(), t.Month(), t.Day(), hour, 0, 0, 0, t.Location())
	return resolved.Format(canonicalTimeLayout)
}
