// Package policy defines the access-rule condition DSL: a tagged tree of
// logical and leaf nodes, its JSON encoding, and the validation rules that
// must hold before a tree is handed to the compiler.
package policy

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Op identifies the operator carried by a condition node.
type Op string

const (
	OpAnd Op = "and"
	OpOr  Op = "or"
	OpNot Op = "not"

	OpEq    Op = "="
	OpNe    Op = "!="
	OpGt    Op = ">"
	OpGe    Op = ">="
	OpLt    Op = "<"
	OpLe    Op = "<="
	OpIn    Op = "in"
	OpNotIn Op = "not_in"
	OpAll   Op = "all"

	OpSTDWithin     Op = "st_dwithin"
	OpSTContains    Op = "st_contains"
	OpSTWithin      Op = "st_within"
	OpSTIntersects  Op = "st_intersects"
	OpSTCovers      Op = "st_covers"
)

// Source names the binding a leaf's attribute path is read from.
type Source string

const (
	SourceResource  Source = "resource"
	SourcePrincipal Source = "principal"
	SourceContext   Source = "context"
)

func (s Source) valid() bool {
	switch s {
	case SourceResource, SourcePrincipal, SourceContext:
		return true
	}
	return false
}

var logicalOps = map[Op]bool{OpAnd: true, OpOr: true, OpNot: true}

var comparisonOps = map[Op]bool{OpEq: true, OpNe: true, OpGt: true, OpGe: true, OpLt: true, OpLe: true}

var setOps = map[Op]bool{OpIn: true, OpNotIn: true}

var spatialOps = map[Op]bool{
	OpSTDWithin: true, OpSTContains: true, OpSTWithin: true, OpSTIntersects: true, OpSTCovers: true,
}

func isKnownOp(op Op) bool {
	return logicalOps[op] || comparisonOps[op] || setOps[op] || op == OpAll || spatialOps[op]
}

// Condition is a single node of the condition DSL, either logical
// (and/or/not, operating over Conditions) or a leaf (any other Op,
// reading Source.Attr and comparing against Val/Args).
type Condition struct {
	Op         Op          `json:"op"`
	Conditions []Condition `json:"conditions,omitempty"`
	Source     Source      `json:"source,omitempty"`
	Attr       string      `json:"attr,omitempty"`
	Val        any         `json:"val,omitempty"`
	Args       *float64    `json:"args,omitempty"`
}

// IsLogical reports whether c is an and/or/not node.
func (c Condition) IsLogical() bool {
	return logicalOps[c.Op]
}

// wireCondition mirrors Condition's JSON shape for decode-time inspection;
// defaulting and validation happen in UnmarshalJSON.
type wireCondition struct {
	Op         Op              `json:"op"`
	Conditions []wireCondition `json:"conditions,omitempty"`
	Source     Source          `json:"source,omitempty"`
	Attr       string          `json:"attr,omitempty"`
	Val        any             `json:"val,omitempty"`
	Args       *float64        `json:"args,omitempty"`
}

// UnmarshalJSON decodes and validates a single condition node. Structural
// invariants (arity, required fields, known operators) are enforced here so
// that any *policy.Condition in memory is already well-formed; the deeper
// semantic checks (geometry-typed attributes, reference cycles) live in
// Validate.
func (c *Condition) UnmarshalJSON(data []byte) error {
	var w wireCondition
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Op == "" {
		return fmt.Errorf("policy: condition missing %q", "op")
	}
	if !isKnownOp(w.Op) {
		return fmt.Errorf("policy: unknown operator %q", w.Op)
	}

	out := Condition{Op: w.Op, Attr: w.Attr, Val: w.Val, Args: w.Args, Source: w.Source}

	switch {
	case w.Op == OpNot:
		if len(w.Conditions) != 1 {
			return fmt.Errorf("policy: %q requires exactly one child condition, got %d", OpNot, len(w.Conditions))
		}
		if w.Attr != "" || w.Val != nil {
			return fmt.Errorf("policy: logical operator %q must not carry a leaf attr/val", OpNot)
		}
	case w.Op == OpAnd || w.Op == OpOr:
		// Empty and/or is legal: and[] == true, or[] == false (§4.1).
	default:
		if len(w.Conditions) != 0 {
			return fmt.Errorf("policy: leaf operator %q must not carry conditions", w.Op)
		}
		if w.Attr == "" {
			return fmt.Errorf("policy: leaf operator %q requires a non-empty attr path", w.Op)
		}
		if w.Source == "" {
			out.Source = SourceResource
		} else if !w.Source.valid() {
			return fmt.Errorf("policy: unknown source %q", w.Source)
		}
		if (setOps[w.Op] || w.Op == OpAll) && !isList(w.Val) {
			return fmt.Errorf("policy: operator %q requires a list val", w.Op)
		}
		if w.Op == OpSTDWithin && w.Args == nil {
			return fmt.Errorf("policy: %q requires args (distance in meters)", OpSTDWithin)
		}
	}

	if len(w.Conditions) > 0 {
		out.Conditions = make([]Condition, len(w.Conditions))
		for i, wc := range w.Conditions {
			raw, err := json.Marshal(wc)
			if err != nil {
				return err
			}
			if err := out.Conditions[i].UnmarshalJSON(raw); err != nil {
				return err
			}
		}
	}

	*c = out
	return nil
}

func isList(v any) bool {
	_, ok := v.([]any)
	return ok
}
