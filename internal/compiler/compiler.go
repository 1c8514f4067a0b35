// Package compiler lowers a validated policy.Condition tree into a
// parameterized SQL boolean expression over exactly two free identifiers,
// "resource" (exposing attributes/geometry) and "ctx" (exposing
// principal/context), per §4.2 of the ABAC core specification.
package compiler

import (
	"fmt"
	"strings"

	"github.com/eclipse-basyx/abac-policy-core/internal/policy"
)

// Fragment is the result of compiling a condition tree: a SQL boolean
// expression (using "$1", "$2", ... placeholders in declaration order) plus
// the ordered bind values for those placeholders.
type Fragment struct {
	SQL    string
	Params []any
}

// builder accumulates fragment text and bind parameters. It is the single
// place placeholder numbering happens, so every caller gets consistent
// $N numbering regardless of tree shape.
type builder struct {
	sb     strings.Builder
	params []any
}

func (b *builder) lit(s string) {
	b.sb.WriteString(s)
}

func (b *builder) bind(v any) {
	b.sb.WriteString(b.placeholder(v))
}

// placeholder reserves the next bind slot for v and returns its "$N" text
// without writing it into the fragment buffer, for callers that need to
// compose the placeholder into a larger SQL expression before emitting it.
func (b *builder) placeholder(v any) string {
	b.params = append(b.params, v)
	return fmt.Sprintf("$%d", len(b.params))
}

// Compile lowers c into a Fragment. c must already be policy.Validate'd;
// Compile does not re-check arity or operator validity, only the
// geometry-literal/path lowering that needs resolved attribute schema info.
func Compile(c policy.Condition, geometry policy.GeometryAttrs) (Fragment, error) {
	b := &builder{}
	if err := compileNode(b, c, geometry); err != nil {
		return Fragment{}, err
	}
	return Fragment{SQL: b.sb.String(), Params: b.params}, nil
}

func compileNode(b *builder, c policy.Condition, geometry policy.GeometryAttrs) error {
	switch c.Op {
	case policy.OpAnd:
		return compileConjunction(b, c.Conditions, geometry, "TRUE", " AND ")
	case policy.OpOr:
		return compileConjunction(b, c.Conditions, geometry, "FALSE", " OR ")
	case policy.OpNot:
		b.lit("NOT (")
		if err := compileNode(b, c.Conditions[0], geometry); err != nil {
			return err
		}
		b.lit(")")
		return nil
	default:
		return compileLeaf(b, c, geometry)
	}
}

// compileConjunction implements §4.2 item 6: empty and/or fold to the
// literal TRUE/FALSE at compile time; a non-empty list is parenthesized and
// joined by AND/OR.
func compileConjunction(b *builder, children []policy.Condition, geometry policy.GeometryAttrs, empty string, joiner string) error {
	if len(children) == 0 {
		b.lit(empty)
		return nil
	}
	b.lit("(")
	for i, child := range children {
		if i > 0 {
			b.lit(joiner)
		}
		if err := compileNode(b, child, geometry); err != nil {
			return err
		}
	}
	b.lit(")")
	return nil
}

func compileLeaf(b *builder, c policy.Condition, geometry policy.GeometryAttrs) error {
	if isSpatialOp(c.Op) {
		return compileSpatial(b, c)
	}

	switch c.Op {
	case policy.OpEq, policy.OpNe, policy.OpGt, policy.OpGe, policy.OpLt, policy.OpLe:
		return compileComparison(b, operandSQL(c.Source, c.Attr), string(c.Op), c.Val)
	case policy.OpIn, policy.OpNotIn:
		return compileSetMembership(b, operandSQL(c.Source, c.Attr), c.Op, c.Val)
	case policy.OpAll:
		return compileAll(b, operandSQLJSON(c.Source, c.Attr), c.Val)
	default:
		return fmt.Errorf("compiler: unsupported operator %q", c.Op)
	}
}

// compileComparison implements §4.2 item 3: scalar literals are cast on both
// sides using the §4.1 cast rule, since the attribute side is always a
// text-extracted (->>) JSON value with no implicit cast to numeric/boolean.
func compileComparison(b *builder, left, sqlOp string, val any) error {
	if ref, ok, err := referenceOf(val); err != nil {
		return err
	} else if ok {
		b.lit(left)
		b.lit(" " + sqlOp + " ")
		b.lit(operandSQL(ref.Source, strings.Join(ref.Path, ".")))
		return nil
	}

	cast := castFor(val)
	b.lit("(" + left + ")" + cast)
	b.lit(" " + sqlOp + " (")
	b.bind(val)
	b.lit(")" + cast)
	return nil
}

func compileSetMembership(b *builder, left string, op policy.Op, val any) error {
	items, ok := val.([]any)
	if !ok {
		return fmt.Errorf("compiler: %q requires a list val", op)
	}
	cast := "::text"
	if len(items) > 0 {
		cast = castFor(items[0])
	}
	b.lit("(" + left + ")" + cast)
	if op == policy.OpNotIn {
		b.lit(" NOT IN (")
	} else {
		b.lit(" IN (")
	}
	for i, item := range items {
		if i > 0 {
			b.lit(", ")
		}
		b.lit("(")
		b.bind(item)
		b.lit(")")
		b.lit(castFor(item))
	}
	b.lit(")")
	return nil
}

// compileAll implements the "all" operator (attribute list contains every
// element of val) as a JSONB containment check: attribute @> val. left must
// be the JSON-valued (->) form of the attribute path, not the text-extracted
// (->>) form, since jsonb @> jsonb has no text overload.
func compileAll(b *builder, left string, val any) error {
	items, ok := val.([]any)
	if !ok {
		return fmt.Errorf("compiler: %q requires a list val", policy.OpAll)
	}
	b.lit(left)
	b.lit(" @> (")
	b.bind(items)
	b.lit(")::jsonb")
	return nil
}

func referenceOf(val any) (policy.Reference, bool, error) {
	s, ok := val.(string)
	if !ok {
		return policy.Reference{}, false, nil
	}
	return policy.ParseReference(s)
}

// castFor implements §4.1's literal-type cast rule: numeric implies
// ::numeric, boolean implies ::boolean, otherwise ::text.
func castFor(val any) string {
	switch val.(type) {
	case float64, int, int64:
		return "::numeric"
	case bool:
		return "::boolean"
	default:
		return "::text"
	}
}

// operandSQL implements §4.2 item 4's JSON-path lowering: resource attributes
// read through resource.attributes, principal/context through ctx's nested
// sub-objects; every intermediate segment uses "->", the final segment "->>"
// (scalar text extraction, used by comparison/membership operators).
func operandSQL(source policy.Source, attr string) string {
	return operandPath(source, attr, "->>")
}

// operandSQLJSON is operandSQL's JSON-valued counterpart: the final segment
// also uses "->", so the result can feed a jsonb operator such as "all"'s
// containment check rather than being compared as text.
func operandSQLJSON(source policy.Source, attr string) string {
	return operandPath(source, attr, "->")
}

func operandPath(source policy.Source, attr string, finalOp string) string {
	segs := policy.SplitPath(attr)
	var root string
	switch source {
	case policy.SourceResource:
		root = "resource.attributes"
	case policy.SourcePrincipal:
		root = "ctx->'principal'"
	case policy.SourceContext:
		root = "ctx->'context'"
	}
	if len(segs) == 0 {
		return root
	}
	var sb strings.Builder
	sb.WriteString(root)
	for i, seg := range segs {
		op := "->"
		if i == len(segs)-1 {
			op = finalOp
		}
		sb.WriteString(op)
		sb.WriteString(quoteLiteral(seg))
	}
	return sb.String()
}

// quoteLiteral produces a single-quoted SQL string literal for a path
// segment. Path segments come from the rule's own DSL tree, not from
// request-time user input, so inlining them (rather than binding them) is
// consistent with §4.2 item 1, which requires placeholders for val/args, not
// for attribute path segments — and matches the literal fragment shape
// required by §4.2 item 4 (resource.attributes->'a'->'b'->>'c').
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// RenumberPlaceholders shifts every "$N" token in sql up by offset, so a
// fragment compiled on its own (starting at $1) can be spliced after
// offset other parameters already bound ahead of it in a larger query. Both
// internal/store (splicing a combined predicate after a query's own prefix
// parameters) and internal/runner (splicing multiple candidates' fragments
// into one disjunction) need this.
func RenumberPlaceholders(sql string, offset int) string {
	if offset == 0 {
		return sql
	}
	out := make([]byte, 0, len(sql))
	for i := 0; i < len(sql); i++ {
		if sql[i] == '$' && i+1 < len(sql) && sql[i+1] >= '0' && sql[i+1] <= '9' {
			j := i + 1
			n := 0
			for j < len(sql) && sql[j] >= '0' && sql[j] <= '9' {
				n = n*10 + int(sql[j]-'0')
				j++
			}
			out = append(out, []byte(fmt.Sprintf("$%d", n+offset))...)
			i = j - 1
			continue
		}
		out = append(out, sql[i])
	}
	return string(out)
}

func isSpatialOp(op policy.Op) bool {
	switch op {
	case policy.OpSTDWithin, policy.OpSTContains, policy.OpSTWithin, policy.OpSTIntersects, policy.OpSTCovers:
		return true
	}
	return false
}
