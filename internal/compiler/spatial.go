package compiler

import (
	"fmt"

	"github.com/eclipse-basyx/abac-policy-core/internal/geo"
	"github.com/eclipse-basyx/abac-policy-core/internal/policy"
)

// spatialFuncs maps a spatial operator to the store's predicate function
// name. All take geometry operands already transformed into the canonical
// projection (§4.1 geometry literals, §4.2 item 5 spatial lowering).
var spatialFuncs = map[policy.Op]string{
	policy.OpSTDWithin:    "ST_DWithin",
	policy.OpSTContains:   "ST_Contains",
	policy.OpSTWithin:     "ST_Within",
	policy.OpSTIntersects: "ST_Intersects",
	policy.OpSTCovers:     "ST_Covers",
}

// compileSpatial lowers a spatial leaf. The attribute operand is always the
// resource's geometry column (resource exposes exactly one geometry per
// §4.2's two-free-identifier contract); the right-hand operand is either a
// $principal/$context reference (resolved via ctx's JSON path, then wrapped
// in a geometry constructor) or a geometry literal (WKT/GeoJSON, detected
// and bound as a placeholder).
func compileSpatial(b *builder, c policy.Condition) error {
	fn, ok := spatialFuncs[c.Op]
	if !ok {
		return fmt.Errorf("compiler: unsupported spatial operator %q", c.Op)
	}

	rightGeomSQL, err := spatialOperandSQL(b, c.Val)
	if err != nil {
		return err
	}

	b.lit(fn)
	b.lit("(resource.geometry, ")
	b.lit(rightGeomSQL)
	if c.Op == policy.OpSTDWithin {
		if c.Args == nil {
			return fmt.Errorf("compiler: %q requires args", policy.OpSTDWithin)
		}
		b.lit(", ")
		b.bind(*c.Args)
	}
	b.lit(")")
	return nil
}

// spatialOperandSQL renders the right-hand geometry operand and returns the
// SQL text to splice into the surrounding function call; placeholder
// bindings (if any) are appended to b as a side effect.
func spatialOperandSQL(b *builder, val any) (string, error) {
	if ref, ok, err := policy.ParseReference(asString(val)); err != nil {
		return "", err
	} else if ok {
		path := operandSQL(ref.Source, joinPath(ref.Path))
		return "ST_GeomFromText(" + path + ", " + fmt.Sprint(geo.CanonicalSRID) + ")", nil
	}

	lit, ok, err := geo.Detect(val)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("compiler: value is not a recognizable geometry literal: %v", val)
	}
	placeholder := b.placeholder(lit.Text)
	if lit.SRID == geo.CanonicalSRID {
		return fmt.Sprintf("ST_GeomFromText(%s, %d)", placeholder, lit.SRID), nil
	}
	return fmt.Sprintf("ST_Transform(ST_GeomFromText(%s, %d), %d)", placeholder, lit.SRID, geo.CanonicalSRID), nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func joinPath(segs []string) string {
	out := ""
	for i, s := range segs {
		if i > 0 {
			out += "."
		}
		out += s
	}
	return out
}
