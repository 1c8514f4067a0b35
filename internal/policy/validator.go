package policy

import (
	"fmt"
	"strings"
)

// GeometryAttrs names the resource attribute paths (dotted, as in Attr) that
// are known to hold geometry values. Validate uses it to reject a spatial
// operator applied to a non-geometry attribute (§4.1). A nil/empty set
// disables that particular check (the caller has no schema to consult yet);
// every other invariant is still enforced.
type GeometryAttrs map[string]bool

// Validate walks a condition tree and enforces every invariant from §4.1
// that Condition.UnmarshalJSON cannot check locally (spatial/geometry
// typing, attribute path well-formedness, reference well-formedness).
// Arity and known-operator checks have already run during decode.
func Validate(c Condition, geometry GeometryAttrs) error {
	return validate(c, geometry, "$")
}

func validate(c Condition, geometry GeometryAttrs, path string) error {
	if c.IsLogical() {
		for i, child := range c.Conditions {
			if err := validate(child, geometry, fmt.Sprintf("%s.conditions[%d]", path, i)); err != nil {
				return err
			}
		}
		return nil
	}

	if err := validateAttrPath(c.Attr); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	if spatialOps[c.Op] && len(geometry) > 0 && !geometry[c.Attr] {
		return fmt.Errorf("%s: operator %q requires a geometry-typed attribute, %q is not", path, c.Op, c.Attr)
	}

	if err := validateVal(c.Val, path); err != nil {
		return err
	}

	return nil
}

func validateAttrPath(attr string) error {
	if attr == "" {
		return nil // caught earlier for leaves that require it; logical nodes have no Attr
	}
	for _, seg := range SplitPath(attr) {
		if seg == "" {
			return newInvalidPolicyf("attribute path %q contains an empty segment", attr)
		}
	}
	return nil
}

func validateVal(val any, path string) error {
	switch v := val.(type) {
	case string:
		if strings.HasPrefix(v, "$") {
			if _, _, err := ParseReference(v); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.HasPrefix(s, "$") {
				if _, _, err := ParseReference(s); err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
			}
		}
	}
	return nil
}
