package residual

import (
	"fmt"
	"strings"

	"github.com/eclipse-basyx/abac-policy-core/internal/policy"
)

// evalLeaf fully evaluates a principal/context-sourced leaf against the
// already-selected bindings for its own source. Deny-on-missing (§4.3):
// an absent attribute makes the leaf false, never an error.
func evalLeaf(c policy.Condition, bindings, principal, context Bindings) (bool, error) {
	left, found := lookupPath(bindings, policy.SplitPath(c.Attr))
	if !found {
		return false, nil
	}

	right, rfound, err := resolveVal(c.Val, principal, context)
	if err != nil {
		return false, err
	}
	if !rfound {
		return false, nil
	}

	switch c.Op {
	case policy.OpEq:
		return compareEqual(left, right), nil
	case policy.OpNe:
		return !compareEqual(left, right), nil
	case policy.OpGt, policy.OpGe, policy.OpLt, policy.OpLe:
		return compareOrder(c.Op, left, right)
	case policy.OpIn:
		return membership(left, right), nil
	case policy.OpNotIn:
		return !membership(left, right), nil
	case policy.OpAll:
		return containsAll(left, right), nil
	default:
		return false, fmt.Errorf("residual: operator %q cannot be evaluated against principal/context data", c.Op)
	}
}

// resolveVal resolves a leaf's Val for full evaluation: a reference string
// is looked up against principal/context bindings; anything else is a
// literal, used as-is. A reference to source=resource cannot be resolved at
// residual time (no resource binding exists yet).
func resolveVal(val any, principal, context Bindings) (any, bool, error) {
	s, ok := val.(string)
	if !ok {
		return val, true, nil
	}
	ref, isRef, err := policy.ParseReference(s)
	if err != nil {
		return nil, false, err
	}
	if !isRef {
		return val, true, nil
	}
	switch ref.Source {
	case policy.SourcePrincipal:
		v, found := lookupPath(principal, ref.Path)
		return v, found, nil
	case policy.SourceContext:
		v, found := lookupPath(context, ref.Path)
		return v, found, nil
	default:
		return nil, false, fmt.Errorf("residual: a principal/context leaf cannot reference %q at residual time", ref.Source)
	}
}

func lookupPath(bindings Bindings, path []string) (any, bool) {
	if bindings == nil || len(path) == 0 {
		return nil, false
	}
	var cur any = map[string]any(bindings)
	for _, seg := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[seg]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func compareEqual(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func compareOrder(op policy.Op, a, b any) (bool, error) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch op {
		case policy.OpGt:
			return af > bf, nil
		case policy.OpGe:
			return af >= bf, nil
		case policy.OpLt:
			return af < bf, nil
		case policy.OpLe:
			return af <= bf, nil
		}
	}
	as, bs := fmt.Sprint(a), fmt.Sprint(b)
	cmp := strings.Compare(as, bs)
	switch op {
	case policy.OpGt:
		return cmp > 0, nil
	case policy.OpGe:
		return cmp >= 0, nil
	case policy.OpLt:
		return cmp < 0, nil
	case policy.OpLe:
		return cmp <= 0, nil
	}
	return false, fmt.Errorf("residual: unreachable order operator %q", op)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func membership(needle, haystack any) bool {
	list, ok := haystack.([]any)
	if !ok {
		return false
	}
	for _, item := range list {
		if compareEqual(needle, item) {
			return true
		}
	}
	return false
}

func containsAll(attrList, required any) bool {
	attrs, ok := attrList.([]any)
	if !ok {
		return false
	}
	reqs, ok := required.([]any)
	if !ok {
		return false
	}
	for _, r := range reqs {
		found := false
		for _, a := range attrs {
			if compareEqual(a, r) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
