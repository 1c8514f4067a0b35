// Package residual implements partial evaluation of a policy.Condition tree
// against bound principal/context request data (§4.3): principal/context
// leaves are evaluated and folded away, leaving either a verdict or a
// simplified tree containing only resource-sourced leaves.
package residual

import (
	"fmt"

	"github.com/eclipse-basyx/abac-policy-core/internal/policy"
)

// Verdict is the short-circuit outcome of residualizing a tree, or Residual
// if a simplified resource-only tree remains.
type Verdict int

const (
	GrantedAll Verdict = iota
	DeniedAll
	Residual
)

// Result is the outcome of Residualize: either a short-circuit Verdict, or
// Verdict==Residual with Tree set to the simplified resource-only tree.
type Result struct {
	Verdict Verdict
	Tree    *policy.Condition
}

// Bindings is a resolved attribute document (principal or context), keyed by
// top-level attribute name with arbitrarily nested maps beneath.
type Bindings map[string]any

// Residualize partially evaluates c against principalBindings/contextBindings
// (§4.3). principal/context leaves are replaced by their boolean result;
// and/or/not are simplified by the standard identities; the outcome is
// either a verdict or a tree containing only source=resource leaves.
func Residualize(c policy.Condition, principalBindings, contextBindings Bindings) (Result, error) {
	r, err := reduce(c, principalBindings, contextBindings)
	if err != nil {
		return Result{}, err
	}
	if r.isConst {
		if r.constVal {
			return Result{Verdict: GrantedAll}, nil
		}
		return Result{Verdict: DeniedAll}, nil
	}
	return Result{Verdict: Residual, Tree: r.node}, nil
}

// reduced is either a folded boolean constant or a (possibly simplified)
// subtree that still needs resource data to finish evaluating.
type reduced struct {
	isConst  bool
	constVal bool
	node     *policy.Condition
}

func constReduced(v bool) reduced { return reduced{isConst: true, constVal: v} }
func nodeReduced(c policy.Condition) reduced { return reduced{node: &c} }

func reduce(c policy.Condition, principal, context Bindings) (reduced, error) {
	switch c.Op {
	case policy.OpAnd:
		return reduceJunction(c.Conditions, principal, context, true)
	case policy.OpOr:
		return reduceJunction(c.Conditions, principal, context, false)
	case policy.OpNot:
		child, err := reduce(c.Conditions[0], principal, context)
		if err != nil {
			return reduced{}, err
		}
		if child.isConst {
			return constReduced(!child.constVal), nil
		}
		return nodeReduced(policy.Condition{Op: policy.OpNot, Conditions: []policy.Condition{*child.node}}), nil
	default:
		return reduceLeaf(c, principal, context)
	}
}

// reduceJunction reduces an and (identity=true) or or (identity=false)
// node's children, applying §4.3's simplification identities: the identity
// value is eliminated from the list; its complement short-circuits the
// whole junction.
func reduceJunction(children []policy.Condition, principal, context Bindings, isAnd bool) (reduced, error) {
	shortCircuit := !isAnd // and short-circuits on false, or on true
	identity := isAnd      // and's identity is true, or's is false

	var kept []policy.Condition
	for _, child := range children {
		r, err := reduce(child, principal, context)
		if err != nil {
			return reduced{}, err
		}
		if r.isConst {
			if r.constVal == shortCircuit {
				return constReduced(shortCircuit), nil
			}
			// r.constVal == identity: drop it.
			continue
		}
		kept = append(kept, *r.node)
	}

	if len(kept) == 0 {
		return constReduced(identity), nil
	}
	if len(kept) == 1 {
		return nodeReduced(kept[0]), nil
	}
	op := policy.OpOr
	if isAnd {
		op = policy.OpAnd
	}
	return nodeReduced(policy.Condition{Op: op, Conditions: kept}), nil
}

func reduceLeaf(c policy.Condition, principal, context Bindings) (reduced, error) {
	if c.Source == policy.SourceResource {
		return nodeReduced(c), nil
	}

	var bindings Bindings
	switch c.Source {
	case policy.SourcePrincipal:
		bindings = principal
	case policy.SourceContext:
		bindings = context
	default:
		return reduced{}, fmt.Errorf("residual: unknown source %q", c.Source)
	}

	ok, err := evalLeaf(c, bindings, principal, context)
	if err != nil {
		return reduced{}, err
	}
	return constReduced(ok), nil
}
