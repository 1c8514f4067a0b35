// Package waterfall implements the 3-level rule selector (§4.4):
// public-type short-circuit, type-scoped rules, then resource-scoped rules.
package waterfall

import (
	"context"
	"fmt"

	"github.com/eclipse-basyx/abac-policy-core/internal/cache"
	"github.com/eclipse-basyx/abac-policy-core/internal/policy"
	"github.com/eclipse-basyx/abac-policy-core/internal/residual"
	"github.com/eclipse-basyx/abac-policy-core/internal/store"
)

// Subject is the `(principal, roles)` half of the selector's key tuple.
// PrincipalIDs must include both the requesting principal's own id and the
// anonymous principal id 0 (§4.4: "The anonymous principal id 0 is always
// included for requests (authenticated or not)"); build it with
// NewSubject rather than by hand.
type Subject struct {
	PrincipalIDs []int64
	RoleIDs      []int64
}

// AnonymousPrincipalID is the well-known id always folded into the subject
// set (§4.4).
const AnonymousPrincipalID int64 = 0

// NewSubject builds a Subject for principalID (0 for an anonymous
// request), always including the anonymous id alongside it.
func NewSubject(principalID int64, roleIDs []int64) Subject {
	ids := []int64{principalID}
	if principalID != AnonymousPrincipalID {
		ids = append(ids, AnonymousPrincipalID)
	}
	return Subject{PrincipalIDs: ids, RoleIDs: roleIDs}
}

// CandidateRule is a rule whose residual evaluation did not fully resolve;
// its Tree contains only source=resource leaves and must still be compiled
// and combined into the final query predicate.
type CandidateRule struct {
	RuleID     int64
	ResourceID *int64 // nil for a type-scoped rule; set restricts the clause to this one resource
	Tree       policy.Condition
}

// Outcome is the result of Select.
type Outcome struct {
	GrantedAll bool // level 1 hit, or a level-2 rule residualized to GrantedAll
	Candidates []CandidateRule
}

// RuleStore is the subset of *store.Store the selector needs; declared as
// an interface so tests can fake it without a database.
type RuleStore interface {
	TypeScopedRules(ctx context.Context, realmID, resourceTypeID, actionID int64, roleIDs []int64, principalIDs []int64) ([]store.Rule, error)
	ResourceScopedRules(ctx context.Context, realmID, resourceTypeID, actionID int64, roleIDs []int64, principalIDs []int64, resourceIDs []int64) ([]store.Rule, error)
}

// Select runs the 3-level waterfall for one (realm, subject, resource_type,
// action) tuple. resourceIDs narrows level 3 to a known candidate set
// (e.g. from external_resource_ids); pass nil for no restriction.
func Select(
	ctx context.Context,
	typeEntry cache.TypeEntry,
	rules RuleStore,
	realmID, resourceTypeID, actionID int64,
	subject Subject,
	principalBindings, contextBindings residual.Bindings,
	resourceIDs []int64,
) (Outcome, error) {
	// Level 1: public resource type short-circuits with no further store
	// access beyond the already-cached flag (§4.4 item 1).
	if typeEntry.IsPublic {
		return Outcome{GrantedAll: true}, nil
	}

	typeScoped, err := rules.TypeScopedRules(ctx, realmID, resourceTypeID, actionID, subject.RoleIDs, subject.PrincipalIDs)
	if err != nil {
		return Outcome{}, fmt.Errorf("waterfall: level 2 fetch: %w", err)
	}

	var candidates []CandidateRule
	for _, r := range typeScoped {
		tree, err := decodeTree(r.DSL)
		if err != nil {
			return Outcome{}, err
		}
		res, err := residual.Residualize(tree, principalBindings, contextBindings)
		if err != nil {
			return Outcome{}, err
		}
		switch res.Verdict {
		case residual.GrantedAll:
			return Outcome{GrantedAll: true}, nil
		case residual.DeniedAll:
			continue
		default:
			candidates = append(candidates, CandidateRule{RuleID: r.ID, Tree: *res.Tree})
		}
	}

	resourceScoped, err := rules.ResourceScopedRules(ctx, realmID, resourceTypeID, actionID, subject.RoleIDs, subject.PrincipalIDs, resourceIDs)
	if err != nil {
		return Outcome{}, fmt.Errorf("waterfall: level 3 fetch: %w", err)
	}
	for _, r := range resourceScoped {
		tree, err := decodeTree(r.DSL)
		if err != nil {
			return Outcome{}, err
		}
		res, err := residual.Residualize(tree, principalBindings, contextBindings)
		if err != nil {
			return Outcome{}, err
		}
		resourceID := *r.ResourceID
		switch res.Verdict {
		case residual.GrantedAll:
			// A level-3 grant only ever covers its own resource (§4.4): fold it
			// in as a trivially-true candidate restricted to resourceID rather
			// than a blanket Outcome.GrantedAll, which would also discard any
			// level-2 candidates already collected and over-grant every other
			// requested resource.
			candidates = append(candidates, CandidateRule{RuleID: r.ID, ResourceID: &resourceID, Tree: policy.Condition{Op: policy.OpAnd}})
		case residual.DeniedAll:
			continue
		default:
			candidates = append(candidates, CandidateRule{RuleID: r.ID, ResourceID: &resourceID, Tree: *res.Tree})
		}
	}

	return Outcome{Candidates: candidates}, nil
}

func decodeTree(raw []byte) (policy.Condition, error) {
	var c policy.Condition
	if err := c.UnmarshalJSON(raw); err != nil {
		return policy.Condition{}, fmt.Errorf("waterfall: decode rule DSL: %w", err)
	}
	return c, nil
}
