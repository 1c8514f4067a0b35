package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"

	"github.com/eclipse-basyx/abac-policy-core/internal/common"
	"github.com/eclipse-basyx/abac-policy-core/internal/compiler"
	"github.com/eclipse-basyx/abac-policy-core/internal/lifecycle"
	"github.com/eclipse-basyx/abac-policy-core/internal/policy"
)

// RuleDraft is the caller-supplied half of a Rule: the subject-scope key and
// its condition tree, not yet validated or compiled.
type RuleDraft struct {
	RealmID        int64
	ResourceTypeID int64
	ActionID       int64
	RoleID         *int64
	PrincipalID    *int64
	ResourceID     *int64
	Tree           policy.Condition
}

// PutRule runs the compiler as a trigger on rule mutation (§4.2, §4.8): it
// validates the tree, compiles it to a SQL fragment, hashes it, and
// persists `(dsl_json, compiled_sql, placeholders, compiled_hash)`
// transactionally. Re-creating the same (realm, type, action, subject,
// resource) tuple supersedes the prior active rule (§4.7 upsert semantics).
//
// geometry names the resource type's geometry-typed attributes, used to
// validate spatial operators (§4.1).
func (s *Store) PutRule(ctx context.Context, draft RuleDraft, geometry policy.GeometryAttrs) (Rule, error) {
	if err := policy.Validate(draft.Tree, geometry); err != nil {
		return Rule{}, common.NewErrInvalidPolicy(err.Error())
	}

	fragment, err := compiler.Compile(draft.Tree, geometry)
	if err != nil {
		return Rule{}, common.NewErrInvalidPolicy(err.Error())
	}

	// A freshly submitted rule walks Draft->Compiled->Active in one
	// transaction (§4.7); validating the edges here keeps the insert below
	// honest against the same transition table the rest of the lifecycle
	// enforces, instead of just hardcoding the terminal state.
	if err := requireTransition(lifecycle.Draft, lifecycle.Compiled); err != nil {
		return Rule{}, err
	}
	if err := requireTransition(lifecycle.Compiled, lifecycle.Active); err != nil {
		return Rule{}, err
	}

	hash, err := policy.CanonicalHash(draft.Tree)
	if err != nil {
		return Rule{}, common.NewErrInvalidPolicy(err.Error())
	}

	dsl, err := common.MarshalJSON(draft.Tree)
	if err != nil {
		return Rule{}, common.NewErrInvalidPolicy(err.Error())
	}
	paramsJSON, err := common.MarshalJSON(fragment.Params)
	if err != nil {
		return Rule{}, fmt.Errorf("store: marshal compiled params: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Rule{}, common.NewErrStoreFailure(err.Error())
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.supersedeMatchingTx(ctx, tx, draft); err != nil {
		return Rule{}, common.NewErrStoreFailure(err.Error())
	}

	record := goqu.Record{
		"realm_id":         draft.RealmID,
		"resource_type_id": draft.ResourceTypeID,
		"action_id":        draft.ActionID,
		"role_id":          nullableInt64(draft.RoleID),
		"principal_id":     nullableInt64(draft.PrincipalID),
		"resource_id":      nullableInt64(draft.ResourceID),
		"dsl_json":         goqu.L("?::jsonb", string(dsl)),
		"compiled_sql":     fragment.SQL,
		"compiled_params":  goqu.L("?::jsonb", string(paramsJSON)),
		"compiled_hash":    hash,
		"state":            string(lifecycle.Active),
		"updated_at":       goqu.L("NOW()"),
	}
	ds := s.dialect.Insert(goqu.T("rules")).Rows(record).Returning(goqu.C("id"), goqu.C("updated_at"))
	sqlStr, args, err := ds.ToSQL()
	if err != nil {
		return Rule{}, err
	}
	var id int64
	var updatedAt time.Time
	if err := tx.QueryRowContext(ctx, sqlStr, args...).Scan(&id, &updatedAt); err != nil {
		return Rule{}, common.NewErrStoreFailure(err.Error())
	}

	if err := tx.Commit(); err != nil {
		return Rule{}, common.NewErrStoreFailure(err.Error())
	}

	return Rule{
		ID:             id,
		RealmID:        draft.RealmID,
		ResourceTypeID: draft.ResourceTypeID,
		ActionID:       draft.ActionID,
		RoleID:         draft.RoleID,
		PrincipalID:    draft.PrincipalID,
		ResourceID:     draft.ResourceID,
		DSL:            dsl,
		CompiledSQL:    fragment.SQL,
		CompiledParams: fragment.Params,
		CompiledHash:   hash,
		State:          lifecycle.Active,
		UpdatedAt:      updatedAt,
	}, nil
}

// supersedeMatchingTx marks any existing active rule for draft's subject-scope
// key as superseded, inside an already-open transaction (§4.7).
func (s *Store) supersedeMatchingTx(ctx context.Context, tx *sql.Tx, draft RuleDraft) error {
	if err := requireTransition(lifecycle.Active, lifecycle.Superseded); err != nil {
		return err
	}
	where := []goqu.Expression{
		goqu.C("realm_id").Eq(draft.RealmID),
		goqu.C("resource_type_id").Eq(draft.ResourceTypeID),
		goqu.C("action_id").Eq(draft.ActionID),
		goqu.C("state").Eq(string(lifecycle.Active)),
		nullableEq("role_id", draft.RoleID),
		nullableEq("principal_id", draft.PrincipalID),
		nullableEq("resource_id", draft.ResourceID),
	}
	ds := s.dialect.Update(goqu.T("rules")).
		Set(goqu.Record{"state": string(lifecycle.Superseded), "updated_at": goqu.L("NOW()")}).
		Where(where...)
	sqlStr, args, err := ds.ToSQL()
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, sqlStr, args...)
	return err
}

// RetireRule marks a rule Retired (§4.7: "on delete; the runner must no
// longer consider retired rules in subsequent requests").
func (s *Store) RetireRule(ctx context.Context, id int64) (bool, error) {
	if err := requireTransition(lifecycle.Active, lifecycle.Retired); err != nil {
		return false, err
	}
	ds := s.dialect.Update(goqu.T("rules")).
		Set(goqu.Record{"state": string(lifecycle.Retired), "updated_at": goqu.L("NOW()")}).
		Where(goqu.C("id").Eq(id), goqu.C("state").Eq(string(lifecycle.Active)))
	sqlStr, args, err := ds.ToSQL()
	if err != nil {
		return false, err
	}
	result, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return false, common.NewErrStoreFailure(err.Error())
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// TypeScopedRules lists active type-scoped rules (resource_id IS NULL) for
// a (realm, resource type, action) pair whose subject matches, either by
// role_id in roleIDs or by principal_id in principalIDs (§4.4 level 2). principalIDs
// always includes the anonymous principal id 0 alongside the requesting
// principal's own id (§4.4: "The anonymous principal id 0 is always
// included for requests").
func (s *Store) TypeScopedRules(ctx context.Context, realmID, resourceTypeID, actionID int64, roleIDs []int64, principalIDs []int64) ([]Rule, error) {
	principalIDsAny := make([]any, len(principalIDs))
	for i, id := range principalIDs {
		principalIDsAny[i] = id
	}
	subjectOr := goqu.Or(
		goqu.C("principal_id").In(principalIDsAny...),
	)
	if len(roleIDs) > 0 {
		ids := make([]any, len(roleIDs))
		for i, id := range roleIDs {
			ids[i] = id
		}
		subjectOr = goqu.Or(subjectOr, goqu.C("role_id").In(ids...))
	}

	ds := s.dialect.From(goqu.T("rules")).
		Select(goqu.C("id"), goqu.C("role_id"), goqu.C("principal_id"), goqu.C("resource_id"),
			goqu.C("dsl_json"), goqu.C("compiled_sql"), goqu.C("compiled_params"), goqu.C("compiled_hash"), goqu.C("updated_at")).
		Where(
			goqu.C("realm_id").Eq(realmID),
			goqu.C("resource_type_id").Eq(resourceTypeID),
			goqu.C("action_id").Eq(actionID),
			goqu.C("resource_id").IsNull(),
			goqu.C("state").Eq(string(lifecycle.Active)),
			subjectOr,
		)
	return s.queryRules(ctx, ds, realmID, resourceTypeID, actionID)
}

// ResourceScopedRules lists active resource-scoped rules for subjects in
// roleIDs/principalIDs (§4.4 level 3). When resourceIDs is non-nil, results
// are further restricted to that set ("restricted by resource.id IN (...)");
// a nil slice means no restriction (every resource-scoped rule for the
// tuple), which is the shape needed when the request carried no
// external_resource_ids to narrow the candidate set up front.
func (s *Store) ResourceScopedRules(ctx context.Context, realmID, resourceTypeID, actionID int64, roleIDs []int64, principalIDs []int64, resourceIDs []int64) ([]Rule, error) {
	principalIDsAny := make([]any, len(principalIDs))
	for i, id := range principalIDs {
		principalIDsAny[i] = id
	}
	subjectOr := goqu.Or(goqu.C("principal_id").In(principalIDsAny...))
	if len(roleIDs) > 0 {
		roleIDsAny := make([]any, len(roleIDs))
		for i, id := range roleIDs {
			roleIDsAny[i] = id
		}
		subjectOr = goqu.Or(subjectOr, goqu.C("role_id").In(roleIDsAny...))
	}

	exprs := []goqu.Expression{
		goqu.C("realm_id").Eq(realmID),
		goqu.C("resource_type_id").Eq(resourceTypeID),
		goqu.C("action_id").Eq(actionID),
		goqu.C("resource_id").IsNotNull(),
		goqu.C("state").Eq(string(lifecycle.Active)),
		subjectOr,
	}
	if resourceIDs != nil {
		if len(resourceIDs) == 0 {
			return nil, nil
		}
		ids := make([]any, len(resourceIDs))
		for i, id := range resourceIDs {
			ids[i] = id
		}
		exprs = append(exprs, goqu.C("resource_id").In(ids...))
	}

	ds := s.dialect.From(goqu.T("rules")).
		Select(goqu.C("id"), goqu.C("role_id"), goqu.C("principal_id"), goqu.C("resource_id"),
			goqu.C("dsl_json"), goqu.C("compiled_sql"), goqu.C("compiled_params"), goqu.C("compiled_hash"), goqu.C("updated_at")).
		Where(exprs...)
	return s.queryRules(ctx, ds, realmID, resourceTypeID, actionID)
}

func (s *Store) queryRules(ctx context.Context, ds *goqu.SelectDataset, realmID, resourceTypeID, actionID int64) ([]Rule, error) {
	sqlStr, args, err := ds.ToSQL()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, common.NewErrStoreFailure(err.Error())
	}
	defer func() { _ = rows.Close() }()

	var out []Rule
	for rows.Next() {
		var (
			r              Rule
			roleID         sql.NullInt64
			principalID    sql.NullInt64
			resourceID     sql.NullInt64
			compiledParams []byte
		)
		if err := rows.Scan(&r.ID, &roleID, &principalID, &resourceID, &r.DSL, &r.CompiledSQL, &compiledParams, &r.CompiledHash, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.RealmID, r.ResourceTypeID, r.ActionID = realmID, resourceTypeID, actionID
		r.RoleID = fromNullInt64(roleID)
		r.PrincipalID = fromNullInt64(principalID)
		r.ResourceID = fromNullInt64(resourceID)
		r.State = lifecycle.Active
		if err := common.Unmarshal(compiledParams, &r.CompiledParams); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func fromNullInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	id := v.Int64
	return &id
}

// requireTransition validates a lifecycle edge (§4.7) before a mutation is
// allowed to apply it, rather than trusting the caller's WHERE clause alone.
func requireTransition(current, next lifecycle.State) error {
	if lifecycle.IsTerminal(current) {
		return common.NewErrStoreFailure(fmt.Sprintf("rule state %q is terminal", current))
	}
	if err := lifecycle.Transition(current, next); err != nil {
		return common.NewErrStoreFailure(err.Error())
	}
	return nil
}

// nullableEq builds an equality expression that also matches NULL=NULL,
// since Postgres' own `=` never does; needed so re-creating a type-scoped
// rule (both role_id and resource_id NULL) correctly finds its predecessor.
func nullableEq(col string, v *int64) goqu.Expression {
	if v == nil {
		return goqu.C(col).IsNull()
	}
	return goqu.C(col).Eq(*v)
}
