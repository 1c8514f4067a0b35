// Package runner implements the Authorization Runner (§4.5, §6): the
// orchestration layer that wires the Name->ID cache, the Waterfall
// Selector, the Residual Evaluator, and the relational store into the two
// external operations, check_access and get_authorization_conditions.
package runner

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eclipse-basyx/abac-policy-core/internal/audit"
	"github.com/eclipse-basyx/abac-policy-core/internal/cache"
	"github.com/eclipse-basyx/abac-policy-core/internal/common"
	"github.com/eclipse-basyx/abac-policy-core/internal/compiler"
	"github.com/eclipse-basyx/abac-policy-core/internal/policy"
	"github.com/eclipse-basyx/abac-policy-core/internal/residual"
	"github.com/eclipse-basyx/abac-policy-core/internal/store"
	"github.com/eclipse-basyx/abac-policy-core/internal/waterfall"
)

// ReturnType selects whether an access item answers with a decision or
// with the authorized id list (§4.5).
type ReturnType string

const (
	Decision ReturnType = "decision"
	IDList   ReturnType = "id_list"
)

// AccessItem is one entry of check_access's req_access list (§6).
type AccessItem struct {
	ResourceTypeName    string
	ActionName          string
	ReturnType          ReturnType
	ExternalResourceIDs []string
}

// AuthContext carries the request's already-resolved principal/context
// attribute bindings (§4.3's principal_bindings/context_bindings), keyed
// the same way scenario 3 names them: auth_context.principal.*,
// auth_context.context.*.
type AuthContext struct {
	Principal residual.Bindings
	Context   residual.Bindings
}

// CheckAccessRequest is check_access's request (§6). PrincipalUsername
// empty means an anonymous request.
type CheckAccessRequest struct {
	RealmName         string
	PrincipalUsername string
	RoleNames         []string
	AuthContext       AuthContext
	ReqAccess         []AccessItem
}

// AccessResult is one entry of check_access's response (§6). Answer is a
// bool for Decision items, or a []string of external ids for IDList items.
type AccessResult struct {
	ResourceTypeName string
	ActionName       string
	Answer           any
}

// CheckAccessResponse is check_access's response.
type CheckAccessResponse struct {
	Results []AccessResult
}

// FilterType is get_authorization_conditions' answer shape (§6).
type FilterType string

const (
	FilterGrantedAll FilterType = "granted_all"
	FilterDeniedAll  FilterType = "denied_all"
	FilterConditions FilterType = "conditions"
)

// ConditionsRequest is get_authorization_conditions' request (§6).
type ConditionsRequest struct {
	RealmName         string
	ResourceTypeName  string
	ActionName        string
	PrincipalUsername string
	RoleNames         []string
	AuthContext       AuthContext
}

// ConditionsResponse is get_authorization_conditions' response. Only
// resource-scoped residuals appear in ConditionsDSL (§6).
type ConditionsResponse struct {
	FilterType     FilterType
	ConditionsDSL  *policy.Condition
	HasContextRefs bool
}

// DataStore is every store.Store method the runner needs, declared as an
// interface so it can be exercised without a live database.
type DataStore interface {
	waterfall.RuleStore
	RealmByName(ctx context.Context, name string) (int64, bool, error)
	PrincipalByUsername(ctx context.Context, realmID int64, username string) (int64, bool, error)
	PrincipalAttributes(ctx context.Context, principalID int64) (map[string]any, error)
	RoleIDsForPrincipal(ctx context.Context, principalID int64) ([]int64, error)
	ExternalIDsForResources(ctx context.Context, realmID, resourceTypeID int64, resourceIDs []int64) (map[int64]string, error)
	Exists(ctx context.Context, realmID, resourceTypeID int64, pred store.CombinedPredicate, resourceIDs []int64) (bool, error)
	MatchingResourceIDs(ctx context.Context, realmID, resourceTypeID int64, pred store.CombinedPredicate, resourceIDs []int64) ([]int64, error)
}

// PrincipalResolver is the Name->ID cache surface the runner needs, declared
// narrowly here so tests can fake just what they need.
type PrincipalResolver interface {
	Action(ctx context.Context, realm, name string) (cache.ActionEntry, bool, error)
	Type(ctx context.Context, realm, name string) (cache.TypeEntry, bool, error)
	Role(ctx context.Context, realm, name string) (cache.RoleEntry, bool, error)
	ExternalID(ctx context.Context, realm string, key cache.ExternalIDKey) (int64, bool, error)
}

// Runner orchestrates one check_access/get_authorization_conditions call.
type Runner struct {
	cache PrincipalResolver
	store DataStore
	audit *audit.Queue

	// maxConcurrency bounds how many req_access items run in parallel
	// within one request (§5: "bounded concurrency per request").
	maxConcurrency int
}

// New builds a Runner. maxConcurrency <= 0 defaults to 8.
func New(c PrincipalResolver, s DataStore, q *audit.Queue, maxConcurrency int) *Runner {
	if maxConcurrency <= 0 {
		maxConcurrency = 8
	}
	return &Runner{cache: c, store: s, audit: q, maxConcurrency: maxConcurrency}
}

// CheckAccess implements check_access (§4.5, §6): each req_access item is
// resolved independently and concurrently; results are reassembled in the
// request's declared order (§5).
func (r *Runner) CheckAccess(ctx context.Context, req CheckAccessRequest) (CheckAccessResponse, error) {
	realmID, found, err := r.store.RealmByName(ctx, req.RealmName)
	if err != nil {
		return CheckAccessResponse{}, common.NewErrStoreFailure(err.Error())
	}
	if !found {
		return CheckAccessResponse{}, common.NewErrUnknownEntity(fmt.Sprintf("realm %q", req.RealmName))
	}

	principalID, roleIDs, err := r.resolveSubject(ctx, realmID, req.RealmName, req.PrincipalUsername, req.RoleNames)
	if err != nil {
		return CheckAccessResponse{}, err
	}
	principalBindings, err := r.principalBindings(ctx, principalID, req.AuthContext.Principal)
	if err != nil {
		return CheckAccessResponse{}, err
	}

	results := make([]AccessResult, len(req.ReqAccess))
	sem := make(chan struct{}, r.maxConcurrency)
	var wg sync.WaitGroup
	for i, item := range req.ReqAccess {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, item AccessItem) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = r.resolveItem(ctx, req, realmID, principalID, roleIDs, principalBindings, item)
		}(i, item)
	}
	wg.Wait()

	return CheckAccessResponse{Results: results}, nil
}

// principalBindings is the residual evaluator's principal-sourced bindings
// (§4.3): the principal's stored attributes, overridden per-key by whatever
// the request's auth_context.principal supplies.
func (r *Runner) principalBindings(ctx context.Context, principalID int64, override residual.Bindings) (residual.Bindings, error) {
	stored, err := r.store.PrincipalAttributes(ctx, principalID)
	if err != nil {
		return nil, common.NewErrStoreFailure(err.Error())
	}
	bindings := make(residual.Bindings, len(stored)+len(override))
	for k, v := range stored {
		bindings[k] = v
	}
	for k, v := range override {
		bindings[k] = v
	}
	return bindings, nil
}

func (r *Runner) resolveItem(ctx context.Context, req CheckAccessRequest, realmID, principalID int64, roleIDs []int64, principalBindings residual.Bindings, item AccessItem) AccessResult {
	result := AccessResult{ResourceTypeName: item.ResourceTypeName, ActionName: item.ActionName}
	correlationID := uuid.New().String()

	actionEntry, found, err := r.cache.Action(ctx, req.RealmName, item.ActionName)
	if err != nil {
		logFailure(correlationID, "ActionLookup", err)
	}
	if err != nil || !found {
		result.Answer = deniedAnswer(item.ReturnType)
		return result
	}
	typeEntry, found, err := r.cache.Type(ctx, req.RealmName, item.ResourceTypeName)
	if err != nil {
		logFailure(correlationID, "TypeLookup", err)
	}
	if err != nil || !found {
		result.Answer = deniedAnswer(item.ReturnType)
		return result
	}

	resourceIDs, ok := r.resolveExternalIDs(ctx, req.RealmName, typeEntry.ID, item.ExternalResourceIDs)
	if !ok {
		result.Answer = deniedAnswer(item.ReturnType)
		return result
	}

	subject := waterfall.NewSubject(principalID, roleIDs)
	outcome, err := waterfall.Select(ctx, typeEntry, r.store, realmID, typeEntry.ID, actionEntry.ID, subject,
		principalBindings, req.AuthContext.Context, resourceIDs)
	if err != nil {
		logFailure(correlationID, "WaterfallSelect", err)
		result.Answer = deniedAnswer(item.ReturnType)
		return result
	}

	granted := outcome.GrantedAll
	var answer any
	switch {
	case outcome.GrantedAll:
		answer = r.grantedAnswer(ctx, req.RealmName, realmID, typeEntry.ID, item, resourceIDs)
	case len(outcome.Candidates) == 0:
		answer = deniedAnswer(item.ReturnType)
	default:
		pred, err := combinePredicate(outcome.Candidates)
		if err != nil {
			logFailure(correlationID, "CombinePredicate", err)
			answer = deniedAnswer(item.ReturnType)
			break
		}
		if item.ReturnType == IDList {
			ids, err := r.store.MatchingResourceIDs(ctx, realmID, typeEntry.ID, pred, resourceIDs)
			if err != nil {
				logFailure(correlationID, "MatchingResourceIDs", err)
				answer = deniedAnswer(item.ReturnType)
				break
			}
			answer = r.externalIDs(ctx, realmID, typeEntry.ID, ids)
		} else {
			exists, err := r.store.Exists(ctx, realmID, typeEntry.ID, pred, resourceIDs)
			if err != nil {
				logFailure(correlationID, "Exists", err)
				answer = deniedAnswer(item.ReturnType)
				break
			}
			granted = exists
			answer = exists
		}
	}
	result.Answer = answer

	if ctx.Err() != nil {
		return result
	}
	r.audit.Enqueue(audit.Entry{
		CorrelationID: correlationID,
		Realm:         req.RealmName,
		PrincipalID:   principalID,
		ResourceType:  item.ResourceTypeName,
		Action:        item.ActionName,
		Granted:       granted,
		Timestamp:     time.Now(),
	})
	return result
}

// logFailure records a genuine failure (as opposed to a legitimate deny) in
// the engine's error taxonomy shape, tagged with the request's correlation
// id so it can be matched up with the audit entry for the same item.
func logFailure(correlationID, kind string, err error) {
	eh := common.NewErrorHandler(kind, err, "", correlationID, time.Now().UTC().Format(time.RFC3339))
	raw, marshalErr := common.MarshalJSON(eh)
	if marshalErr != nil {
		log.Printf("runner: %s failed (correlation_id=%s): %v", kind, correlationID, err)
		return
	}
	log.Printf("runner: %s", raw)
}

// GetAuthorizationConditions implements get_authorization_conditions (§6):
// it runs the same waterfall selection as check_access but, instead of
// touching the resource table, hands back the residual filter the caller
// should apply to its own query.
func (r *Runner) GetAuthorizationConditions(ctx context.Context, req ConditionsRequest) (ConditionsResponse, error) {
	realmID, found, err := r.store.RealmByName(ctx, req.RealmName)
	if err != nil {
		return ConditionsResponse{}, common.NewErrStoreFailure(err.Error())
	}
	if !found {
		return ConditionsResponse{}, common.NewErrUnknownEntity(fmt.Sprintf("realm %q", req.RealmName))
	}

	actionEntry, found, err := r.cache.Action(ctx, req.RealmName, req.ActionName)
	if err != nil {
		return ConditionsResponse{}, err
	}
	if !found {
		return ConditionsResponse{FilterType: FilterDeniedAll}, nil
	}
	typeEntry, found, err := r.cache.Type(ctx, req.RealmName, req.ResourceTypeName)
	if err != nil {
		return ConditionsResponse{}, err
	}
	if !found {
		return ConditionsResponse{FilterType: FilterDeniedAll}, nil
	}

	principalID, roleIDs, err := r.resolveSubject(ctx, realmID, req.RealmName, req.PrincipalUsername, req.RoleNames)
	if err != nil {
		return ConditionsResponse{}, err
	}
	principalBindings, err := r.principalBindings(ctx, principalID, req.AuthContext.Principal)
	if err != nil {
		return ConditionsResponse{}, err
	}
	subject := waterfall.NewSubject(principalID, roleIDs)

	outcome, err := waterfall.Select(ctx, typeEntry, r.store, realmID, typeEntry.ID, actionEntry.ID, subject,
		principalBindings, req.AuthContext.Context, nil)
	if err != nil {
		return ConditionsResponse{}, err
	}

	if outcome.GrantedAll {
		return ConditionsResponse{FilterType: FilterGrantedAll}, nil
	}
	if len(outcome.Candidates) == 0 {
		return ConditionsResponse{FilterType: FilterDeniedAll}, nil
	}

	tree := combineConditionTree(outcome.Candidates)
	hasContextRefs, err := r.anyRuleReferencesContext(ctx, realmID, typeEntry.ID, actionEntry.ID, subject)
	if err != nil {
		return ConditionsResponse{}, err
	}
	return ConditionsResponse{FilterType: FilterConditions, ConditionsDSL: tree, HasContextRefs: hasContextRefs}, nil
}

// combineConditionTree ORs together each candidate's residual tree,
// restricting a resource-scoped candidate's clause to its own resource id
// (§6: conditions_dsl is a single DSL tree over source=resource leaves).
func combineConditionTree(candidates []waterfall.CandidateRule) *policy.Condition {
	clauses := make([]policy.Condition, 0, len(candidates))
	for _, c := range candidates {
		tree := c.Tree
		if c.ResourceID != nil {
			idLeaf := policy.Condition{Op: policy.OpEq, Source: policy.SourceResource, Attr: "id", Val: float64(*c.ResourceID)}
			tree = policy.Condition{Op: policy.OpAnd, Conditions: []policy.Condition{idLeaf, tree}}
		}
		clauses = append(clauses, tree)
	}
	if len(clauses) == 1 {
		return &clauses[0]
	}
	combined := policy.Condition{Op: policy.OpOr, Conditions: clauses}
	return &combined
}

// anyRuleReferencesContext reports whether any rule the waterfall would
// have matched for this tuple carries a source=context leaf, so a caller
// knows the filter it just received may change if request context changes
// (§4.3, §6: a filter folded from context bindings is still context-shaped).
func (r *Runner) anyRuleReferencesContext(ctx context.Context, realmID, resourceTypeID, actionID int64, subject waterfall.Subject) (bool, error) {
	typeScoped, err := r.store.TypeScopedRules(ctx, realmID, resourceTypeID, actionID, subject.RoleIDs, subject.PrincipalIDs)
	if err != nil {
		return false, err
	}
	resourceScoped, err := r.store.ResourceScopedRules(ctx, realmID, resourceTypeID, actionID, subject.RoleIDs, subject.PrincipalIDs, nil)
	if err != nil {
		return false, err
	}
	for _, rule := range append(typeScoped, resourceScoped...) {
		var c policy.Condition
		if err := c.UnmarshalJSON(rule.DSL); err != nil {
			return false, err
		}
		if conditionReferencesContext(c) {
			return true, nil
		}
	}
	return false, nil
}

func conditionReferencesContext(c policy.Condition) bool {
	if c.Source == policy.SourceContext {
		return true
	}
	for _, child := range c.Conditions {
		if conditionReferencesContext(child) {
			return true
		}
	}
	return false
}

func (r *Runner) grantedAnswer(ctx context.Context, realmName string, realmID, resourceTypeID int64, item AccessItem, resourceIDs []int64) any {
	if item.ReturnType == Decision {
		return true
	}
	if len(resourceIDs) > 0 {
		return item.ExternalResourceIDs
	}
	ids, err := r.store.MatchingResourceIDs(ctx, realmID, resourceTypeID, store.CombinedPredicate{SQL: "TRUE"}, nil)
	if err != nil {
		return []string{}
	}
	return r.externalIDs(ctx, realmID, resourceTypeID, ids)
}

func (r *Runner) externalIDs(ctx context.Context, realmID, resourceTypeID int64, ids []int64) []string {
	mapping, err := r.store.ExternalIDsForResources(ctx, realmID, resourceTypeID, ids)
	if err != nil {
		return []string{}
	}
	out := make([]string, 0, len(mapping))
	for _, id := range ids {
		if ext, ok := mapping[id]; ok {
			out = append(out, ext)
		}
	}
	return out
}

// resolveExternalIDs resolves item.ExternalResourceIDs to internal ids up
// front (§4.5 step 5); unresolved ids are silently excluded, never
// reported as errors. An item that supplied no external ids gets nil, true
// (no restriction). Returns ok=false when ids were supplied but none of
// them resolved, so the item is denied rather than left unrestricted.
func (r *Runner) resolveExternalIDs(ctx context.Context, realm string, typeID int64, externalIDs []string) ([]int64, bool) {
	if len(externalIDs) == 0 {
		return nil, true
	}
	ids := make([]int64, 0, len(externalIDs))
	for _, ext := range externalIDs {
		id, found, err := r.cache.ExternalID(ctx, realm, cache.ExternalIDKey{TypeID: typeID, ExternalID: ext})
		if err != nil || !found {
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, false
	}
	return ids, true
}

// resolveSubject resolves the request's principal_username to an internal
// id and its role_names to role ids via the cache (§4.6), falling back to
// the principal's assigned roles when the request names none explicitly.
// An empty username is the anonymous principal (§4.4).
func (r *Runner) resolveSubject(ctx context.Context, realmID int64, realmName, username string, roleNames []string) (int64, []int64, error) {
	if username == "" {
		return store.AnonymousPrincipalID, nil, nil
	}
	principalID, found, err := r.store.PrincipalByUsername(ctx, realmID, username)
	if err != nil {
		return 0, nil, common.NewErrStoreFailure(err.Error())
	}
	if !found {
		return 0, nil, common.NewErrUnknownEntity(fmt.Sprintf("principal %q", username))
	}

	if len(roleNames) == 0 {
		roleIDs, err := r.store.RoleIDsForPrincipal(ctx, principalID)
		if err != nil {
			return 0, nil, common.NewErrStoreFailure(err.Error())
		}
		return principalID, roleIDs, nil
	}

	roleIDs := make([]int64, 0, len(roleNames))
	for _, name := range roleNames {
		entry, found, err := r.cache.Role(ctx, realmName, name)
		if err != nil || !found {
			continue
		}
		roleIDs = append(roleIDs, entry.ID)
	}
	return principalID, roleIDs, nil
}

// deniedAnswer is the zero-value answer for a ReturnType: false for a
// decision, an empty list for an id_list (§6: "the decision is false /
// empty list for the affected item").
func deniedAnswer(rt ReturnType) any {
	if rt == IDList {
		return []string{}
	}
	return false
}

// combinePredicate disjoins every candidate's residual fragment into a
// single boolean expression over `resource` (§4.5 step 3), restricting
// each resource-scoped candidate's clause to its own resource id.
func combinePredicate(candidates []waterfall.CandidateRule) (store.CombinedPredicate, error) {
	var params []any
	clauses := make([]string, 0, len(candidates))
	for _, c := range candidates {
		frag, err := compiler.Compile(c.Tree, nil)
		if err != nil {
			return store.CombinedPredicate{}, fmt.Errorf("runner: compile residual for rule %d: %w", c.RuleID, err)
		}
		fragSQL := compiler.RenumberPlaceholders(frag.SQL, len(params))
		params = append(params, frag.Params...)
		if c.ResourceID != nil {
			params = append(params, *c.ResourceID)
			clauses = append(clauses, fmt.Sprintf("(resource.id = $%d AND %s)", len(params), fragSQL))
		} else {
			clauses = append(clauses, fmt.Sprintf("(%s)", fragSQL))
		}
	}
	sql := "FALSE"
	if len(clauses) > 0 {
		sql = strings.Join(clauses, " OR ")
	}
	return store.CombinedPredicate{SQL: sql, Params: params}, nil
}
