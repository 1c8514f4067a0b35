package runner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eclipse-basyx/abac-policy-core/internal/audit"
	"github.com/eclipse-basyx/abac-policy-core/internal/cache"
	"github.com/eclipse-basyx/abac-policy-core/internal/policy"
	"github.com/eclipse-basyx/abac-policy-core/internal/store"
	"github.com/eclipse-basyx/abac-policy-core/internal/waterfall"
)

type fakeResolver struct {
	actions map[string]cache.ActionEntry
	types   map[string]cache.TypeEntry
	roles   map[string]cache.RoleEntry
	extIDs  map[cache.ExternalIDKey]int64
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		actions: map[string]cache.ActionEntry{},
		types:   map[string]cache.TypeEntry{},
		roles:   map[string]cache.RoleEntry{},
		extIDs:  map[cache.ExternalIDKey]int64{},
	}
}

func (f *fakeResolver) Action(ctx context.Context, realm, name string) (cache.ActionEntry, bool, error) {
	e, ok := f.actions[name]
	return e, ok, nil
}

func (f *fakeResolver) Type(ctx context.Context, realm, name string) (cache.TypeEntry, bool, error) {
	e, ok := f.types[name]
	return e, ok, nil
}

func (f *fakeResolver) Role(ctx context.Context, realm, name string) (cache.RoleEntry, bool, error) {
	e, ok := f.roles[name]
	return e, ok, nil
}

func (f *fakeResolver) ExternalID(ctx context.Context, realm string, key cache.ExternalIDKey) (int64, bool, error) {
	id, ok := f.extIDs[key]
	return id, ok, nil
}

type fakeStore struct {
	realmID        int64
	principals     map[string]int64
	roleIDs        map[int64][]int64
	typeScoped     []store.Rule
	resourceScoped []store.Rule
	externalIDs    map[int64]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		realmID:     1,
		principals:  map[string]int64{},
		roleIDs:     map[int64][]int64{},
		externalIDs: map[int64]string{},
	}
}

func (f *fakeStore) RealmByName(ctx context.Context, name string) (int64, bool, error) {
	return f.realmID, true, nil
}

func (f *fakeStore) PrincipalByUsername(ctx context.Context, realmID int64, username string) (int64, bool, error) {
	id, ok := f.principals[username]
	return id, ok, nil
}

func (f *fakeStore) PrincipalAttributes(ctx context.Context, principalID int64) (map[string]any, error) {
	return map[string]any{}, nil
}

func (f *fakeStore) RoleIDsForPrincipal(ctx context.Context, principalID int64) ([]int64, error) {
	return f.roleIDs[principalID], nil
}

func (f *fakeStore) ExternalIDsForResources(ctx context.Context, realmID, resourceTypeID int64, resourceIDs []int64) (map[int64]string, error) {
	out := map[int64]string{}
	for _, id := range resourceIDs {
		if ext, ok := f.externalIDs[id]; ok {
			out[id] = ext
		}
	}
	return out, nil
}

func (f *fakeStore) Exists(ctx context.Context, realmID, resourceTypeID int64, pred store.CombinedPredicate, resourceIDs []int64) (bool, error) {
	return len(resourceIDs) > 0, nil
}

func (f *fakeStore) MatchingResourceIDs(ctx context.Context, realmID, resourceTypeID int64, pred store.CombinedPredicate, resourceIDs []int64) ([]int64, error) {
	return resourceIDs, nil
}

func (f *fakeStore) TypeScopedRules(ctx context.Context, realmID, resourceTypeID, actionID int64, roleIDs []int64, principalIDs []int64) ([]store.Rule, error) {
	return f.typeScoped, nil
}

func (f *fakeStore) ResourceScopedRules(ctx context.Context, realmID, resourceTypeID, actionID int64, roleIDs []int64, principalIDs []int64, resourceIDs []int64) ([]store.Rule, error) {
	return f.resourceScoped, nil
}

func newTestRunner(resolver *fakeResolver, s *fakeStore) *Runner {
	q := audit.NewQueue(context.Background(), 16, discardSink{})
	return New(resolver, s, q, 4)
}

type discardSink struct{}

func (discardSink) Write(ctx context.Context, e audit.Entry) error { return nil }

func TestCheckAccess_PublicTypeGrantsDecision(t *testing.T) {
	resolver := newFakeResolver()
	resolver.actions["view"] = cache.ActionEntry{ID: 1}
	resolver.types["document"] = cache.TypeEntry{ID: 1, IsPublic: true}
	s := newFakeStore()
	r := newTestRunner(resolver, s)

	resp, err := r.CheckAccess(context.Background(), CheckAccessRequest{
		RealmName: "acme",
		ReqAccess: []AccessItem{{ResourceTypeName: "document", ActionName: "view", ReturnType: Decision}},
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, true, resp.Results[0].Answer)
}

func TestCheckAccess_UnknownActionDeniesDecision(t *testing.T) {
	resolver := newFakeResolver()
	resolver.types["document"] = cache.TypeEntry{ID: 1}
	s := newFakeStore()
	r := newTestRunner(resolver, s)

	resp, err := r.CheckAccess(context.Background(), CheckAccessRequest{
		RealmName: "acme",
		ReqAccess: []AccessItem{{ResourceTypeName: "document", ActionName: "nonexistent", ReturnType: Decision}},
	})
	require.NoError(t, err)
	assert.Equal(t, false, resp.Results[0].Answer)
}

func TestCheckAccess_UnknownActionDeniesIDList(t *testing.T) {
	resolver := newFakeResolver()
	resolver.types["document"] = cache.TypeEntry{ID: 1}
	s := newFakeStore()
	r := newTestRunner(resolver, s)

	resp, err := r.CheckAccess(context.Background(), CheckAccessRequest{
		RealmName: "acme",
		ReqAccess: []AccessItem{{ResourceTypeName: "document", ActionName: "nonexistent", ReturnType: IDList}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{}, resp.Results[0].Answer)
}

func TestCheckAccess_ResultsPreserveRequestOrder(t *testing.T) {
	resolver := newFakeResolver()
	resolver.actions["view"] = cache.ActionEntry{ID: 1}
	resolver.types["a"] = cache.TypeEntry{ID: 1, IsPublic: true}
	resolver.types["b"] = cache.TypeEntry{ID: 2, IsPublic: false}
	resolver.types["c"] = cache.TypeEntry{ID: 3, IsPublic: true}
	s := newFakeStore()
	r := newTestRunner(resolver, s)

	resp, err := r.CheckAccess(context.Background(), CheckAccessRequest{
		RealmName: "acme",
		ReqAccess: []AccessItem{
			{ResourceTypeName: "a", ActionName: "view", ReturnType: Decision},
			{ResourceTypeName: "b", ActionName: "view", ReturnType: Decision},
			{ResourceTypeName: "c", ActionName: "view", ReturnType: Decision},
		},
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)
	assert.Equal(t, "a", resp.Results[0].ResourceTypeName)
	assert.Equal(t, "b", resp.Results[1].ResourceTypeName)
	assert.Equal(t, "c", resp.Results[2].ResourceTypeName)
}

func TestCheckAccess_AnonymousRuleGrantsUnauthenticatedRequest(t *testing.T) {
	resolver := newFakeResolver()
	resolver.actions["view"] = cache.ActionEntry{ID: 1}
	resolver.types["document"] = cache.TypeEntry{ID: 1}
	s := newFakeStore()
	s.typeScoped = []store.Rule{
		{ID: 1, DSL: []byte(`{"op":"and","conditions":[]}`)},
	}
	r := newTestRunner(resolver, s)

	resp, err := r.CheckAccess(context.Background(), CheckAccessRequest{
		RealmName: "acme",
		ReqAccess: []AccessItem{{ResourceTypeName: "document", ActionName: "view", ReturnType: Decision}},
	})
	require.NoError(t, err)
	assert.Equal(t, true, resp.Results[0].Answer)
}

func TestGetAuthorizationConditions_PublicTypeIsGrantedAll(t *testing.T) {
	resolver := newFakeResolver()
	resolver.actions["view"] = cache.ActionEntry{ID: 1}
	resolver.types["document"] = cache.TypeEntry{ID: 1, IsPublic: true}
	s := newFakeStore()
	r := newTestRunner(resolver, s)

	resp, err := r.GetAuthorizationConditions(context.Background(), ConditionsRequest{
		RealmName: "acme", ResourceTypeName: "document", ActionName: "view",
	})
	require.NoError(t, err)
	assert.Equal(t, FilterGrantedAll, resp.FilterType)
	assert.Nil(t, resp.ConditionsDSL)
}

func TestGetAuthorizationConditions_NoRulesIsDeniedAll(t *testing.T) {
	resolver := newFakeResolver()
	resolver.actions["view"] = cache.ActionEntry{ID: 1}
	resolver.types["document"] = cache.TypeEntry{ID: 1}
	s := newFakeStore()
	r := newTestRunner(resolver, s)

	resp, err := r.GetAuthorizationConditions(context.Background(), ConditionsRequest{
		RealmName: "acme", ResourceTypeName: "document", ActionName: "view",
	})
	require.NoError(t, err)
	assert.Equal(t, FilterDeniedAll, resp.FilterType)
}

func TestGetAuthorizationConditions_ResidualRuleReturnsConditions(t *testing.T) {
	resolver := newFakeResolver()
	resolver.actions["view"] = cache.ActionEntry{ID: 1}
	resolver.types["document"] = cache.TypeEntry{ID: 1}
	s := newFakeStore()
	s.typeScoped = []store.Rule{
		{ID: 1, DSL: []byte(`{"op":"=","attr":"status","val":"active"}`)},
	}
	r := newTestRunner(resolver, s)

	resp, err := r.GetAuthorizationConditions(context.Background(), ConditionsRequest{
		RealmName: "acme", ResourceTypeName: "document", ActionName: "view",
	})
	require.NoError(t, err)
	assert.Equal(t, FilterConditions, resp.FilterType)
	require.NotNil(t, resp.ConditionsDSL)
	assert.False(t, resp.HasContextRefs)
}

func TestGetAuthorizationConditions_ContextSourcedRuleSetsHasContextRefs(t *testing.T) {
	resolver := newFakeResolver()
	resolver.actions["view"] = cache.ActionEntry{ID: 1}
	resolver.types["document"] = cache.TypeEntry{ID: 1}
	s := newFakeStore()
	s.typeScoped = []store.Rule{
		{ID: 1, DSL: []byte(`{"op":"and","conditions":[
			{"op":"=","attr":"status","val":"active"},
			{"op":"=","attr":"business_hours","source":"context","val":true}
		]}`)},
	}
	r := newTestRunner(resolver, s)

	resp, err := r.GetAuthorizationConditions(context.Background(), ConditionsRequest{
		RealmName: "acme", ResourceTypeName: "document", ActionName: "view",
		AuthContext: AuthContext{Context: map[string]any{"business_hours": true}},
	})
	require.NoError(t, err)
	assert.Equal(t, FilterConditions, resp.FilterType)
	assert.True(t, resp.HasContextRefs)
}

func TestCombinePredicate_ResourceScopedGrantRestrictsToItsResource(t *testing.T) {
	granted := int64(2)
	candidates := []waterfall.CandidateRule{
		{RuleID: 1, ResourceID: &granted, Tree: policy.Condition{Op: policy.OpAnd}},
	}

	pred, err := combinePredicate(candidates)
	require.NoError(t, err)
	// Spec §8 scenario 5 (anonymous exception): a level-3 grant restricted to
	// one resource must never widen into an unconditioned TRUE clause that
	// would match every requested resource.
	assert.Contains(t, pred.SQL, "resource.id = $1")
	assert.Contains(t, pred.SQL, "TRUE")
	assert.Equal(t, []any{int64(2)}, pred.Params)
}

func TestResolveSubject_UnknownPrincipalErrors(t *testing.T) {
	resolver := newFakeResolver()
	resolver.actions["view"] = cache.ActionEntry{ID: 1}
	resolver.types["document"] = cache.TypeEntry{ID: 1}
	s := newFakeStore()
	r := newTestRunner(resolver, s)

	_, err := r.GetAuthorizationConditions(context.Background(), ConditionsRequest{
		RealmName: "acme", ResourceTypeName: "document", ActionName: "view", PrincipalUsername: "ghost",
	})
	require.Error(t, err)
}
