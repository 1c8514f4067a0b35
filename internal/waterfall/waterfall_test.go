package waterfall

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eclipse-basyx/abac-policy-core/internal/cache"
	"github.com/eclipse-basyx/abac-policy-core/internal/policy"
	"github.com/eclipse-basyx/abac-policy-core/internal/residual"
	"github.com/eclipse-basyx/abac-policy-core/internal/store"
)

type fakeRuleStore struct {
	typeScoped     []store.Rule
	resourceScoped []store.Rule
}

func (f *fakeRuleStore) TypeScopedRules(ctx context.Context, realmID, resourceTypeID, actionID int64, roleIDs []int64, principalIDs []int64) ([]store.Rule, error) {
	return f.typeScoped, nil
}

func (f *fakeRuleStore) ResourceScopedRules(ctx context.Context, realmID, resourceTypeID, actionID int64, roleIDs []int64, principalIDs []int64, resourceIDs []int64) ([]store.Rule, error) {
	return f.resourceScoped, nil
}

func TestSelect_Level1PublicTypeShortCircuits(t *testing.T) {
	out, err := Select(context.Background(), cache.TypeEntry{ID: 1, IsPublic: true}, &fakeRuleStore{}, 1, 1, 1, NewSubject(0, nil), nil, nil, nil)
	require.NoError(t, err)
	assert.True(t, out.GrantedAll)
	assert.Empty(t, out.Candidates)
}

func TestSelect_Level2GrantedAllShortCircuits(t *testing.T) {
	rules := &fakeRuleStore{typeScoped: []store.Rule{
		{ID: 1, DSL: []byte(`{"op":"=","attr":"dept","source":"principal","val":"Sales"}`)},
	}}
	out, err := Select(context.Background(), cache.TypeEntry{}, rules, 1, 1, 1, NewSubject(5, nil), residual.Bindings{"dept": "Sales"}, nil, nil)
	require.NoError(t, err)
	assert.True(t, out.GrantedAll)
}

func TestSelect_Level2ResidualBecomesCandidate(t *testing.T) {
	rules := &fakeRuleStore{typeScoped: []store.Rule{
		{ID: 1, DSL: []byte(`{"op":"=","attr":"status","val":"active"}`)},
	}}
	out, err := Select(context.Background(), cache.TypeEntry{}, rules, 1, 1, 1, NewSubject(5, nil), nil, nil, nil)
	require.NoError(t, err)
	assert.False(t, out.GrantedAll)
	require.Len(t, out.Candidates, 1)
	assert.Nil(t, out.Candidates[0].ResourceID)
}

func TestSelect_Level3CandidateCarriesResourceID(t *testing.T) {
	rid := int64(42)
	rules := &fakeRuleStore{resourceScoped: []store.Rule{
		{ID: 2, ResourceID: &rid, DSL: []byte(`{"op":"=","attr":"status","val":"active"}`)},
	}}
	out, err := Select(context.Background(), cache.TypeEntry{}, rules, 1, 1, 1, NewSubject(5, nil), nil, nil, []int64{42})
	require.NoError(t, err)
	require.Len(t, out.Candidates, 1)
	require.NotNil(t, out.Candidates[0].ResourceID)
	assert.Equal(t, int64(42), *out.Candidates[0].ResourceID)
}

func TestSelect_Level3GrantedAllIsScopedToItsResourceNotBlanket(t *testing.T) {
	rid := int64(2)
	rules := &fakeRuleStore{
		typeScoped: []store.Rule{
			{ID: 1, DSL: []byte(`{"op":"=","attr":"status","val":"active"}`)},
		},
		resourceScoped: []store.Rule{
			{ID: 2, ResourceID: &rid, DSL: []byte(`{"op":"=","attr":"dept","source":"principal","val":"Sales"}`)},
		},
	}
	out, err := Select(context.Background(), cache.TypeEntry{}, rules, 1, 1, 1, NewSubject(5, nil),
		residual.Bindings{"dept": "Sales"}, nil, []int64{1, 2})
	require.NoError(t, err)

	assert.False(t, out.GrantedAll, "a level-3 grant must never widen to a blanket grant")
	require.Len(t, out.Candidates, 2, "the level-2 candidate must survive alongside the level-3 grant")

	var sawGrantedResource bool
	for _, c := range out.Candidates {
		if c.ResourceID != nil && *c.ResourceID == rid {
			sawGrantedResource = true
			assert.Equal(t, policy.Condition{Op: policy.OpAnd}, c.Tree, "the granted candidate's tree must compile to an unconditional TRUE")
		}
	}
	assert.True(t, sawGrantedResource)
}

func TestSelect_DeniedAllRuleDropped(t *testing.T) {
	rules := &fakeRuleStore{typeScoped: []store.Rule{
		{ID: 1, DSL: []byte(`{"op":"=","attr":"dept","source":"principal","val":"Sales"}`)},
	}}
	out, err := Select(context.Background(), cache.TypeEntry{}, rules, 1, 1, 1, NewSubject(5, nil), residual.Bindings{"dept": "HR"}, nil, nil)
	require.NoError(t, err)
	assert.False(t, out.GrantedAll)
	assert.Empty(t, out.Candidates)
}
