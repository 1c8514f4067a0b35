package residual

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eclipse-basyx/abac-policy-core/internal/policy"
)

func decode(t *testing.T, raw string) policy.Condition {
	t.Helper()
	var c policy.Condition
	require.NoError(t, json.Unmarshal([]byte(raw), &c))
	return c
}

// Scenario 3: residual simplification.
func TestResidualize_Scenario3_SalesGrantsResidual(t *testing.T) {
	tree := decode(t, `{"op":"and","conditions":[
		{"op":"=","attr":"dept","source":"principal","val":"Sales"},
		{"op":"=","attr":"status","val":"active"}
	]}`)
	res, err := Residualize(tree, Bindings{"dept": "Sales"}, nil)
	require.NoError(t, err)
	require.Equal(t, Residual, res.Verdict)
	require.NotNil(t, res.Tree)
	assert.Equal(t, policy.OpEq, res.Tree.Op)
	assert.Equal(t, "status", res.Tree.Attr)
	assert.Equal(t, policy.SourceResource, res.Tree.Source)
}

func TestResidualize_Scenario3_HRDenies(t *testing.T) {
	tree := decode(t, `{"op":"and","conditions":[
		{"op":"=","attr":"dept","source":"principal","val":"Sales"},
		{"op":"=","attr":"status","val":"active"}
	]}`)
	res, err := Residualize(tree, Bindings{"dept": "HR"}, nil)
	require.NoError(t, err)
	assert.Equal(t, DeniedAll, res.Verdict)
}

func TestResidualize_DenyOnMissingAttribute(t *testing.T) {
	tree := decode(t, `{"op":"=","attr":"dept","source":"principal","val":"Sales"}`)
	res, err := Residualize(tree, Bindings{}, nil)
	require.NoError(t, err)
	assert.Equal(t, DeniedAll, res.Verdict)
}

func TestResidualize_OrShortCircuitsOnTrue(t *testing.T) {
	tree := decode(t, `{"op":"or","conditions":[
		{"op":"=","attr":"dept","source":"principal","val":"Sales"},
		{"op":"=","attr":"status","val":"active"}
	]}`)
	res, err := Residualize(tree, Bindings{"dept": "Sales"}, nil)
	require.NoError(t, err)
	assert.Equal(t, GrantedAll, res.Verdict)
}

func TestResidualize_PureResourceTreePassesThroughUnchanged(t *testing.T) {
	tree := decode(t, `{"op":"not","conditions":[{"op":"and","conditions":[
		{"op":"=","attr":"deleted","val":true},
		{"op":"not_in","attr":"status","val":["published","active"]}
	]}]}`)
	res, err := Residualize(tree, nil, nil)
	require.NoError(t, err)
	require.Equal(t, Residual, res.Verdict)
	assert.Equal(t, policy.OpNot, res.Tree.Op)
}

func TestResidualize_GrantedAllWhenAllLeavesReduceTrue(t *testing.T) {
	tree := decode(t, `{"op":"and","conditions":[
		{"op":"=","attr":"dept","source":"principal","val":"Sales"},
		{"op":"=","attr":"role","source":"context","val":"editor"}
	]}`)
	res, err := Residualize(tree, Bindings{"dept": "Sales"}, Bindings{"role": "editor"})
	require.NoError(t, err)
	assert.Equal(t, GrantedAll, res.Verdict)
}
