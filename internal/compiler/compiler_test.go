package compiler

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eclipse-basyx/abac-policy-core/internal/policy"
)

func mustDecode(t *testing.T, raw string) policy.Condition {
	t.Helper()
	var c policy.Condition
	require.NoError(t, json.Unmarshal([]byte(raw), &c))
	return c
}

func TestCompile_JSONPathLowering(t *testing.T) {
	c := mustDecode(t, `{"op":"=","attr":"a.b.c","val":"x"}`)
	frag, err := Compile(c, nil)
	require.NoError(t, err)
	assert.Contains(t, frag.SQL, "resource.attributes->'a'->'b'->>'c'")
	assert.Equal(t, []any{"x"}, frag.Params)
}

func TestCompile_PrincipalContextSources(t *testing.T) {
	c := mustDecode(t, `{"op":"=","attr":"dept","source":"principal","val":"Sales"}`)
	frag, err := Compile(c, nil)
	require.NoError(t, err)
	assert.Contains(t, frag.SQL, "ctx->'principal'->>'dept'")
}

func TestCompile_Determinism(t *testing.T) {
	raw := `{"op":"and","conditions":[
		{"op":"=","attr":"dept","source":"principal","val":"Sales"},
		{"op":"=","attr":"status","val":"active"}
	]}`
	c1 := mustDecode(t, raw)
	c2 := mustDecode(t, raw)
	f1, err := Compile(c1, nil)
	require.NoError(t, err)
	f2, err := Compile(c2, nil)
	require.NoError(t, err)
	assert.Equal(t, f1.SQL, f2.SQL)
	assert.Equal(t, f1.Params, f2.Params)
}

func TestCompile_InjectionSafety(t *testing.T) {
	malicious := `'; DROP TABLE rules; --`
	c := mustDecode(t, `{"op":"=","attr":"name","val":"`+jsonEscape(malicious)+`"}`)
	frag, err := Compile(c, nil)
	require.NoError(t, err)
	assert.NotContains(t, frag.SQL, "DROP TABLE")
	require.Len(t, frag.Params, 1)
	assert.Equal(t, malicious, frag.Params[0])
}

func jsonEscape(s string) string {
	b, _ := json.Marshal(s)
	return string(b[1 : len(b)-1])
}

func TestCompile_EmptyAndOrFoldToLiterals(t *testing.T) {
	c := mustDecode(t, `{"op":"and","conditions":[]}`)
	frag, err := Compile(c, nil)
	require.NoError(t, err)
	assert.Equal(t, "TRUE", frag.SQL)

	c2 := mustDecode(t, `{"op":"or","conditions":[]}`)
	frag2, err := Compile(c2, nil)
	require.NoError(t, err)
	assert.Equal(t, "FALSE", frag2.SQL)
}

func TestCompile_NotNotInComposite(t *testing.T) {
	// Scenario 6: not( and[ {=, resource, deleted, true}, {not_in, resource, status, ["published","active"]} ] )
	raw := `{"op":"not","conditions":[{"op":"and","conditions":[
		{"op":"=","attr":"deleted","val":true},
		{"op":"not_in","attr":"status","val":["published","active"]}
	]}]}`
	c := mustDecode(t, raw)
	frag, err := Compile(c, nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(frag.SQL, "NOT ("))
	assert.Contains(t, frag.SQL, "NOT IN")
	assert.Contains(t, frag.SQL, "::boolean")
}

func TestCompile_SpatialDWithin(t *testing.T) {
	c := mustDecode(t, `{"op":"st_dwithin","attr":"geometry","source":"resource","val":"$context.loc","args":5000}`)
	frag, err := Compile(c, nil)
	require.NoError(t, err)
	assert.Contains(t, frag.SQL, "ST_DWithin(resource.geometry, ")
	assert.Contains(t, frag.SQL, "ctx->'context'->>'loc'")
	assert.Equal(t, []any{5000.0}, frag.Params)
}

func TestCompile_SpatialLiteralBindsPlaceholder(t *testing.T) {
	c := mustDecode(t, `{"op":"st_contains","attr":"geometry","val":"POINT(0 0)"}`)
	frag, err := Compile(c, nil)
	require.NoError(t, err)
	assert.Contains(t, frag.SQL, "ST_Contains(resource.geometry, ST_GeomFromText($1, 4326))")
	require.Len(t, frag.Params, 1)
	assert.Contains(t, frag.Params[0], "POINT")
}

func TestCompile_AllOperatorUsesJSONBContainment(t *testing.T) {
	c := mustDecode(t, `{"op":"all","attr":"tags","val":["a","b"]}`)
	frag, err := Compile(c, nil)
	require.NoError(t, err)
	assert.Contains(t, frag.SQL, "@>")
	assert.Contains(t, frag.SQL, "::jsonb")
	// compileAll must use the JSON-valued ("->") path, not the text-extracted
	// ("->>") one @> has no overload for.
	assert.NotContains(t, frag.SQL, "->>'tags'")
	assert.Contains(t, frag.SQL, "->'tags'")
}

func TestCompile_NumericComparisonCastsBothSides(t *testing.T) {
	c := mustDecode(t, `{"op":">","attr":"age","val":21}`)
	frag, err := Compile(c, nil)
	require.NoError(t, err)
	assert.Equal(t, "(resource.attributes->>'age')::numeric > ($1)::numeric", frag.SQL)
}

func TestCompile_BooleanComparisonCastsBothSides(t *testing.T) {
	c := mustDecode(t, `{"op":"=","attr":"active","val":true}`)
	frag, err := Compile(c, nil)
	require.NoError(t, err)
	assert.Equal(t, "(resource.attributes->>'active')::boolean = ($1)::boolean", frag.SQL)
}

func TestCompile_SetMembershipCastsAttributeSide(t *testing.T) {
	c := mustDecode(t, `{"op":"in","attr":"rank","val":[1,2,3]}`)
	frag, err := Compile(c, nil)
	require.NoError(t, err)
	assert.Equal(t, "(resource.attributes->>'rank')::numeric IN (($1)::numeric, ($2)::numeric, ($3)::numeric)", frag.SQL)
}

func TestRenumberPlaceholders(t *testing.T) {
	assert.Equal(t, "resource.attributes->>'a' = $3", RenumberPlaceholders("resource.attributes->>'a' = $1", 2))
	assert.Equal(t, "$11 AND $12", RenumberPlaceholders("$1 AND $2", 10))
	assert.Equal(t, "TRUE", RenumberPlaceholders("TRUE", 2))
}
