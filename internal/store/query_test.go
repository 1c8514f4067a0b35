package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResourceWhere_PrefixesRealmAndType(t *testing.T) {
	where, args := resourceWhere(1, 2, CombinedPredicate{SQL: "resource.attributes->>'x' = $1", Params: []any{"y"}}, nil)
	assert.Contains(t, where, "resource.realm_id = $1")
	assert.Contains(t, where, "resource.resource_type_id = $2")
	assert.Contains(t, where, "$3")
	assert.Equal(t, []any{int64(1), int64(2), "y"}, args)
}

func TestResourceWhere_RestrictsByResourceIDs(t *testing.T) {
	where, args := resourceWhere(1, 2, CombinedPredicate{SQL: "TRUE"}, []int64{10, 11})
	assert.Contains(t, where, "resource.id IN ($3, $4)")
	assert.Equal(t, []any{int64(1), int64(2), int64(10), int64(11)}, args)
}
