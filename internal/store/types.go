// Package store implements the relational persistence layer (§3): realms
// and every entity they own, plus the compiled-rule repository that runs
// the SQL Compiler as a trigger on rule mutation (§4.2, §4.8).
package store

import (
	"time"

	"github.com/eclipse-basyx/abac-policy-core/internal/lifecycle"
)

// Realm is the top-level partitioning boundary. Deletion cascades to every
// child entity below (§3).
type Realm struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`
}

// ResourceType belongs to exactly one realm. Toggling IsPublic invalidates
// the cached entry for its name (§3).
type ResourceType struct {
	ID       int64  `db:"id"`
	RealmID  int64  `db:"realm_id"`
	Name     string `db:"name"`
	IsPublic bool   `db:"is_public"`
}

// Action belongs to exactly one realm and is referenced by Rules.
type Action struct {
	ID      int64  `db:"id"`
	RealmID int64  `db:"realm_id"`
	Name    string `db:"name"`
}

// Role carries an opaque attribute map, readable only through DSL
// references (§3).
type Role struct {
	ID         int64          `db:"id"`
	RealmID    int64          `db:"realm_id"`
	Name       string         `db:"name"`
	Attributes map[string]any `db:"attributes"`
}

// AnonymousPrincipalID is the well-known id of the anonymous principal,
// always included in the waterfall's subject set (§4.4).
const AnonymousPrincipalID int64 = 0

// Principal carries an opaque attribute map. The anonymous principal has
// id 0 and empty attributes (§3).
type Principal struct {
	ID         int64          `db:"id"`
	RealmID    int64          `db:"realm_id"`
	Username   string         `db:"username"`
	Attributes map[string]any `db:"attributes"`
}

// PrincipalRole is a many-to-many assignment within a realm.
type PrincipalRole struct {
	PrincipalID int64 `db:"principal_id"`
	RoleID      int64 `db:"role_id"`
}

// Resource carries an opaque attribute map plus an optional geometry,
// stored in one canonical projection (§3).
type Resource struct {
	ID             int64          `db:"id"`
	RealmID        int64          `db:"realm_id"`
	ResourceTypeID int64          `db:"resource_type_id"`
	Attributes     map[string]any `db:"attributes"`
	Geometry       *string        `db:"geometry"` // canonical-projection WKT, nil if none
}

// ExternalIDMapping is unique only within (realm, resource_type) (§3).
type ExternalIDMapping struct {
	RealmID        int64  `db:"realm_id"`
	ResourceTypeID int64  `db:"resource_type_id"`
	ExternalID     string `db:"external_id"`
	ResourceID     int64  `db:"resource_id"`
}

// Rule is a compiled policy attached to a (type, action, subject) tuple,
// optionally narrowed to one resource (§3). ResourceID == nil means
// type-scoped; exactly one of RoleID/PrincipalID is set.
type Rule struct {
	ID             int64
	RealmID        int64
	ResourceTypeID int64
	ActionID       int64
	RoleID         *int64
	PrincipalID    *int64
	ResourceID     *int64

	DSL            []byte // canonical JSON condition tree
	CompiledSQL    string // §4.2 fragment, exactly two free identifiers: resource, ctx
	CompiledParams []any
	CompiledHash   string // policy.CanonicalHash(DSL) — cache key / consistency check (§3)
	State          lifecycle.State
	UpdatedAt      time.Time
}

// IsTypeScoped reports whether r applies to every resource of its type
// rather than one specific resource (§4.4 level 2 vs level 3).
func (r Rule) IsTypeScoped() bool { return r.ResourceID == nil }
