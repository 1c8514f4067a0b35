// Package cache implements the Name->ID Cache (§4.6): a per-realm,
// bounded-TTL mapping from symbolic names to internal ids, with
// single-flight miss collapsing and copy-on-write updates per key so
// readers never block (§5).
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ActionEntry is the cached value for an action_name lookup.
type ActionEntry struct {
	ID int64
}

// TypeEntry is the cached value for a resource type_name lookup.
type TypeEntry struct {
	ID       int64
	IsPublic bool
}

// RoleEntry is the cached value for a role_name lookup.
type RoleEntry struct {
	ID int64
}

// ExternalIDKey identifies a (type, external_id) pair within a realm.
type ExternalIDKey struct {
	TypeID     int64
	ExternalID string
}

// Loader fetches the realm's name->id maps from the backing store on a
// cache miss. It is called at most once per key per miss, regardless of
// how many concurrent goroutines requested it (single-flight, §4.6).
type Loader interface {
	LoadAction(ctx context.Context, realm, name string) (ActionEntry, bool, error)
	LoadType(ctx context.Context, realm, name string) (TypeEntry, bool, error)
	LoadRole(ctx context.Context, realm, name string) (RoleEntry, bool, error)
	LoadExternalID(ctx context.Context, realm string, key ExternalIDKey) (int64, bool, error)
}

type entry struct {
	val      any
	found    bool
	cachedAt time.Time
}

func (e entry) expired(ttl time.Duration) bool {
	return time.Since(e.cachedAt) > ttl
}

// Cache is the Name->ID cache. One Cache instance is shared across all
// tasks in the process; entries are partitioned by realm internally.
type Cache struct {
	loader Loader
	ttl    time.Duration

	mu      sync.RWMutex
	actions map[string]entry // realm + "\x00" + name
	types   map[string]entry
	roles   map[string]entry
	extIDs  map[string]entry

	group singleflight.Group
}

// New builds a Cache backed by loader, with entries expiring after ttl.
func New(loader Loader, ttl time.Duration) *Cache {
	return &Cache{
		loader:  loader,
		ttl:     ttl,
		actions: make(map[string]entry),
		types:   make(map[string]entry),
		roles:   make(map[string]entry),
		extIDs:  make(map[string]entry),
	}
}

func realmKey(realm, name string) string { return realm + "\x00" + name }

// Action resolves an action_name to its id, populating the cache on miss.
func (c *Cache) Action(ctx context.Context, realm, name string) (ActionEntry, bool, error) {
	key := realmKey(realm, name)
	if e, ok := c.lookup(&c.actions, key); ok {
		return e.val.(ActionEntry), e.found, nil
	}
	v, err := c.group.Do("action:"+key, func() (any, error) {
		got, found, err := c.loader.LoadAction(ctx, realm, name)
		if err != nil {
			return nil, err
		}
		c.store(&c.actions, key, got, found)
		return entry{val: got, found: found}, nil
	})
	if err != nil {
		return ActionEntry{}, false, err
	}
	e := v.(entry)
	return e.val.(ActionEntry), e.found, nil
}

// Type resolves a resource type_name to its id and is_public flag.
func (c *Cache) Type(ctx context.Context, realm, name string) (TypeEntry, bool, error) {
	key := realmKey(realm, name)
	if e, ok := c.lookup(&c.types, key); ok {
		return e.val.(TypeEntry), e.found, nil
	}
	v, err := c.group.Do("type:"+key, func() (any, error) {
		got, found, err := c.loader.LoadType(ctx, realm, name)
		if err != nil {
			return nil, err
		}
		c.store(&c.types, key, got, found)
		return entry{val: got, found: found}, nil
	})
	if err != nil {
		return TypeEntry{}, false, err
	}
	e := v.(entry)
	return e.val.(TypeEntry), e.found, nil
}

// Role resolves a role_name to its id.
func (c *Cache) Role(ctx context.Context, realm, name string) (RoleEntry, bool, error) {
	key := realmKey(realm, name)
	if e, ok := c.lookup(&c.roles, key); ok {
		return e.val.(RoleEntry), e.found, nil
	}
	v, err := c.group.Do("role:"+key, func() (any, error) {
		got, found, err := c.loader.LoadRole(ctx, realm, name)
		if err != nil {
			return nil, err
		}
		c.store(&c.roles, key, got, found)
		return entry{val: got, found: found}, nil
	})
	if err != nil {
		return RoleEntry{}, false, err
	}
	e := v.(entry)
	return e.val.(RoleEntry), e.found, nil
}

// ExternalID resolves a (type_id, external_id) pair to an internal resource id.
func (c *Cache) ExternalID(ctx context.Context, realm string, k ExternalIDKey) (int64, bool, error) {
	key := realmKey(realm, k.ExternalID) + "\x00" + fmt.Sprintf("%d", k.TypeID)
	if e, ok := c.lookup(&c.extIDs, key); ok {
		return e.val.(int64), e.found, nil
	}
	v, err := c.group.Do("ext:"+key, func() (any, error) {
		got, found, err := c.loader.LoadExternalID(ctx, realm, k)
		if err != nil {
			return nil, err
		}
		c.store(&c.extIDs, key, got, found)
		return entry{val: got, found: found}, nil
	})
	if err != nil {
		return 0, false, err
	}
	e := v.(entry)
	return e.val.(int64), e.found, nil
}

func (c *Cache) lookup(m *map[string]entry, key string) (entry, bool) {
	c.mu.RLock()
	e, ok := (*m)[key]
	c.mu.RUnlock()
	if !ok || e.expired(c.ttl) {
		return entry{}, false
	}
	return e, true
}

// store writes a fresh entry under its own key. Copy-on-write per key (§5):
// a write only ever replaces the single map entry for key, never the map
// itself while other keys are being read, so it takes the same RWMutex as
// reads rather than a coarser structural lock.
func (c *Cache) store(m *map[string]entry, key string, val any, found bool) {
	c.mu.Lock()
	(*m)[key] = entry{val: val, found: found, cachedAt: time.Now()}
	c.mu.Unlock()
}

// Invalidate drops the single cached entry identified by (realm, kind, key)
// (§9: "cache invalidation events are the only contract" an external writer
// needs against this core). kind is one of "action", "type", "role", or
// "external_id"; for "external_id", key must be built with
// ExternalIDInvalidationKey from the same ExternalIDKey the mutation
// affected, since that lookup is keyed on more than just a name.
func (c *Cache) Invalidate(realm, kind, key string) {
	var m *map[string]entry
	switch kind {
	case "action":
		m = &c.actions
	case "type":
		m = &c.types
	case "role":
		m = &c.roles
	case "external_id":
		m = &c.extIDs
	default:
		return
	}
	c.mu.Lock()
	delete(*m, realmKey(realm, key))
	c.mu.Unlock()
}

// ExternalIDInvalidationKey returns the key Invalidate expects for the
// "external_id" kind, matching the composite key ExternalID looks entries
// up under.
func ExternalIDInvalidationKey(k ExternalIDKey) string {
	return k.ExternalID + "\x00" + fmt.Sprintf("%d", k.TypeID)
}
