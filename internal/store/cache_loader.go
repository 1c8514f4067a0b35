package store

import (
	"context"

	"github.com/eclipse-basyx/abac-policy-core/internal/cache"
)

// CacheLoader adapts Store to cache.Loader. Each miss is resolved for its
// single key with two queries: the realm id by name, then the key within
// that realm. The realm's other names are not loaded in the same query.
type CacheLoader struct {
	store *Store
}

// NewCacheLoader builds a cache.Loader backed by store.
func NewCacheLoader(store *Store) *CacheLoader {
	return &CacheLoader{store: store}
}

func (l *CacheLoader) LoadAction(ctx context.Context, realm, name string) (cache.ActionEntry, bool, error) {
	realmID, ok, err := l.store.RealmByName(ctx, realm)
	if err != nil || !ok {
		return cache.ActionEntry{}, false, err
	}
	id, found, err := l.store.ActionByName(ctx, realmID, name)
	if err != nil || !found {
		return cache.ActionEntry{}, false, err
	}
	return cache.ActionEntry{ID: id}, true, nil
}

func (l *CacheLoader) LoadType(ctx context.Context, realm, name string) (cache.TypeEntry, bool, error) {
	realmID, ok, err := l.store.RealmByName(ctx, realm)
	if err != nil || !ok {
		return cache.TypeEntry{}, false, err
	}
	id, isPublic, found, err := l.store.ResourceTypeByName(ctx, realmID, name)
	if err != nil || !found {
		return cache.TypeEntry{}, false, err
	}
	return cache.TypeEntry{ID: id, IsPublic: isPublic}, true, nil
}

func (l *CacheLoader) LoadRole(ctx context.Context, realm, name string) (cache.RoleEntry, bool, error) {
	realmID, ok, err := l.store.RealmByName(ctx, realm)
	if err != nil || !ok {
		return cache.RoleEntry{}, false, err
	}
	id, found, err := l.store.RoleByName(ctx, realmID, name)
	if err != nil || !found {
		return cache.RoleEntry{}, false, err
	}
	return cache.RoleEntry{ID: id}, true, nil
}

func (l *CacheLoader) LoadExternalID(ctx context.Context, realm string, key cache.ExternalIDKey) (int64, bool, error) {
	realmID, ok, err := l.store.RealmByName(ctx, realm)
	if err != nil || !ok {
		return 0, false, err
	}
	return l.store.ResourceIDByExternalID(ctx, realmID, key.TypeID, key.ExternalID)
}
