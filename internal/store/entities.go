package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"

	"github.com/eclipse-basyx/abac-policy-core/internal/common"
)

// CreateRealm inserts a realm, returning its assigned id.
func (s *Store) CreateRealm(ctx context.Context, name string) (int64, error) {
	ds := s.dialect.Insert(goqu.T("realms")).
		Rows(goqu.Record{"name": name}).
		Returning(goqu.C("id"))
	sqlStr, args, err := ds.ToSQL()
	if err != nil {
		return 0, err
	}
	var id int64
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// RealmByName resolves a realm's id by name.
func (s *Store) RealmByName(ctx context.Context, name string) (int64, bool, error) {
	ds := s.dialect.From(goqu.T("realms")).Select(goqu.C("id")).Where(goqu.C("name").Eq(name)).Limit(1)
	return s.scanID(ctx, ds)
}

// CreateResourceType inserts a resource type scoped to realmID.
func (s *Store) CreateResourceType(ctx context.Context, realmID int64, name string, isPublic bool) (int64, error) {
	ds := s.dialect.Insert(goqu.T("resource_types")).
		Rows(goqu.Record{"realm_id": realmID, "name": name, "is_public": isPublic}).
		Returning(goqu.C("id"))
	sqlStr, args, err := ds.ToSQL()
	if err != nil {
		return 0, err
	}
	var id int64
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// SetResourceTypePublic toggles is_public; callers must invalidate the
// cached entry for this type afterward (§3).
func (s *Store) SetResourceTypePublic(ctx context.Context, typeID int64, isPublic bool) error {
	ds := s.dialect.Update(goqu.T("resource_types")).
		Set(goqu.Record{"is_public": isPublic}).
		Where(goqu.C("id").Eq(typeID))
	sqlStr, args, err := ds.ToSQL()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, sqlStr, args...)
	return err
}

// ResourceTypeByName resolves a resource type's id and is_public flag by
// (realm, name); it backs cache.Loader.LoadType on a cache miss.
func (s *Store) ResourceTypeByName(ctx context.Context, realmID int64, name string) (id int64, isPublic bool, found bool, err error) {
	ds := s.dialect.From(goqu.T("resource_types")).
		Select(goqu.C("id"), goqu.C("is_public")).
		Where(goqu.C("realm_id").Eq(realmID), goqu.C("name").Eq(name)).
		Limit(1)
	sqlStr, args, err := ds.ToSQL()
	if err != nil {
		return 0, false, false, err
	}
	row := s.db.QueryRowContext(ctx, sqlStr, args...)
	if err := row.Scan(&id, &isPublic); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, false, nil
		}
		return 0, false, false, err
	}
	return id, isPublic, true, nil
}

// CreateAction inserts an action scoped to realmID.
func (s *Store) CreateAction(ctx context.Context, realmID int64, name string) (int64, error) {
	ds := s.dialect.Insert(goqu.T("actions")).
		Rows(goqu.Record{"realm_id": realmID, "name": name}).
		Returning(goqu.C("id"))
	sqlStr, args, err := ds.ToSQL()
	if err != nil {
		return 0, err
	}
	var id int64
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// ActionByName resolves an action's id by (realm, name); backs
// cache.Loader.LoadAction on a cache miss.
func (s *Store) ActionByName(ctx context.Context, realmID int64, name string) (int64, bool, error) {
	ds := s.dialect.From(goqu.T("actions")).
		Select(goqu.C("id")).
		Where(goqu.C("realm_id").Eq(realmID), goqu.C("name").Eq(name)).
		Limit(1)
	return s.scanID(ctx, ds)
}

// CreateRole inserts a role scoped to realmID with an opaque attribute map.
func (s *Store) CreateRole(ctx context.Context, realmID int64, name string, attrs map[string]any) (int64, error) {
	raw, err := marshalAttributes(attrs)
	if err != nil {
		return 0, err
	}
	ds := s.dialect.Insert(goqu.T("roles")).
		Rows(goqu.Record{"realm_id": realmID, "name": name, "attributes": goqu.L("?::jsonb", raw)}).
		Returning(goqu.C("id"))
	sqlStr, args, err := ds.ToSQL()
	if err != nil {
		return 0, err
	}
	var id int64
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// RoleByName resolves a role's id by (realm, name); backs
// cache.Loader.LoadRole on a cache miss.
func (s *Store) RoleByName(ctx context.Context, realmID int64, name string) (int64, bool, error) {
	ds := s.dialect.From(goqu.T("roles")).
		Select(goqu.C("id")).
		Where(goqu.C("realm_id").Eq(realmID), goqu.C("name").Eq(name)).
		Limit(1)
	return s.scanID(ctx, ds)
}

// CreatePrincipal inserts a principal scoped to realmID with an opaque
// attribute map.
func (s *Store) CreatePrincipal(ctx context.Context, realmID int64, username string, attrs map[string]any) (int64, error) {
	raw, err := marshalAttributes(attrs)
	if err != nil {
		return 0, err
	}
	ds := s.dialect.Insert(goqu.T("principals")).
		Rows(goqu.Record{"realm_id": realmID, "username": username, "attributes": goqu.L("?::jsonb", raw)}).
		Returning(goqu.C("id"))
	sqlStr, args, err := ds.ToSQL()
	if err != nil {
		return 0, err
	}
	var id int64
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// PrincipalByUsername resolves a principal's id by (realm, username).
func (s *Store) PrincipalByUsername(ctx context.Context, realmID int64, username string) (int64, bool, error) {
	ds := s.dialect.From(goqu.T("principals")).
		Select(goqu.C("id")).
		Where(goqu.C("realm_id").Eq(realmID), goqu.C("username").Eq(username)).
		Limit(1)
	return s.scanID(ctx, ds)
}

// AssignRole records a principal-role assignment, idempotently.
func (s *Store) AssignRole(ctx context.Context, principalID, roleID int64) error {
	stmt := `INSERT INTO principal_roles (principal_id, role_id) VALUES ($1, $2)
		ON CONFLICT (principal_id, role_id) DO NOTHING`
	_, err := s.db.ExecContext(ctx, stmt, principalID, roleID)
	return err
}

// RoleIDsForPrincipal lists the role ids assigned to a principal.
func (s *Store) RoleIDsForPrincipal(ctx context.Context, principalID int64) ([]int64, error) {
	ds := s.dialect.From(goqu.T("principal_roles")).
		Select(goqu.C("role_id")).
		Where(goqu.C("principal_id").Eq(principalID))
	sqlStr, args, err := ds.ToSQL()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// PrincipalAttributes fetches a principal's opaque attribute map, used as
// the residual evaluator's principal bindings (§4.3). The anonymous
// principal (id 0) always has empty attributes.
func (s *Store) PrincipalAttributes(ctx context.Context, principalID int64) (map[string]any, error) {
	if principalID == 0 {
		return map[string]any{}, nil
	}
	ds := s.dialect.From(goqu.T("principals")).
		Select(goqu.C("attributes")).
		Where(goqu.C("id").Eq(principalID)).
		Limit(1)
	sqlStr, args, err := ds.ToSQL()
	if err != nil {
		return nil, err
	}
	var raw []byte
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return map[string]any{}, nil
		}
		return nil, err
	}
	return unmarshalAttributes(raw)
}

func (s *Store) scanID(ctx context.Context, ds *goqu.SelectDataset) (int64, bool, error) {
	sqlStr, args, err := ds.ToSQL()
	if err != nil {
		return 0, false, err
	}
	var id int64
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return id, true, nil
}

func marshalAttributes(attrs map[string]any) (string, error) {
	if attrs == nil {
		attrs = map[string]any{}
	}
	raw, err := common.MarshalJSON(attrs)
	if err != nil {
		return "", fmt.Errorf("store: marshal attributes: %w", err)
	}
	return string(raw), nil
}

func unmarshalAttributes(raw []byte) (map[string]any, error) {
	var out map[string]any
	if err := common.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("store: unmarshal attributes: %w", err)
	}
	return out, nil
}
