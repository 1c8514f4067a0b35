package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/doug-martin/goqu/v9"

	"github.com/eclipse-basyx/abac-policy-core/internal/geo"
)

// CreateResource inserts a resource. geometry, if non-empty, is WKT already
// transformed to the canonical projection (§3: "Geometry is stored in one
// canonical projection; inputs in other projections are transformed at
// ingest").
func (s *Store) CreateResource(ctx context.Context, realmID, resourceTypeID int64, attrs map[string]any, geometry string) (int64, error) {
	raw, err := marshalAttributes(attrs)
	if err != nil {
		return 0, err
	}
	record := goqu.Record{
		"realm_id":         realmID,
		"resource_type_id": resourceTypeID,
		"attributes":       goqu.L("?::jsonb", raw),
	}
	if geometry != "" {
		record["geometry"] = goqu.L("ST_GeomFromText(?, ?)", geometry, geo.CanonicalSRID)
	} else {
		record["geometry"] = nil
	}

	ds := s.dialect.Insert(goqu.T("resources")).Rows(record).Returning(goqu.C("id"))
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

// MapExternalID records an external id for a resource, unique within
// (realm, resource_type) (§3).
func (s *Store) MapExternalID(ctx context.Context, realmID, resourceTypeID, resourceID int64, externalID string) error {
	ds := s.dialect.Insert(goqu.T("external_id_mappings")).Rows(goqu.Record{
		"realm_id":         realmID,
		"resource_type_id": resourceTypeID,
		"resource_id":      resourceID,
		"external_id":      externalID,
	})
	sqlStr, args, err := ds.ToSQL()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, sqlStr, args...)
	return err
}

// ResourceIDByExternalID resolves (realm, resource_type, external_id) to an
// internal resource id; backs cache.Loader.LoadExternalID on a cache miss.
func (s *Store) ResourceIDByExternalID(ctx context.Context, realmID, resourceTypeID int64, externalID string) (int64, bool, error) {
	ds := s.dialect.From(goqu.T("external_id_mappings")).
		Select(goqu.C("resource_id")).
		Where(
			goqu.C("realm_id").Eq(realmID),
			goqu.C("resource_type_id").Eq(resourceTypeID),
			goqu.C("external_id").Eq(externalID),
		).
		Limit(1)
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

// ExternalIDsForResources reverse-maps internal resource ids to their
// external ids within (realm, resource_type); resources without an external
// id are simply absent from the result (§4.5 item 6).
func (s *Store) ExternalIDsForResources(ctx context.Context, realmID, resourceTypeID int64, resourceIDs []int64) (map[int64]string, error) {
	if len(resourceIDs) == 0 {
		return map[int64]string{}, nil
	}
	ids := make([]any, len(resourceIDs))
	for i, id := range resourceIDs {
		ids[i] = id
	}
	ds := s.dialect.From(goqu.T("external_id_mappings")).
		Select(goqu.C("resource_id"), goqu.C("external_id")).
		Where(
			goqu.C("realm_id").Eq(realmID),
			goqu.C("resource_type_id").Eq(resourceTypeID),
			goqu.C("resource_id").In(ids...),
		)
	sqlStr, args, err := ds.ToSQL()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[int64]string, len(resourceIDs))
	for rows.Next() {
		var id int64
		var ext string
		if err := rows.Scan(&id, &ext); err != nil {
			return nil, err
		}
		out[id] = ext
	}
	return out, rows.Err()
}
