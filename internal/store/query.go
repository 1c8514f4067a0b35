package store

import (
	"context"
	"fmt"

	"github.com/eclipse-basyx/abac-policy-core/internal/common"
	"github.com/eclipse-basyx/abac-policy-core/internal/compiler"
)

// CombinedPredicate is the disjunction of every matched rule's residual
// fragment for one (type, action, subject) tuple (§4.5 step 3: "combine
// residuals into a single disjunction").
type CombinedPredicate struct {
	SQL    string // a boolean expression over the free identifier `resource`
	Params []any
}

// Exists runs `SELECT EXISTS(...)` restricted to resourceTypeID and,
// optionally, resourceIDs, returning the decision form of the answer
// (§4.5 step 4).
func (s *Store) Exists(ctx context.Context, realmID, resourceTypeID int64, pred CombinedPredicate, resourceIDs []int64) (bool, error) {
	where, args := resourceWhere(realmID, resourceTypeID, pred, resourceIDs)
	stmt := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM resources resource WHERE %s)`, where)
	var ok bool
	if err := s.db.QueryRowContext(ctx, stmt, args...).Scan(&ok); err != nil {
		return false, common.NewErrStoreFailure(err.Error())
	}
	return ok, nil
}

// MatchingResourceIDs selects the resource ids satisfying the combined
// predicate, restricted to resourceTypeID and, optionally, resourceIDs
// (§4.5 step 4, id_list form).
func (s *Store) MatchingResourceIDs(ctx context.Context, realmID, resourceTypeID int64, pred CombinedPredicate, resourceIDs []int64) ([]int64, error) {
	where, args := resourceWhere(realmID, resourceTypeID, pred, resourceIDs)
	stmt := fmt.Sprintf(`SELECT resource.id FROM resources resource WHERE %s`, where)
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, common.NewErrStoreFailure(err.Error())
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

// resourceWhere builds `resource.realm_id = $1 AND resource.resource_type_id = $2
// AND (<combined predicate>) [AND resource.id IN (...)]`, renumbering the
// predicate's own placeholders to follow the prefix parameters (§4.4 level 3:
// "restricted by resource.id IN (...)").
func resourceWhere(realmID, resourceTypeID int64, pred CombinedPredicate, resourceIDs []int64) (string, []any) {
	args := []any{realmID, resourceTypeID}
	where := fmt.Sprintf(`resource.realm_id = $1 AND resource.resource_type_id = $2 AND (%s)`,
		compiler.RenumberPlaceholders(pred.SQL, len(args)))
	args = append(args, pred.Params...)

	if len(resourceIDs) > 0 {
		placeholders := ""
		for i, id := range resourceIDs {
			if i > 0 {
				placeholders += ", "
			}
			args = append(args, id)
			placeholders += fmt.Sprintf("$%d", len(args))
		}
		where += fmt.Sprintf(` AND resource.id IN (%s)`, placeholders)
	}
	return where, args
}
