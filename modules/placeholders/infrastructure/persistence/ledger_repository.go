package persistence

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pkg/errors"

	"github.com/kai-sub/gitlab/modules/placeholders/domain/membership"
	"github.com/kai-sub/gitlab/modules/placeholders/domain/reference"
	"github.com/kai-sub/gitlab/pkg/composables"
)

const (
	listReferenceGroupsSQL = `
	SELECT DISTINCT model, user_reference_column
	  FROM import_placeholder_references
	 WHERE source_user_id = $1
	 ORDER BY model, user_reference_column`

	countReferencesSQL = `
	SELECT count(*)
	  FROM import_placeholder_references
	 WHERE source_user_id = $1 AND model = $2 AND user_reference_column = $3`

	listReferencesSQL = `
	SELECT id, source_user_id, model, user_reference_column, numeric_key, composite_key
	  FROM import_placeholder_references
	 WHERE source_user_id = $1 AND model = $2 AND user_reference_column = $3 AND id > $4
	 ORDER BY id
	 LIMIT $5`

	deleteReferencesSQL = `DELETE FROM import_placeholder_references WHERE id = ANY($1)`

	listMembershipsSQL = `
	SELECT id, source_user_id, group_id, project_id, access_level, expires_at, created_at
	  FROM import_placeholder_memberships
	 WHERE source_user_id = $1 AND id > $2
	 ORDER BY id
	 LIMIT $3`

	deleteMembershipSQL  = `DELETE FROM import_placeholder_memberships WHERE id = $1`
	deleteMembershipsSQL = `DELETE FROM import_placeholder_memberships WHERE source_user_id = $1`
)

// LedgerRepository reads and clears the import_placeholder_* ledger tables.
type LedgerRepository struct{}

func NewLedgerRepository() *LedgerRepository {
	return &LedgerRepository{}
}

func (r *LedgerRepository) ListReferenceGroups(ctx context.Context, sourceUserID int64) ([]reference.Group, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, listReferenceGroupsSQL, sourceUserID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list reference groups")
	}
	defer rows.Close()

	var groups []reference.Group
	for rows.Next() {
		var g reference.Group
		if err := rows.Scan(&g.Model, &g.Column); err != nil {
			return nil, errors.Wrap(err, "failed to scan reference group")
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (r *LedgerRepository) CountReferences(ctx context.Context, sourceUserID int64, group reference.Group) (int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := tx.QueryRow(ctx, countReferencesSQL, sourceUserID, group.Model, group.Column).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "failed to count references")
	}
	return n, nil
}

// ListReferences returns up to limit references of group with id greater than afterID.
// A composite_key that cannot be decoded yields a reference with an empty key.
func (r *LedgerRepository) ListReferences(ctx context.Context, sourceUserID int64, group reference.Group, afterID int64, limit int) ([]*reference.Reference, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, listReferencesSQL, sourceUserID, group.Model, group.Column, afterID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list references")
	}
	defer rows.Close()

	var refs []*reference.Reference
	for rows.Next() {
		var (
			ref          reference.Reference
			numericKey   pgtype.Int8
			compositeKey []byte
		)
		if err := rows.Scan(&ref.ID, &ref.SourceUserID, &ref.Model, &ref.UserReferenceColumn, &numericKey, &compositeKey); err != nil {
			return nil, errors.Wrap(err, "failed to scan reference")
		}
		if numericKey.Valid {
			ref.Key = reference.NumericKey(numericKey.Int64)
		} else if key, err := reference.ParseCompositeKey(compositeKey); err == nil {
			ref.Key = reference.Key{Composite: key}
		}
		refs = append(refs, &ref)
	}
	return refs, rows.Err()
}

func (r *LedgerRepository) DeleteReferences(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	tag, err := tx.Exec(ctx, deleteReferencesSQL, ids)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete references")
	}
	return tag.RowsAffected(), nil
}

func (r *LedgerRepository) ListMemberships(ctx context.Context, sourceUserID int64, afterID int64, limit int) ([]*membership.Placeholder, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, listMembershipsSQL, sourceUserID, afterID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list placeholder memberships")
	}
	defer rows.Close()

	var out []*membership.Placeholder
	for rows.Next() {
		var (
			p         membership.Placeholder
			groupID   pgtype.Int8
			projectID pgtype.Int8
			level     int
			expiresAt pgtype.Timestamptz
			createdAt time.Time
		)
		if err := rows.Scan(&p.ID, &p.SourceUserID, &groupID, &projectID, &level, &expiresAt, &createdAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan placeholder membership")
		}
		scope, err := membership.NewScope(int8Ptr(groupID), int8Ptr(projectID))
		if err != nil {
			return nil, errors.Wrapf(err, "placeholder membership %d", p.ID)
		}
		p.Scope = scope
		p.AccessLevel = membership.AccessLevel(level)
		p.ExpiresAt = timestamptzPtr(expiresAt)
		p.CreatedAt = createdAt
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (r *LedgerRepository) DeleteMembership(ctx context.Context, id int64) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, deleteMembershipSQL, id); err != nil {
		return errors.Wrap(err, "failed to delete placeholder membership")
	}
	return nil
}

func (r *LedgerRepository) DeleteMemberships(ctx context.Context, sourceUserID int64) (int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	tag, err := tx.Exec(ctx, deleteMembershipsSQL, sourceUserID)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete placeholder memberships")
	}
	return tag.RowsAffected(), nil
}

func timestamptzPtr(v pgtype.Timestamptz) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
