package persistence

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pkg/errors"

	"github.com/kai-sub/gitlab/modules/placeholders/domain/sourceuser"
	"github.com/kai-sub/gitlab/modules/placeholders/services"
	"github.com/kai-sub/gitlab/pkg/composables"
)

const (
	selectSourceUserSQL = `
	SELECT id, namespace_id, source_hostname, source_username, placeholder_user_id,
	       reassign_to_user_id, reassigned_by_user_id, status, created_at, updated_at
	  FROM import_source_users
	 WHERE id = $1`

	updateSourceUserStatusSQL = `
	UPDATE import_source_users
	   SET status = $3, updated_at = now()
	 WHERE id = $1 AND status = $2`

	namespaceFullPathSQL = `
	WITH RECURSIVE chain AS (
		SELECT id, parent_id, path, 0 AS depth FROM namespaces WHERE id = $1
		UNION ALL
		SELECT n.id, n.parent_id, n.path, c.depth + 1
		  FROM namespaces n
		  JOIN chain c ON n.id = c.parent_id
	)
	SELECT string_agg(path, '/' ORDER BY depth DESC) FROM chain`

	listInProgressSourceUsersSQL = `
	SELECT id FROM import_source_users
	 WHERE status = 'reassignment_in_progress'
	 ORDER BY id
	 LIMIT $1`
)

type SourceUserRepository struct{}

func NewSourceUserRepository() *SourceUserRepository {
	return &SourceUserRepository{}
}

func (r *SourceUserRepository) GetByID(ctx context.Context, id int64) (*sourceuser.SourceUser, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	var (
		su           sourceuser.SourceUser
		reassignTo   pgtype.Int8
		reassignedBy pgtype.Int8
		status       string
		createdAt    time.Time
		updatedAt    time.Time
	)
	err = tx.QueryRow(ctx, selectSourceUserSQL, id).Scan(
		&su.ID,
		&su.NamespaceID,
		&su.SourceHostname,
		&su.SourceUsername,
		&su.PlaceholderUserID,
		&reassignTo,
		&reassignedBy,
		&status,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, services.ErrSourceUserNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get import source user")
	}
	su.ReassignToUserID = int8Ptr(reassignTo)
	su.ReassignedByUserID = int8Ptr(reassignedBy)
	su.Status = sourceuser.Status(status)
	if !su.Status.Valid() {
		return nil, errors.Errorf("import source user %d has unknown status %q", id, status)
	}
	su.CreatedAt = createdAt
	su.UpdatedAt = updatedAt
	return &su, nil
}

func (r *SourceUserRepository) UpdateStatus(ctx context.Context, id int64, from, to sourceuser.Status) (bool, error) {
	if !from.CanTransition(to) {
		return false, errors.Errorf("invalid source user status transition %s -> %s", from, to)
	}
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return false, err
	}
	tag, err := tx.Exec(ctx, updateSourceUserStatusSQL, id, string(from), string(to))
	if err != nil {
		return false, errors.Wrap(err, "failed to update import source user status")
	}
	return tag.RowsAffected() == 1, nil
}

func (r *SourceUserRepository) NamespaceFullPath(ctx context.Context, namespaceID int64) (string, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return "", err
	}
	var path pgtype.Text
	if err := tx.QueryRow(ctx, namespaceFullPathSQL, namespaceID).Scan(&path); err != nil {
		return "", errors.Wrap(err, "failed to resolve namespace full path")
	}
	if !path.Valid {
		return "", errors.Wrapf(services.ErrScopeNotFound, "namespace %d", namespaceID)
	}
	return path.String, nil
}

func (r *SourceUserRepository) ListInProgressIDs(ctx context.Context, limit int) ([]int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, listInProgressSourceUsersSQL, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list in-progress source users")
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan source user id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func int8Ptr(v pgtype.Int8) *int64 {
	if !v.Valid {
		return nil
	}
	out := v.Int64
	return &out
}
