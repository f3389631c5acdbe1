package persistence

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pkg/errors"

	"github.com/kai-sub/gitlab/modules/placeholders/domain/membership"
	"github.com/kai-sub/gitlab/modules/placeholders/services"
	"github.com/kai-sub/gitlab/pkg/composables"
)

const (
	projectNamespaceSQL = `SELECT namespace_id FROM projects WHERE id = $1`

	namespaceAncestrySQL = `
	WITH RECURSIVE chain AS (
		SELECT id, parent_id, 0 AS depth FROM namespaces WHERE id = $1
		UNION ALL
		SELECT n.id, n.parent_id, c.depth + 1
		  FROM namespaces n
		  JOIN chain c ON n.id = c.parent_id
	)
	SELECT id FROM chain ORDER BY depth`

	listUserMembershipsSQL = `
	SELECT id, user_id, source_id, source_type, access_level, expires_at
	  FROM members
	 WHERE user_id = $1
	   AND ((source_type = $2 AND source_id = $3)
	        OR (source_type = 'Namespace' AND source_id = ANY($4)))`

	insertMemberSQL = `
	INSERT INTO members (user_id, source_id, source_type, access_level, expires_at, created_by_id)
	VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING id`
)

// AccessRepository reads the namespace tree and the members table.
type AccessRepository struct{}

func NewAccessRepository() *AccessRepository {
	return &AccessRepository{}
}

func (r *AccessRepository) ScopeAncestry(ctx context.Context, scope membership.Scope) ([]int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	namespaceID := scope.ID
	if scope.Kind == membership.ScopeProject {
		err := tx.QueryRow(ctx, projectNamespaceSQL, scope.ID).Scan(&namespaceID)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, services.ErrScopeNotFound
		}
		if err != nil {
			return nil, errors.Wrap(err, "failed to get project namespace")
		}
	}

	rows, err := tx.Query(ctx, namespaceAncestrySQL, namespaceID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to walk namespace ancestry")
	}
	defer rows.Close()

	var chain []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan namespace id")
		}
		chain = append(chain, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, services.ErrScopeNotFound
	}
	return chain, nil
}

func (r *AccessRepository) ListMemberships(ctx context.Context, userID int64, scope membership.Scope, namespaceIDs []int64) ([]*membership.Existing, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	if namespaceIDs == nil {
		namespaceIDs = []int64{}
	}
	rows, err := tx.Query(ctx, listUserMembershipsSQL, userID, scope.Kind.SourceType(), scope.ID, namespaceIDs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list memberships")
	}
	defer rows.Close()

	var out []*membership.Existing
	for rows.Next() {
		var (
			m         membership.Existing
			level     int
			expiresAt pgtype.Timestamptz
		)
		if err := rows.Scan(&m.ID, &m.UserID, &m.SourceID, &m.SourceType, &level, &expiresAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan membership")
		}
		m.AccessLevel = membership.AccessLevel(level)
		m.ExpiresAt = timestamptzPtr(expiresAt)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// Create inserts a membership. Constraint violations are returned wrapped so callers can classify them.
func (r *AccessRepository) Create(ctx context.Context, m *membership.Member) (int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	var id int64
	err = tx.QueryRow(ctx, insertMemberSQL,
		m.UserID,
		m.Scope.ID,
		m.SourceType,
		int(m.AccessLevel),
		m.ExpiresAt,
		m.CreatedByID,
	).Scan(&id)
	if err != nil {
		return 0, errors.Wrap(err, "failed to create membership")
	}
	return id, nil
}
