package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/require"

	"github.com/kai-sub/gitlab/modules/placeholders/domain/membership"
	"github.com/kai-sub/gitlab/modules/placeholders/domain/reference"
	"github.com/kai-sub/gitlab/modules/placeholders/domain/sourceuser"
	"github.com/kai-sub/gitlab/modules/placeholders/services"
	"github.com/kai-sub/gitlab/pkg/composables"
)

func TestTableModel_RewriteNumericKeys(t *testing.T) {
	model := &TableModel{ModelName: "MergeRequest", Table: pgx.Identifier{"merge_requests"}, PrimaryKey: "id", UserColumns: []string{"author_id"}}

	tx := &stubTx{
		execFunc: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			require.Equal(t, `UPDATE "merge_requests" SET "author_id" = $1 WHERE "id" = ANY($2) AND "author_id" = $3`, sql)
			require.Equal(t, []any{int64(9), []int64{1, 2, 3}, int64(5)}, args)
			return pgconn.NewCommandTag("UPDATE 2"), nil
		},
	}

	n, err := model.RewriteRows(withStubTx(tx), "author_id",
		[]reference.Key{reference.NumericKey(1), reference.NumericKey(2), reference.NumericKey(3)}, 5, 9)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
}

func TestTableModel_RewriteCompositeKeys(t *testing.T) {
	model := &TableModel{
		ModelName:    "IssueAssignee",
		Table:        pgx.Identifier{"issue_assignees"},
		CompositeKey: []string{"user_id", "issue_id"},
		UserColumns:  []string{"user_id"},
	}
	keys := []reference.Key{
		{Composite: reference.NewCompositeKey(map[string]int64{"issue_id": 7, "user_id": 5})},
		{Composite: reference.NewCompositeKey(map[string]int64{"user_id": 5, "issue_id": 8})},
	}

	tx := &stubTx{
		execFunc: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			require.Equal(t,
				`UPDATE "issue_assignees" SET "user_id" = $1 WHERE ("issue_id", "user_id") IN (($3, $4), ($5, $6)) AND "user_id" = $2`,
				sql)
			require.Equal(t, []any{int64(9), int64(5), int64(7), int64(5), int64(8), int64(5)}, args)
			return pgconn.NewCommandTag("UPDATE 2"), nil
		},
	}

	n, err := model.RewriteRows(withStubTx(tx), "user_id", keys, 5, 9)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
}

func TestTableModel_AcceptsKey(t *testing.T) {
	numeric := &TableModel{ModelName: "Note", PrimaryKey: "id", UserColumns: []string{"author_id"}}
	composite := &TableModel{ModelName: "IssueAssignee", CompositeKey: []string{"issue_id", "user_id"}, UserColumns: []string{"user_id"}}
	pair := reference.Key{Composite: reference.NewCompositeKey(map[string]int64{"issue_id": 1, "user_id": 2})}
	partial := reference.Key{Composite: reference.NewCompositeKey(map[string]int64{"issue_id": 1})}

	require.True(t, numeric.AcceptsKey(reference.NumericKey(1)))
	require.False(t, numeric.AcceptsKey(pair))
	require.True(t, composite.AcceptsKey(pair))
	require.False(t, composite.AcceptsKey(partial))
	require.False(t, composite.AcceptsKey(reference.NumericKey(1)))
	require.False(t, numeric.AcceptsKey(reference.Key{}))

	require.True(t, numeric.HasUserColumn("author_id"))
	require.False(t, numeric.HasUserColumn("title"))
}

func TestTableModel_RewriteWrapsUniqueViolation(t *testing.T) {
	model := &TableModel{ModelName: "Approval", Table: pgx.Identifier{"approvals"}, PrimaryKey: "id", UserColumns: []string{"user_id"}}
	tx := &stubTx{
		execFunc: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			return pgconn.CommandTag{}, &pgconn.PgError{Code: "23505"}
		},
	}
	_, err := model.RewriteRows(withStubTx(tx), "user_id", []reference.Key{reference.NumericKey(1)}, 5, 9)
	require.Error(t, err)
	require.True(t, services.IsUniqueViolation(err))

	_, err = model.RewriteRows(withStubTx(tx), "title", []reference.Key{reference.NumericKey(1)}, 5, 9)
	require.Error(t, err)
}

func TestNewDefaultModelRegistry(t *testing.T) {
	registry, err := NewDefaultModelRegistry()
	require.NoError(t, err)

	for _, name := range []string{"MergeRequest", "Approval", "IssueAssignee", "Note", "Ci::Build"} {
		_, ok := registry.Lookup(name)
		require.True(t, ok, name)
	}
	_, ok := registry.Lookup("Foo")
	require.False(t, ok)
}

func TestLedgerRepository_ListReferences(t *testing.T) {
	tx := &stubTx{
		queryFunc: func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
			require.Contains(t, sql, "FROM import_placeholder_references")
			require.Equal(t, []any{int64(1), "IssueAssignee", "user_id", int64(10), 50}, args)
			return &stubRows{data: [][]any{
				{int64(11), int64(1), "IssueAssignee", "user_id", pgtype.Int8{}, []byte(`{"user_id": 5, "issue_id": 7}`)},
				{int64(12), int64(1), "IssueAssignee", "user_id", pgtype.Int8{Int64: 3, Valid: true}, nil},
				{int64(13), int64(1), "IssueAssignee", "user_id", pgtype.Int8{}, []byte(`not json`)},
			}}, nil
		},
	}

	refs, err := NewLedgerRepository().ListReferences(withStubTx(tx), 1, reference.Group{Model: "IssueAssignee", Column: "user_id"}, 10, 50)
	require.NoError(t, err)
	require.Len(t, refs, 3)

	require.True(t, refs[0].Key.IsComposite())
	require.Equal(t, []string{"issue_id", "user_id"}, refs[0].Key.Composite.Columns())
	require.Equal(t, int64(3), *refs[1].Key.Numeric)
	require.Error(t, refs[2].Key.Validate())
}

func TestLedgerRepository_ListMemberships(t *testing.T) {
	expires := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tx := &stubTx{
		queryFunc: func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
			require.Contains(t, sql, "FROM import_placeholder_memberships")
			return &stubRows{data: [][]any{
				{int64(1), int64(4), pgtype.Int8{Int64: 11, Valid: true}, pgtype.Int8{}, 20, pgtype.Timestamptz{Time: expires, Valid: true}, created},
				{int64(2), int64(4), pgtype.Int8{}, pgtype.Int8{Int64: 20, Valid: true}, 30, pgtype.Timestamptz{}, created},
			}}, nil
		},
	}

	got, err := NewLedgerRepository().ListMemberships(withStubTx(tx), 4, 0, 100)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, membership.GroupScope(11), got[0].Scope)
	require.Equal(t, membership.Reporter, got[0].AccessLevel)
	require.Equal(t, expires, *got[0].ExpiresAt)
	require.Equal(t, membership.ProjectScope(20), got[1].Scope)
	require.Nil(t, got[1].ExpiresAt)
}

func TestLedgerRepository_DeleteReferences(t *testing.T) {
	var called bool
	tx := &stubTx{
		execFunc: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			called = true
			require.Contains(t, sql, "DELETE FROM import_placeholder_references")
			require.Equal(t, []int64{1, 2}, args[0])
			return pgconn.NewCommandTag("DELETE 2"), nil
		},
	}
	repo := NewLedgerRepository()

	n, err := repo.DeleteReferences(withStubTx(tx), nil)
	require.NoError(t, err)
	require.Zero(t, n)
	require.False(t, called)

	n, err = repo.DeleteReferences(withStubTx(tx), []int64{1, 2})
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
}

func TestSourceUserRepository_GetByID(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tx := &stubTx{
		queryRowFunc: func(ctx context.Context, sql string, args ...any) pgx.Row {
			require.Contains(t, sql, "FROM import_source_users")
			if args[0] == int64(404) {
				return stubRow{scan: func(...any) error { return pgx.ErrNoRows }}
			}
			return rowOf(int64(1), int64(10), "https://github.com", "octocat", int64(500),
				pgtype.Int8{Int64: 600, Valid: true}, pgtype.Int8{}, "reassignment_in_progress", now, now)
		},
	}
	repo := NewSourceUserRepository()

	su, err := repo.GetByID(withStubTx(tx), 1)
	require.NoError(t, err)
	require.Equal(t, int64(500), su.PlaceholderUserID)
	require.Equal(t, int64(600), *su.ReassignToUserID)
	require.Nil(t, su.ReassignedByUserID)
	require.True(t, su.ReassignmentInProgress())

	_, err = repo.GetByID(withStubTx(tx), 404)
	require.ErrorIs(t, err, services.ErrSourceUserNotFound)
}

func TestSourceUserRepository_GetByIDRejectsUnknownStatus(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tx := &stubTx{
		queryRowFunc: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return rowOf(int64(1), int64(10), "https://github.com", "octocat", int64(500),
				pgtype.Int8{}, pgtype.Int8{}, "awaiting_approval", now, now)
		},
	}
	_, err := NewSourceUserRepository().GetByID(withStubTx(tx), 1)
	require.ErrorContains(t, err, `unknown status "awaiting_approval"`)
}

func TestSourceUserRepository_UpdateStatus(t *testing.T) {
	affected := "UPDATE 1"
	tx := &stubTx{
		execFunc: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			require.Contains(t, sql, "AND status = $2")
			require.Equal(t, []any{int64(1), "reassignment_in_progress", "completed"}, args)
			return pgconn.NewCommandTag(affected), nil
		},
	}
	repo := NewSourceUserRepository()

	ok, err := repo.UpdateStatus(withStubTx(tx), 1, sourceuser.StatusReassignmentInProgress, sourceuser.StatusCompleted)
	require.NoError(t, err)
	require.True(t, ok)

	affected = "UPDATE 0"
	ok, err = repo.UpdateStatus(withStubTx(tx), 1, sourceuser.StatusReassignmentInProgress, sourceuser.StatusCompleted)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = repo.UpdateStatus(withStubTx(tx), 1, sourceuser.StatusCompleted, sourceuser.StatusPending)
	require.Error(t, err)
}

func TestSourceUserRepository_NamespaceFullPath(t *testing.T) {
	tx := &stubTx{
		queryRowFunc: func(ctx context.Context, sql string, args ...any) pgx.Row {
			require.Contains(t, sql, "WITH RECURSIVE chain")
			if args[0] == int64(404) {
				return rowOf(pgtype.Text{})
			}
			return rowOf(pgtype.Text{String: "parent/child", Valid: true})
		},
	}
	repo := NewSourceUserRepository()

	path, err := repo.NamespaceFullPath(withStubTx(tx), 10)
	require.NoError(t, err)
	require.Equal(t, "parent/child", path)

	_, err = repo.NamespaceFullPath(withStubTx(tx), 404)
	require.ErrorIs(t, err, services.ErrScopeNotFound)
}

func TestUserRepository_GetByID(t *testing.T) {
	tx := &stubTx{
		queryRowFunc: func(ctx context.Context, sql string, args ...any) pgx.Row {
			if args[0] == int64(404) {
				return stubRow{scan: func(...any) error { return pgx.ErrNoRows }}
			}
			return rowOf(int64(600), "real@example.com", true)
		},
	}
	repo := NewUserRepository()

	u, err := repo.GetByID(withStubTx(tx), 600)
	require.NoError(t, err)
	require.Equal(t, &services.User{ID: 600, Email: "real@example.com", Admin: true}, u)

	_, err = repo.GetByID(withStubTx(tx), 404)
	require.ErrorIs(t, err, services.ErrUserNotFound)
}

func TestAccessRepository_ScopeAncestry(t *testing.T) {
	tx := &stubTx{
		queryRowFunc: func(ctx context.Context, sql string, args ...any) pgx.Row {
			require.Contains(t, sql, "FROM projects")
			if args[0] == int64(404) {
				return stubRow{scan: func(...any) error { return pgx.ErrNoRows }}
			}
			return rowOf(int64(11))
		},
		queryFunc: func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
			require.Contains(t, sql, "WITH RECURSIVE chain")
			if args[0] == int64(11) {
				return &stubRows{data: [][]any{{int64(11)}, {int64(10)}}}, nil
			}
			return &stubRows{}, nil
		},
	}
	repo := NewAccessRepository()

	chain, err := repo.ScopeAncestry(withStubTx(tx), membership.ProjectScope(20))
	require.NoError(t, err)
	require.Equal(t, []int64{11, 10}, chain)

	_, err = repo.ScopeAncestry(withStubTx(tx), membership.ProjectScope(404))
	require.ErrorIs(t, err, services.ErrScopeNotFound)

	_, err = repo.ScopeAncestry(withStubTx(tx), membership.GroupScope(99))
	require.ErrorIs(t, err, services.ErrScopeNotFound)
}

func TestAccessRepository_Create(t *testing.T) {
	tx := &stubTx{
		queryRowFunc: func(ctx context.Context, sql string, args ...any) pgx.Row {
			require.Contains(t, sql, "INSERT INTO members")
			require.Equal(t, int64(600), args[0])
			require.Equal(t, int64(20), args[1])
			require.Equal(t, "Project", args[2])
			require.Equal(t, 30, args[3])
			if args[5] == nil || args[5].(*int64) == nil {
				return stubRow{scan: func(...any) error {
					return &pgconn.PgError{Code: "23505", ConstraintName: "members_user_source_key"}
				}}
			}
			return rowOf(int64(77))
		},
	}
	repo := NewAccessRepository()
	grantor := int64(700)
	p := &membership.Placeholder{Scope: membership.ProjectScope(20), AccessLevel: membership.Developer}

	id, err := repo.Create(withStubTx(tx), membership.NewMember(p, 600, &grantor))
	require.NoError(t, err)
	require.Equal(t, int64(77), id)

	_, err = repo.Create(withStubTx(tx), membership.NewMember(p, 600, nil))
	require.Error(t, err)
	require.True(t, services.IsUniqueViolation(err))
}

func TestRepositories_RequireDatabase(t *testing.T) {
	_, err := NewUserRepository().GetByID(context.Background(), 1)
	require.ErrorIs(t, err, composables.ErrNoPool)
}
