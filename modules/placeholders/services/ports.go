package services

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/kai-sub/gitlab/modules/placeholders/domain/membership"
	"github.com/kai-sub/gitlab/modules/placeholders/domain/reference"
	"github.com/kai-sub/gitlab/modules/placeholders/domain/sourceuser"
)

var (
	ErrSourceUserNotFound = errors.New("import source user not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrScopeNotFound      = errors.New("membership scope not found")
	ErrNoReassignTarget   = errors.New("source user has no reassign_to_user_id")
)

type SourceUserRepository interface {
	GetByID(ctx context.Context, id int64) (*sourceuser.SourceUser, error)
	// UpdateStatus moves the row from one status to another and reports whether it matched.
	UpdateStatus(ctx context.Context, id int64, from, to sourceuser.Status) (bool, error)
	NamespaceFullPath(ctx context.Context, namespaceID int64) (string, error)
	ListInProgressIDs(ctx context.Context, limit int) ([]int64, error)
}

type User struct {
	ID    int64
	Email string
	Admin bool
}

type UserRepository interface {
	GetByID(ctx context.Context, id int64) (*User, error)
}

// LedgerStore holds the pending references and memberships of a source user.
// Deletes run in the transaction carried by ctx.
type LedgerStore interface {
	ListReferenceGroups(ctx context.Context, sourceUserID int64) ([]reference.Group, error)
	CountReferences(ctx context.Context, sourceUserID int64, group reference.Group) (int64, error)
	ListReferences(ctx context.Context, sourceUserID int64, group reference.Group, afterID int64, limit int) ([]*reference.Reference, error)
	DeleteReferences(ctx context.Context, ids []int64) (int64, error)

	ListMemberships(ctx context.Context, sourceUserID int64, afterID int64, limit int) ([]*membership.Placeholder, error)
	DeleteMembership(ctx context.Context, id int64) error
	DeleteMemberships(ctx context.Context, sourceUserID int64) (int64, error)
}

type AccessRepository interface {
	// ScopeAncestry returns namespace ids from the scope's own namespace up to the top level.
	// For a group scope the group itself comes first, for a project its namespace.
	ScopeAncestry(ctx context.Context, scope membership.Scope) ([]int64, error)
	// ListMemberships returns the user's memberships at scope and on the given namespaces.
	ListMemberships(ctx context.Context, userID int64, scope membership.Scope, namespaceIDs []int64) ([]*membership.Existing, error)
}

type MemberRepository interface {
	Create(ctx context.Context, m *membership.Member) (int64, error)
}

type Transactor interface {
	InTx(ctx context.Context, fn func(context.Context) error) error
	InSavepoint(ctx context.Context, fn func(context.Context) error) error
}

type Pauser interface {
	Pause(ctx context.Context) error
}
