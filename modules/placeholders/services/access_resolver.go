package services

import (
	"context"
	"errors"

	"github.com/jonboulle/clockwork"

	"github.com/kai-sub/gitlab/modules/placeholders/domain/membership"
)

// AccessResolver computes the effective access of a user at a group or project.
type AccessResolver struct {
	repo  AccessRepository
	clock clockwork.Clock
}

func NewAccessResolver(repo AccessRepository, clock clockwork.Clock) *AccessResolver {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &AccessResolver{repo: repo, clock: clock}
}

// EffectiveAccess resolves direct and inherited access of userID at scope.
// Inheritance stops at rootNamespaceID. A scope that no longer sits under the root is out of scope.
func (r *AccessResolver) EffectiveAccess(ctx context.Context, userID int64, scope membership.Scope, rootNamespaceID int64) (membership.Access, error) {
	chain, err := r.repo.ScopeAncestry(ctx, scope)
	if errors.Is(err, ErrScopeNotFound) {
		return membership.OutOfScopeAccess(), nil
	}
	if err != nil {
		return membership.Access{}, err
	}

	rootIdx := -1
	for i, id := range chain {
		if id == rootNamespaceID {
			rootIdx = i
			break
		}
	}
	if rootIdx < 0 {
		return membership.OutOfScopeAccess(), nil
	}
	chain = chain[:rootIdx+1]

	ancestors := chain
	if scope.Kind == membership.ScopeGroup {
		ancestors = chain[1:]
	}

	found, err := r.repo.ListMemberships(ctx, userID, scope, ancestors)
	if err != nil {
		return membership.Access{}, err
	}
	return membership.ResolveAccess(scope, ancestors, found, r.clock.Now()), nil
}
