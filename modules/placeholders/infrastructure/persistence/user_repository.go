package persistence

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/kai-sub/gitlab/modules/placeholders/services"
	"github.com/kai-sub/gitlab/pkg/composables"
)

type UserRepository struct{}

func NewUserRepository() *UserRepository {
	return &UserRepository{}
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*services.User, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	var u services.User
	err = tx.QueryRow(ctx, `SELECT id, email, admin FROM users WHERE id = $1`, id).Scan(&u.ID, &u.Email, &u.Admin)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, services.ErrUserNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get user")
	}
	return &u, nil
}
