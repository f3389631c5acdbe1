package composables

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/kai-sub/gitlab/pkg/constants"
)

// InSavepoint runs fn inside a savepoint of the transaction carried by ctx.
// A failing fn rolls back to the savepoint and leaves the outer transaction usable.
func InSavepoint(ctx context.Context, fn func(context.Context) error) error {
	outer, ok := ctx.Value(constants.TxKey).(pgx.Tx)
	if !ok || outer == nil {
		return ErrNoTx
	}

	sp, err := outer.Begin(ctx)
	if err != nil {
		return err
	}

	if err := fn(WithTx(ctx, sp)); err != nil {
		if rErr := sp.Rollback(ctx); rErr != nil {
			return errors.Join(err, rErr)
		}
		return err
	}
	return sp.Commit(ctx)
}

// Transactor exposes InTx and InSavepoint to services that take their
// transaction boundaries as a dependency.
type Transactor struct{}

func NewTransactor() Transactor {
	return Transactor{}
}

func (Transactor) InTx(ctx context.Context, fn func(context.Context) error) error {
	return InTx(ctx, fn)
}

func (Transactor) InSavepoint(ctx context.Context, fn func(context.Context) error) error {
	return InSavepoint(ctx, fn)
}
