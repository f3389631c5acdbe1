package worker

import "context"

// Queue lists source users whose reassignment is in progress.
type Queue interface {
	ListInProgressIDs(ctx context.Context, limit int) ([]int64, error)
}

// Executor runs reassignment passes for a single source user.
type Executor interface {
	Execute(ctx context.Context, sourceUserID int64) error
	Fail(ctx context.Context, sourceUserID int64, cause error) error
}

// Locker serializes work on a key across worker processes.
// The returned unlock func is non-nil only when ok is true.
type Locker interface {
	TryLock(ctx context.Context, key int64) (unlock func(), ok bool, err error)
}
