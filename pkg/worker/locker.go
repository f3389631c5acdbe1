package worker

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/kai-sub/gitlab/pkg/composables"
)

// PgLocker takes session level advisory locks on a dedicated pool connection.
type PgLocker struct{}

func NewPgLocker() *PgLocker {
	return &PgLocker{}
}

func (l *PgLocker) TryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := composables.UsePool(ctx)
	if err != nil {
		return nil, false, err
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("worker acquire: %w", err)
	}

	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1::bigint)`, key).Scan(&ok); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("worker advisory lock: %w", err)
	}
	if !ok {
		conn.Release()
		return nil, false, nil
	}
	return func() {
		var released bool
		_ = conn.QueryRow(context.Background(), `SELECT pg_advisory_unlock($1::bigint)`, key).Scan(&released)
		conn.Release()
	}, true, nil
}

func advisoryLockKey(s string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return int64(h.Sum64())
}

func sourceUserLockKey(sourceUserID int64) int64 {
	return advisoryLockKey(fmt.Sprintf("import_source_user:%d", sourceUserID))
}
