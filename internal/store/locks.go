package store

import (
	"context"

	"github.com/openfoia/case-engine/internal/pkg/distlock"
)

// AcquireCaseLock tries to take the per-case lock that serializes graph
// runs. Redis backs the lock when configured; otherwise a PostgreSQL
// advisory lock on the FNV-64a hash of "case:<id>". Returns (lock, true)
// on success; the caller must Release on every path.
func (s *Store) AcquireCaseLock(ctx context.Context, caseID int64) (distlock.DistLock, bool, error) {
	lock := distlock.NewLock(s.redis, s.db, distlock.CaseKey(caseID), s.lockTTL)
	ok, err := lock.Acquire(ctx)
	if err != nil {
		return nil, false, err
	}
	return lock, ok, nil
}

// ReleaseCaseLock releases a lock returned by AcquireCaseLock. Nil-safe so
// callers can defer it unconditionally.
func (s *Store) ReleaseCaseLock(ctx context.Context, lock distlock.DistLock) {
	if lock == nil {
		return
	}
	_ = lock.Release(ctx)
}
