// Package store is the sole authority for persistent case state. Every
// write from the graph, the executor, and the API handlers goes through it.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Sentinel errors surfaced to callers. Handlers map these to 404s; the
// graph maps a missing case to a failed run.
var (
	ErrCaseNotFound     = errors.New("case not found")
	ErrMessageNotFound  = errors.New("message not found")
	ErrProposalNotFound = errors.New("proposal not found")
	ErrRunNotFound      = errors.New("run not found")
)

// Store wraps the PostgreSQL pool and the optional Redis client used for
// per-case locking.
type Store struct {
	db      *sql.DB
	redis   *redis.Client
	lockTTL time.Duration
}

// New creates a Store. redisClient may be nil; locking then falls back to
// PostgreSQL advisory locks.
func New(db *sql.DB, redisClient *redis.Client, lockTTL time.Duration) *Store {
	if lockTTL <= 0 {
		lockTTL = 10 * time.Minute
	}
	return &Store{db: db, redis: redisClient, lockTTL: lockTTL}
}

// DB exposes the underlying pool for collaborators that share it
// (checkpointer, queue, migrations).
func (s *Store) DB() *sql.DB {
	return s.db
}

func jsonb(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal jsonb: %w", err)
	}
	return b, nil
}

func scanJSON(raw []byte, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func intPtr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}
