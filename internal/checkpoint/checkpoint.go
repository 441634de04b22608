// Package checkpoint persists graph run state between suspensions. One row
// per thread; the per-case advisory lock guarantees a single writer.
package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// ThreadID builds the canonical thread identity for a case's graph runs.
func ThreadID(caseID int64) string {
	return fmt.Sprintf("case:%d", caseID)
}

// Checkpoint is one saved graph state. Interrupt carries the pending
// human-gate payload while the run is suspended; Resume carries the injected
// human decision until the next load consumes it.
type Checkpoint struct {
	ThreadID  string          `json:"thread_id"`
	Node      string          `json:"node"`
	Snapshot  json.RawMessage `json:"snapshot"`
	Interrupt json.RawMessage `json:"interrupt,omitempty"`
	Resume    json.RawMessage `json:"resume,omitempty"`
	Version   int64           `json:"version"`
}

// Checkpointer stores checkpoints in PostgreSQL. Each write replaces the
// thread's row atomically; there is no history to replay.
type Checkpointer struct {
	db *sql.DB
}

// New creates a Checkpointer on the shared pool.
func New(db *sql.DB) *Checkpointer {
	return &Checkpointer{db: db}
}

// Save persists the state reached after a node completed. Any pending
// interrupt or resume value is cleared: the run moved past it. Returns the
// checkpoint version.
func (c *Checkpointer) Save(ctx context.Context, threadID, node string, snapshot json.RawMessage) (int64, error) {
	var version int64
	err := c.db.QueryRowContext(ctx, `
		INSERT INTO foia_checkpoints (thread_id, node, snapshot, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (thread_id) DO UPDATE SET
			node = EXCLUDED.node,
			snapshot = EXCLUDED.snapshot,
			interrupt_payload = NULL,
			resume_value = NULL,
			version = foia_checkpoints.version + 1,
			updated_at = NOW()
		RETURNING version
	`, threadID, node, []byte(snapshot)).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("save checkpoint: %w", err)
	}
	return version, nil
}

// SaveInterrupt persists the state at a suspension point together with the
// payload the human needs to see. The suspended node re-runs from its entry
// on resume, so the snapshot is the state at that node's entry.
func (c *Checkpointer) SaveInterrupt(ctx context.Context, threadID, node string, snapshot, payload json.RawMessage) (int64, error) {
	var version int64
	err := c.db.QueryRowContext(ctx, `
		INSERT INTO foia_checkpoints (thread_id, node, snapshot, interrupt_payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (thread_id) DO UPDATE SET
			node = EXCLUDED.node,
			snapshot = EXCLUDED.snapshot,
			interrupt_payload = EXCLUDED.interrupt_payload,
			resume_value = NULL,
			version = foia_checkpoints.version + 1,
			updated_at = NOW()
		RETURNING version
	`, threadID, node, []byte(snapshot), []byte(payload)).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("save interrupt checkpoint: %w", err)
	}
	return version, nil
}

// Load returns the thread's checkpoint, or nil when the thread has none
// (fresh case, or a prior run completed and cleared it).
func (c *Checkpointer) Load(ctx context.Context, threadID string) (*Checkpoint, error) {
	cp := &Checkpoint{ThreadID: threadID}
	var interrupt, resume []byte
	err := c.db.QueryRowContext(ctx, `
		SELECT node, snapshot, interrupt_payload, resume_value, version
		FROM foia_checkpoints WHERE thread_id = $1
	`, threadID).Scan(&cp.Node, (*[]byte)(&cp.Snapshot), &interrupt, &resume, &cp.Version)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	cp.Interrupt = interrupt
	cp.Resume = resume
	return cp, nil
}

// Resume injects the human decision into a suspended thread. The next Load
// yields it; the suspended node consumes it when it re-executes. Fails when
// the thread has no pending interrupt to resume.
func (c *Checkpointer) Resume(ctx context.Context, threadID string, injected json.RawMessage) error {
	res, err := c.db.ExecContext(ctx, `
		UPDATE foia_checkpoints
		SET resume_value = $2, interrupt_payload = NULL, updated_at = NOW()
		WHERE thread_id = $1 AND interrupt_payload IS NOT NULL
	`, threadID, []byte(injected))
	if err != nil {
		return fmt.Errorf("resume checkpoint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resume checkpoint: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("resume checkpoint: thread %s has no pending interrupt", threadID)
	}
	return nil
}

// Clear removes the thread's checkpoint after a run completes. The next
// trigger starts the graph from scratch.
func (c *Checkpointer) Clear(ctx context.Context, threadID string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM foia_checkpoints WHERE thread_id = $1`, threadID)
	if err != nil {
		return fmt.Errorf("clear checkpoint: %w", err)
	}
	return nil
}
