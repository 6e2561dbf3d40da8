package history

import (
	"context"
	"database/sql"
	"errors"
)

// NOTE: This repository assumes the following table exists:
//
// CREATE TABLE call_history (
//     id               UUID PRIMARY KEY,
//     call_id          UUID NOT NULL UNIQUE,
//     caller_id        TEXT NOT NULL,
//     callee_id        TEXT NOT NULL,
//     outcome          TEXT NOT NULL,
//     end_reason       TEXT NOT NULL,
//     created_at       TIMESTAMPTZ NOT NULL,
//     connected_at     TIMESTAMPTZ,
//     ended_at         TIMESTAMPTZ NOT NULL,
//     duration_seconds BIGINT NOT NULL DEFAULT 0
// );
//
// The UNIQUE(call_id) constraint makes the append idempotent: a retried write
// for the same call is reported as already recorded, not duplicated.

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

var ErrAlreadyRecorded = errors.New("history: call already recorded")

func (r *PostgresRepo) Append(ctx context.Context, rec Record) error {
	const q = `
INSERT INTO call_history
    (id, call_id, caller_id, callee_id, outcome, end_reason, created_at, connected_at, ended_at, duration_seconds)
VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, '0001-01-01T00:00:00Z'::timestamptz), $9, $10)
ON CONFLICT (call_id) DO NOTHING
`
	res, err := r.db.ExecContext(ctx, q,
		rec.ID,
		rec.CallID,
		rec.CallerID,
		rec.CalleeID,
		rec.Outcome,
		rec.EndReason,
		rec.CreatedAt,
		rec.ConnectedAt,
		rec.EndedAt,
		rec.DurationSeconds,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAlreadyRecorded
	}
	return nil
}
