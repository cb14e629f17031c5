package records

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"callbridge/pkg/utils"
)

// PostgresRepo persists call records.
//
// NOTE: assumes the following table exists:
//
// CREATE TABLE call_records (
//     id                 UUID PRIMARY KEY,
//     call_id            TEXT NOT NULL,
//     room_name          TEXT NOT NULL,
//     leg_id             TEXT NOT NULL,
//     destination        TEXT NOT NULL,
//     escalation_enabled BOOLEAN NOT NULL DEFAULT FALSE,
//     final_state        TEXT NOT NULL DEFAULT '',
//     transcript         TEXT NOT NULL DEFAULT '',
//     status             TEXT NOT NULL,
//     created_at         TIMESTAMPTZ NOT NULL,
//     ended_at           TIMESTAMPTZ
// );
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) SaveCallRecord(ctx context.Context, rec CallRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	return utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		const q = `
INSERT INTO call_records (id, call_id, room_name, leg_id, destination, escalation_enabled, final_state, transcript, status, created_at, ended_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`
		_, err := tx.ExecContext(ctx, q,
			rec.ID,
			rec.CallID,
			rec.RoomName,
			rec.LegID,
			rec.Destination,
			rec.EscalationEnabled,
			rec.FinalState,
			rec.Transcript,
			string(rec.Status),
			rec.CreatedAt,
			nullableTime(rec.EndedAt),
		)
		return err
	})
}

func (r *PostgresRepo) ListCallRecords(ctx context.Context, from, to time.Time) ([]CallRecord, error) {
	const q = `
SELECT id, call_id, room_name, leg_id, destination, escalation_enabled, final_state, transcript, status, created_at, ended_at
FROM call_records
WHERE created_at >= $1 AND created_at < $2
ORDER BY created_at
`
	rows, err := r.db.QueryContext(ctx, q, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]CallRecord, 0)
	for rows.Next() {
		var rec CallRecord
		var status string
		var ended sql.NullTime
		if err := rows.Scan(
			&rec.ID,
			&rec.CallID,
			&rec.RoomName,
			&rec.LegID,
			&rec.Destination,
			&rec.EscalationEnabled,
			&rec.FinalState,
			&rec.Transcript,
			&status,
			&rec.CreatedAt,
			&ended,
		); err != nil {
			return nil, err
		}
		rec.Status = Status(status)
		if ended.Valid {
			rec.EndedAt = ended.Time
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
