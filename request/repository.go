package request

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"maintflow/equipment"
)

// Repository is the request/log store the service commits through.
type Repository interface {
	Get(ctx context.Context, id string) (Request, error)
	// Create inserts req in NEW together with its CREATED entry, provided the
	// equipment still has equipmentStatus when the row is written.
	Create(ctx context.Context, req Request, equipmentStatus equipment.Status, entry LogEntry) (Request, error)
	// Commit applies ws atomically. It fails with ErrConflict when the stored
	// status or technician no longer match ws.Expected*.
	Commit(ctx context.Context, ws WriteSet) (Request, error)
	// Delete removes the request and its logs if its status still equals expected.
	Delete(ctx context.Context, id string, expected Status) error
	Logs(ctx context.Context, requestID string) ([]LogEntry, error)
}

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool TxBeginner
}

var _ TxBeginner = (*pgxpool.Pool)(nil)

func NewRepository(pool TxBeginner) *PGRepository {
	return &PGRepository{pool: pool}
}

const requestColumns = `
	id::text, title, description, type, status, priority, category,
	scheduled_date, started_at, completed_at, duration_minutes, repair_notes,
	equipment_id::text, team_id::text, technician_id::text, created_by::text,
	created_at, updated_at`

func scanRequest(row pgx.Row) (Request, error) {
	var r Request
	err := row.Scan(
		&r.ID, &r.Title, &r.Description, &r.Type, &r.Status, &r.Priority, &r.Category,
		&r.ScheduledDate, &r.StartedAt, &r.CompletedAt, &r.DurationMinutes, &r.RepairNotes,
		&r.EquipmentID, &r.TeamID, &r.TechnicianID, &r.CreatedBy,
		&r.CreatedAt, &r.UpdatedAt,
	)
	return r, err
}

func (r *PGRepository) Get(ctx context.Context, id string) (Request, error) {
	rec, err := scanRequest(r.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM maintenance_requests WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || invalidID(err) {
			return Request{}, ErrNotFound
		}
		return Request{}, fmt.Errorf("request: get: %w", err)
	}
	return rec, nil
}

func (r *PGRepository) Create(ctx context.Context, req Request, equipmentStatus equipment.Status, entry LogEntry) (Request, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Request{}, fmt.Errorf("request: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// FOR SHARE serialises against the scrap cascade's UPDATE of the same row.
	var current equipment.Status
	err = tx.QueryRow(ctx, `SELECT status FROM equipment WHERE id = $1 FOR SHARE`, req.EquipmentID).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || invalidID(err) {
			return Request{}, equipment.ErrNotFound
		}
		return Request{}, fmt.Errorf("request: lock equipment: %w", err)
	}
	if err := equipmentMoved(req.EquipmentID, equipmentStatus, current); err != nil {
		return Request{}, err
	}

	insertSQL := `
INSERT INTO maintenance_requests (
	title, description, type, status, priority, category, scheduled_date,
	equipment_id, team_id, created_by, created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::uuid, $10, $11, $11)
RETURNING ` + requestColumns

	rec, err := scanRequest(tx.QueryRow(ctx, insertSQL,
		req.Title,
		req.Description,
		req.Type,
		req.Status,
		req.Priority,
		req.Category,
		req.ScheduledDate,
		req.EquipmentID,
		req.TeamID,
		req.CreatedBy,
		req.CreatedAt,
	))
	if err != nil {
		return Request{}, fmt.Errorf("request: insert: %w", err)
	}

	entry.RequestID = rec.ID
	if _, err := appendLog(ctx, tx, entry); err != nil {
		return Request{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Request{}, fmt.Errorf("request: commit create: %w", err)
	}
	return rec, nil
}

func (r *PGRepository) Commit(ctx context.Context, ws WriteSet) (Request, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Request{}, fmt.Errorf("request: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	updateSQL := `
UPDATE maintenance_requests
SET status           = $4,
    started_at       = COALESCE(started_at, $5),
    completed_at     = COALESCE(completed_at, $6),
    duration_minutes = COALESCE($7, duration_minutes),
    repair_notes     = COALESCE($8, repair_notes),
    technician_id    = CASE WHEN $9 THEN $10::uuid ELSE technician_id END,
    title            = COALESCE($11, title),
    description      = COALESCE($12, description),
    priority         = COALESCE($13, priority),
    scheduled_date   = COALESCE($14, scheduled_date),
    updated_at       = $15
WHERE id = $1
  AND status = $2
  AND technician_id IS NOT DISTINCT FROM $3::uuid
RETURNING ` + requestColumns

	rec, err := scanRequest(tx.QueryRow(ctx, updateSQL,
		ws.RequestID,
		ws.ExpectedStatus,
		ws.ExpectedTechnicianID,
		ws.Status,
		ws.StartedAt,
		ws.CompletedAt,
		ws.DurationMinutes,
		ws.RepairNotes,
		ws.SetTechnician,
		ws.TechnicianID,
		ws.Title,
		ws.Description,
		ws.Priority,
		ws.ScheduledDate,
		ws.At,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, r.missOrConflict(ctx, tx, ws.RequestID)
		}
		return Request{}, fmt.Errorf("request: update: %w", err)
	}

	if ws.ScrapEquipmentID != "" {
		tag, err := tx.Exec(ctx, `UPDATE equipment SET status = 'SCRAPPED' WHERE id = $1`, ws.ScrapEquipmentID)
		if err != nil {
			return Request{}, fmt.Errorf("request: scrap equipment: %w", err)
		}
		if tag.RowsAffected() != 1 {
			return Request{}, fmt.Errorf("request: scrap equipment %s: no such row", ws.ScrapEquipmentID)
		}
	}

	entry := ws.Log
	entry.RequestID = rec.ID
	if _, err := appendLog(ctx, tx, entry); err != nil {
		return Request{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Request{}, fmt.Errorf("request: commit: %w", err)
	}
	return rec, nil
}

// equipmentMoved reports a change of equipment status since the caller read it.
func equipmentMoved(id string, expected, current equipment.Status) error {
	switch {
	case current == expected:
		return nil
	case current == equipment.StatusScrapped:
		return fmt.Errorf("%w: equipment %s is scrapped", ErrValidation, id)
	default:
		return fmt.Errorf("%w: equipment %s changed to %s", ErrConflict, id, current)
	}
}

// missOrConflict tells a vanished row apart from a lost compare-and-swap.
func (r *PGRepository) missOrConflict(ctx context.Context, tx pgx.Tx, id string) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM maintenance_requests WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("request: verify existence: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}

func (r *PGRepository) Delete(ctx context.Context, id string, expected Status) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("request: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM maintenance_requests WHERE id = $1 AND status = $2`, id, expected)
	if err != nil {
		return fmt.Errorf("request: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missOrConflict(ctx, tx, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("request: commit delete: %w", err)
	}
	return nil
}

func (r *PGRepository) Logs(ctx context.Context, requestID string) ([]LogEntry, error) {
	const query = `
SELECT id, request_id::text, COALESCE(actor_user_id::text, ''), action, details, created_at
FROM request_logs
WHERE request_id = $1
ORDER BY id ASC
`
	rows, err := r.pool.Query(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("request: list logs: %w", err)
	}
	defer rows.Close()

	out := make([]LogEntry, 0, 8)
	for rows.Next() {
		var (
			e    LogEntry
			body []byte
		)
		if err := rows.Scan(&e.ID, &e.RequestID, &e.ActorUserID, &e.Action, &body, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("request: scan log: %w", err)
		}
		if err := json.Unmarshal(body, &e.Details); err != nil {
			return nil, fmt.Errorf("request: decode log details: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("request: iterate logs: %w", err)
	}
	return out, nil
}

// invalidID reports a malformed uuid literal (invalid_text_representation).
func invalidID(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}
