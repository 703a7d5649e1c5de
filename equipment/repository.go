package equipment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals the requested equipment does not exist.
	ErrNotFound = errors.New("equipment: not found")
	// ErrDuplicateSerial signals the serial number is already registered.
	ErrDuplicateSerial = errors.New("equipment: serial number already exists")
	// ErrInvalid signals missing or malformed input.
	ErrInvalid = errors.New("equipment: invalid input")
)

// Repository provides access to equipment rows.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const columns = `id::text, name, serial_number, category, status, default_team_id::text, created_at`

// GetByID fetches equipment by its primary key.
func (r *Repository) GetByID(ctx context.Context, id string) (Equipment, error) {
	query := `SELECT ` + columns + ` FROM equipment WHERE id = $1`

	eq, err := scan(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || invalidID(err) {
			return Equipment{}, ErrNotFound
		}
		return Equipment{}, fmt.Errorf("equipment: query by id: %w", err)
	}
	return eq, nil
}

// Create registers a new active piece of equipment.
func (r *Repository) Create(ctx context.Context, params CreateParams) (Equipment, error) {
	if strings.TrimSpace(params.Name) == "" || strings.TrimSpace(params.SerialNumber) == "" {
		return Equipment{}, fmt.Errorf("%w: name and serial number are required", ErrInvalid)
	}

	query := `
		INSERT INTO equipment (name, serial_number, category, status, default_team_id)
		VALUES ($1, $2, $3, 'ACTIVE', $4)
		RETURNING ` + columns

	eq, err := scan(r.pool.QueryRow(ctx, query,
		strings.TrimSpace(params.Name),
		strings.TrimSpace(params.SerialNumber),
		strings.TrimSpace(params.Category),
		params.DefaultTeamID,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Equipment{}, ErrDuplicateSerial
		}
		return Equipment{}, fmt.Errorf("equipment: create: %w", err)
	}
	return eq, nil
}

// List fetches up to limit equipment rows ordered by name.
func (r *Repository) List(ctx context.Context, limit int) ([]Equipment, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	query := `SELECT ` + columns + ` FROM equipment ORDER BY name ASC LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("equipment: list: %w", err)
	}
	defer rows.Close()

	out := make([]Equipment, 0, limit)
	for rows.Next() {
		eq, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("equipment: scan: %w", err)
		}
		out = append(out, eq)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("equipment: iterate: %w", err)
	}
	return out, nil
}

// invalidID reports a malformed uuid literal (22P02).
func invalidID(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}

func scan(row pgx.Row) (Equipment, error) {
	var eq Equipment
	err := row.Scan(
		&eq.ID,
		&eq.Name,
		&eq.SerialNumber,
		&eq.Category,
		&eq.Status,
		&eq.DefaultTeamID,
		&eq.CreatedAt,
	)
	return eq, err
}
