package team

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
	ErrNotFound      = errors.New("team: not found")
	ErrDuplicateName = errors.New("team: name already exists")
	ErrAlreadyMember = errors.New("team: user is already a member")
	ErrUnknownUser   = errors.New("team: user does not exist")
	ErrInvalid       = errors.New("team: invalid input")
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) GetByID(ctx context.Context, id string) (Team, error) {
	const query = `SELECT id::text, name, created_at FROM teams WHERE id = $1`

	var t Team
	if err := r.pool.QueryRow(ctx, query, id).Scan(&t.ID, &t.Name, &t.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Team{}, ErrNotFound
		}
		return Team{}, fmt.Errorf("team: get: %w", err)
	}
	return t, nil
}

func (r *Repository) Create(ctx context.Context, name string) (Team, error) {
	const query = `INSERT INTO teams (name) VALUES ($1) RETURNING id::text, name, created_at`

	name = strings.TrimSpace(name)
	if name == "" {
		return Team{}, fmt.Errorf("%w: name is required", ErrInvalid)
	}

	var t Team
	err := r.pool.QueryRow(ctx, query, name).Scan(&t.ID, &t.Name, &t.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Team{}, ErrDuplicateName
		}
		return Team{}, fmt.Errorf("team: create: %w", err)
	}
	return t, nil
}

func (r *Repository) AddMember(ctx context.Context, teamID, userID string) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO team_members (team_id, user_id) VALUES ($1, $2)`, teamID, userID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return ErrAlreadyMember
			case "23503":
				if pgErr.ConstraintName == "team_members_team_id_fkey" {
					return ErrNotFound
				}
				return ErrUnknownUser
			}
		}
		return fmt.Errorf("team: add member: %w", err)
	}
	return nil
}

// Members lists the members of teamID with their system roles. An unknown
// team yields ErrNotFound rather than an empty slice.
func (r *Repository) Members(ctx context.Context, teamID string) ([]Member, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM teams WHERE id = $1)`, teamID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("team: verify team: %w", err)
	}
	if !exists {
		return nil, ErrNotFound
	}

	const query = `
		SELECT tm.team_id::text, u.id::text, u.full_name, u.role
		FROM team_members tm
		JOIN users u ON u.id = tm.user_id
		WHERE tm.team_id = $1
		ORDER BY u.full_name ASC
	`

	rows, err := r.pool.Query(ctx, query, teamID)
	if err != nil {
		return nil, fmt.Errorf("team: list members: %w", err)
	}
	defer rows.Close()

	members := make([]Member, 0, 8)
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.TeamID, &m.UserID, &m.FullName, &m.Role); err != nil {
			return nil, fmt.Errorf("team: scan member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("team: iterate members: %w", err)
	}
	return members, nil
}
