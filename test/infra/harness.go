package infra

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// Harness owns the database used by a stress run: where it came from, the
// migrated pool and whatever must be torn down afterwards.
type Harness struct {
	container *PGContainer
	pool      *pgxpool.Pool
	dsn       string
	teardown  func(context.Context) error
}

// NewHarness picks a database in order of preference: an explicit dsn, the
// STRESS_TEST_PG_DSN variable, a Docker container, a local PostgreSQL. Shared
// servers get an isolated schema.
func NewHarness(ctx context.Context, dsn string, log logrus.FieldLogger) (*Harness, error) {
	h := &Harness{}
	shared := true
	if dsn == "" {
		dsn = os.Getenv("STRESS_TEST_PG_DSN")
	}

	if dsn == "" {
		shared = false
		var err error
		if dockerAvailable(ctx) {
			h.container, dsn, err = StartPostgres16(ctx)
		} else {
			dsn, err = InitLocalDatabase(ctx)
		}
		if err != nil {
			return nil, fmt.Errorf("infra: provision database: %w", err)
		}
	}
	h.dsn = dsn

	pool, teardown, err := ApplyMigrations(ctx, dsn, shared, log)
	if err != nil {
		_ = h.container.Terminate(ctx)
		return nil, err
	}
	h.pool = pool
	h.teardown = teardown
	return h, nil
}

func (h *Harness) Pool() *pgxpool.Pool {
	return h.pool
}

// DSN returns the server connection string, without the schema isolation.
func (h *Harness) DSN() string {
	return h.dsn
}

// Close releases the pool, drops the isolated schema and stops the container.
func (h *Harness) Close(ctx context.Context) error {
	h.pool.Close()
	err := h.teardown(ctx)
	if termErr := h.container.Terminate(ctx); err == nil {
		err = termErr
	}
	return err
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return exec.CommandContext(ctx, "docker", "info").Run() == nil
}
