// Package postgres implements checkpoint.Store against PostgreSQL via
// github.com/jackc/pgx/v5/pgxpool, with schema migrations applied through
// github.com/golang-migrate/migrate/v4 from embedded SQL files.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/estatecopilot/runtime/runtime/checkpoint"
)

//go:embed migrations
var migrationsFS embed.FS

// Config holds connection pool settings for Store.
type Config struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// Store implements checkpoint.Store against a `checkpoints` table: one row
// per checkpoint, append-only, with a `forked_from` self-reference used for
// HITL resume (§4.7, §5 "checkpoint store is append-only per session").
type Store struct {
	pool *pgxpool.Pool
}

// New connects to PostgreSQL and applies pending migrations before
// returning a usable Store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("checkpoint/postgres: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("checkpoint/postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("checkpoint/postgres: ping: %w", err)
	}

	if err := runMigrations(cfg.DSN); err != nil {
		pool.Close()
		return nil, err
	}

	return &Store{pool: pool}, nil
}

func runMigrations(dsn string) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("checkpoint/postgres: migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, dsn)
	if err != nil {
		return fmt.Errorf("checkpoint/postgres: migration init: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("checkpoint/postgres: apply migrations: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Write implements checkpoint.Store.
func (s *Store) Write(ctx context.Context, state checkpoint.RunState) (string, error) {
	if state.CreatedAt.IsZero() {
		state.CreatedAt = time.Now()
	}
	id := uuid.NewString()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO checkpoints (id, run_id, session_id, phase, data, created_at, forked_from)
		VALUES ($1, $2, $3, $4, $5, $6, NULL)`,
		id, state.RunID, state.SessionID, state.Phase, []byte(state.Data), state.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("checkpoint/postgres: write: %w", err)
	}
	return id, nil
}

// Latest implements checkpoint.Store.
func (s *Store) Latest(ctx context.Context, sessionID string) (checkpoint.Checkpoint, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, run_id, session_id, phase, data, created_at, forked_from
		FROM checkpoints
		WHERE session_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, sessionID)
	return scanCheckpoint(row)
}

// Get implements checkpoint.Store.
func (s *Store) Get(ctx context.Context, checkpointID string) (checkpoint.Checkpoint, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, run_id, session_id, phase, data, created_at, forked_from
		FROM checkpoints WHERE id = $1`, checkpointID)
	return scanCheckpoint(row)
}

// Fork implements checkpoint.Store by inserting a new row that copies the
// source checkpoint's data and references it via forked_from.
func (s *Store) Fork(ctx context.Context, checkpointID string) (string, error) {
	src, err := s.Get(ctx, checkpointID)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO checkpoints (id, run_id, session_id, phase, data, created_at, forked_from)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, src.RunState.RunID, src.RunState.SessionID, src.RunState.Phase, []byte(src.RunState.Data), time.Now(), checkpointID)
	if err != nil {
		return "", fmt.Errorf("checkpoint/postgres: fork: %w", err)
	}
	return id, nil
}

type row interface {
	Scan(dest ...any) error
}

func scanCheckpoint(r row) (checkpoint.Checkpoint, error) {
	var (
		cp         checkpoint.Checkpoint
		data       []byte
		forkedFrom sql.NullString
	)
	err := r.Scan(&cp.ID, &cp.RunState.RunID, &cp.RunState.SessionID, &cp.RunState.Phase, &data, &cp.RunState.CreatedAt, &forkedFrom)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return checkpoint.Checkpoint{}, checkpoint.ErrNotFound
		}
		return checkpoint.Checkpoint{}, fmt.Errorf("checkpoint/postgres: scan: %w", err)
	}
	cp.RunState.Data = data
	cp.ForkedFrom = forkedFrom.String
	return cp, nil
}

var _ checkpoint.Store = (*Store)(nil)
