// Package postgres implements session.Store and the memory package's
// MessageStore/SummaryCache interfaces against PostgreSQL via
// github.com/jackc/pgx/v5/pgxpool, with schema migrations applied through
// github.com/golang-migrate/migrate/v4 from embedded SQL files (§6.3).
package postgres

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/estatecopilot/runtime/runtime/memory"
	"github.com/estatecopilot/runtime/runtime/session"
)

//go:embed migrations
var migrationsFS embed.FS

// Config holds connection pool settings for Store.
type Config struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// Store implements session.Store against the sessions/runs tables and
// memory.MessageStore/memory.SummaryCache against chat_messages/
// chat_sessions (§6.3).
type Store struct {
	pool *pgxpool.Pool
}

// New connects to PostgreSQL and applies pending migrations before
// returning a usable Store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("store/postgres: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("store/postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store/postgres: ping: %w", err)
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
		return fmt.Errorf("store/postgres: migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, dsn)
	if err != nil {
		return fmt.Errorf("store/postgres: migration init: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("store/postgres: apply migrations: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// CreateSession implements session.Store. Idempotent: calling it again for
// an already-active session id returns the existing row unchanged.
func (s *Store) CreateSession(ctx context.Context, id, userID string, now, expiresAt time.Time) (session.Session, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (session_id, user_id, status, created_at, expires_at, last_activity)
		VALUES ($1, NULLIF($2, ''), 'active', $3, $4, $3)
		ON CONFLICT (session_id) DO NOTHING`,
		id, userID, now, expiresAt)
	if err != nil {
		return session.Session{}, fmt.Errorf("store/postgres: create session: %w", err)
	}
	sess, err := s.LoadSession(ctx, id)
	if err != nil {
		return session.Session{}, err
	}
	if sess.Status == session.StatusEnded {
		return session.Session{}, session.ErrSessionEnded
	}
	return sess, nil
}

// LoadSession implements session.Store.
func (s *Store) LoadSession(ctx context.Context, id string) (session.Session, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT session_id, COALESCE(user_id, ''), status, created_at, expires_at, last_activity, ended_at
		FROM sessions WHERE session_id = $1`, id)
	sess, err := scanSession(row)
	if err != nil {
		return session.Session{}, err
	}
	if sess.Expired(time.Now()) {
		return session.Session{}, session.ErrSessionNotFound
	}
	return sess, nil
}

// TouchSession implements session.Store. Best-effort per the interface
// contract: a failure here should never fail the calling run turn.
func (s *Store) TouchSession(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE sessions SET last_activity = $2 WHERE session_id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("store/postgres: touch session: %w", err)
	}
	return nil
}

// EndSession implements session.Store. Idempotent.
func (s *Store) EndSession(ctx context.Context, id string, endedAt time.Time) (session.Session, error) {
	_, err := s.pool.Exec(ctx, `
		UPDATE sessions SET status = 'ended', ended_at = COALESCE(ended_at, $2)
		WHERE session_id = $1`, id, endedAt)
	if err != nil {
		return session.Session{}, fmt.Errorf("store/postgres: end session: %w", err)
	}
	row := s.pool.QueryRow(ctx, `
		SELECT session_id, COALESCE(user_id, ''), status, created_at, expires_at, last_activity, ended_at
		FROM sessions WHERE session_id = $1`, id)
	return scanSession(row)
}

// UpsertRun implements session.Store.
func (s *Store) UpsertRun(ctx context.Context, run session.RunMeta) error {
	labels, err := json.Marshal(run.Labels)
	if err != nil {
		return fmt.Errorf("store/postgres: marshal run labels: %w", err)
	}
	meta, err := json.Marshal(run.Metadata)
	if err != nil {
		return fmt.Errorf("store/postgres: marshal run metadata: %w", err)
	}
	updatedAt := run.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO runs (run_id, session_id, request_seq, query, phase, started_at, updated_at, labels, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (run_id) DO UPDATE SET
			phase = EXCLUDED.phase,
			updated_at = EXCLUDED.updated_at,
			labels = EXCLUDED.labels,
			metadata = EXCLUDED.metadata`,
		run.RunID, run.SessionID, run.RequestSeq, run.Query, string(run.Phase), run.StartedAt, updatedAt, labels, meta)
	if err != nil {
		return fmt.Errorf("store/postgres: upsert run: %w", err)
	}
	return nil
}

// LoadRun implements session.Store.
func (s *Store) LoadRun(ctx context.Context, runID string) (session.RunMeta, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT run_id, session_id, request_seq, query, phase, started_at, updated_at, labels, metadata
		FROM runs WHERE run_id = $1`, runID)
	return scanRun(row)
}

// ListRunsBySession implements session.Store.
func (s *Store) ListRunsBySession(ctx context.Context, sessionID string, limit int) ([]session.RunMeta, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, session_id, request_seq, query, phase, started_at, updated_at, labels, metadata
		FROM runs WHERE session_id = $1
		ORDER BY updated_at DESC
		LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("store/postgres: list runs: %w", err)
	}
	defer rows.Close()

	var out []session.RunMeta
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// ListSessionsByUser implements session.Store (§4.4 step 1).
func (s *Store) ListSessionsByUser(ctx context.Context, userID, excludeSessionID string, limit int) ([]session.Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT session_id, COALESCE(user_id, ''), status, created_at, expires_at, last_activity, ended_at
		FROM sessions
		WHERE user_id = $1 AND session_id <> $2
		ORDER BY last_activity DESC
		LIMIT $3`, userID, excludeSessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("store/postgres: list sessions by user: %w", err)
	}
	defer rows.Close()

	var out []session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// LoadMessages implements memory.MessageStore, returning up to limit most
// recent messages ordered oldest-first.
func (s *Store) LoadMessages(ctx context.Context, sessionID string, limit int) ([]memory.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT role, content, created_at FROM (
			SELECT role, content, created_at FROM chat_messages
			WHERE session_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent ORDER BY created_at ASC`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("store/postgres: load messages: %w", err)
	}
	defer rows.Close()

	var out []memory.Message
	for rows.Next() {
		var m memory.Message
		if err := rows.Scan(&m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("store/postgres: scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetSummary implements memory.SummaryCache, reading the cached summary out
// of chat_sessions.metadata->>'summary' (§6.3: "the metadata.summary slot is
// the memory cache").
func (s *Store) GetSummary(ctx context.Context, sessionID string) (string, bool, error) {
	var summary *string
	err := s.pool.QueryRow(ctx, `
		SELECT metadata->>'summary' FROM chat_sessions WHERE session_id = $1`, sessionID).Scan(&summary)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("store/postgres: get summary: %w", err)
	}
	if summary == nil || *summary == "" {
		return "", false, nil
	}
	return *summary, true, nil
}

// PutSummary implements memory.SummaryCache. Best-effort per the interface
// contract: callers tolerate failures.
func (s *Store) PutSummary(ctx context.Context, sessionID, summary string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO chat_sessions (session_id, metadata)
		VALUES ($1, jsonb_build_object('summary', $2::text))
		ON CONFLICT (session_id) DO UPDATE SET
			metadata = chat_sessions.metadata || jsonb_build_object('summary', $2::text)`,
		sessionID, summary)
	if err != nil {
		return fmt.Errorf("store/postgres: put summary: %w", err)
	}
	return nil
}

type row interface {
	Scan(dest ...any) error
}

func scanSession(r row) (session.Session, error) {
	var (
		sess    session.Session
		status  string
		endedAt *time.Time
	)
	err := r.Scan(&sess.ID, &sess.UserID, &status, &sess.CreatedAt, &sess.ExpiresAt, &sess.LastActivity, &endedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return session.Session{}, session.ErrSessionNotFound
		}
		return session.Session{}, fmt.Errorf("store/postgres: scan session: %w", err)
	}
	sess.Status = session.Status(status)
	sess.EndedAt = endedAt
	return sess, nil
}

func scanRun(r row) (session.RunMeta, error) {
	var (
		run          session.RunMeta
		phase        string
		labels, meta []byte
	)
	err := r.Scan(&run.RunID, &run.SessionID, &run.RequestSeq, &run.Query, &phase, &run.StartedAt, &run.UpdatedAt, &labels, &meta)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return session.RunMeta{}, session.ErrRunNotFound
		}
		return session.RunMeta{}, fmt.Errorf("store/postgres: scan run: %w", err)
	}
	run.Phase = session.Phase(phase)
	if len(labels) > 0 {
		if err := json.Unmarshal(labels, &run.Labels); err != nil {
			return session.RunMeta{}, fmt.Errorf("store/postgres: unmarshal run labels: %w", err)
		}
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &run.Metadata); err != nil {
			return session.RunMeta{}, fmt.Errorf("store/postgres: unmarshal run metadata: %w", err)
		}
	}
	return run, nil
}

var (
	_ session.Store       = (*Store)(nil)
	_ memory.MessageStore = (*Store)(nil)
	_ memory.SummaryCache = (*Store)(nil)
)
