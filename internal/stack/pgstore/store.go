// Package pgstore persists stack snapshots in Postgres, one JSONB row per
// stack, for deployments where the snapshot directory of the file store is
// not shared between hosts.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gimlelabs/hugin/internal/logging"
	"github.com/gimlelabs/hugin/internal/stack"
)

const snapshotTable = "stack_snapshots"

// ErrNotFound is returned when no snapshot exists for a stack id.
var ErrNotFound = errors.New("snapshot not found")

var stackIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Store is a Postgres-backed snapshot store.
type Store struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

// New creates a store over an existing connection pool.
func New(pool *pgxpool.Pool, logger logging.Logger) *Store {
	return &Store{
		pool:   pool,
		logger: logging.WithComponent(logging.OrNop(logger), "pgstore"),
	}
}

// EnsureSchema creates the snapshot table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("snapshot store not initialized")
	}
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    id TEXT PRIMARY KEY,
    agent TEXT NOT NULL,
    snapshot JSONB NOT NULL,
    saved_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_stack_snapshots_saved_at ON %s (saved_at DESC);
`, snapshotTable, snapshotTable)
	_, err := s.pool.Exec(ctx, query)
	return err
}

// Save upserts the snapshot under its stack id. Last write wins.
func (s *Store) Save(ctx context.Context, snap stack.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.pool == nil {
		return fmt.Errorf("snapshot store not initialized")
	}
	if !stackIDPattern.MatchString(snap.ID) {
		return fmt.Errorf("invalid stack id %q", snap.ID)
	}
	if snap.SavedAt.IsZero() {
		snap.SavedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", snap.ID, err)
	}

	query := fmt.Sprintf(`
INSERT INTO %s (id, agent, snapshot, saved_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET
    agent = EXCLUDED.agent,
    snapshot = EXCLUDED.snapshot,
    saved_at = EXCLUDED.saved_at
`, snapshotTable)
	if _, err := s.pool.Exec(ctx, query, snap.ID, snap.Agent, payload, snap.SavedAt); err != nil {
		return fmt.Errorf("save snapshot %s: %w", snap.ID, err)
	}
	s.logger.Debug("saved snapshot %s (%d records)", snap.ID, len(snap.Records))
	return nil
}

// LoadSnapshot reads the raw snapshot for a stack id.
func (s *Store) LoadSnapshot(ctx context.Context, stackID string) (stack.Snapshot, error) {
	var snap stack.Snapshot
	if err := ctx.Err(); err != nil {
		return snap, err
	}
	if s == nil || s.pool == nil {
		return snap, fmt.Errorf("snapshot store not initialized")
	}
	if !stackIDPattern.MatchString(stackID) {
		return snap, fmt.Errorf("invalid stack id %q", stackID)
	}

	query := fmt.Sprintf(`SELECT snapshot FROM %s WHERE id = $1`, snapshotTable)
	var payload []byte
	err := s.pool.QueryRow(ctx, query, stackID).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return snap, fmt.Errorf("%w: %s", ErrNotFound, stackID)
		}
		return snap, err
	}
	if err := json.Unmarshal(payload, &snap); err != nil {
		return snap, fmt.Errorf("decode snapshot %s: %w", stackID, err)
	}
	return snap, nil
}

// Load restores a live stack from the stored snapshot.
func (s *Store) Load(ctx context.Context, stackID string, logger logging.Logger) (*stack.Stack, error) {
	snap, err := s.LoadSnapshot(ctx, stackID)
	if err != nil {
		return nil, err
	}
	return stack.FromSnapshot(snap, logger)
}

// List returns all stored stack ids, most recently saved first.
func (s *Store) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("snapshot store not initialized")
	}

	query := fmt.Sprintf(`SELECT id FROM %s ORDER BY saved_at DESC`, snapshotTable)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Delete removes the snapshot for a stack id.
func (s *Store) Delete(ctx context.Context, stackID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.pool == nil {
		return fmt.Errorf("snapshot store not initialized")
	}
	if !stackIDPattern.MatchString(stackID) {
		return fmt.Errorf("invalid stack id %q", stackID)
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, snapshotTable)
	_, err := s.pool.Exec(ctx, query, stackID)
	return err
}
