package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/haasonsaas/agentd/pkg/models"
)

// SQLiteStore keeps checkpoints in a SQLite table. Scalar fields are
// columns for listing; the full checkpoint is stored as JSON.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (and migrates) the database at path. ":memory:" is
// accepted for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite serializes writers; one connection also keeps ":memory:" shared.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func newSQLiteStoreWithDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

func (s *SQLiteStore) init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS checkpoints (
			id TEXT PRIMARY KEY,
			run_id TEXT,
			agent_type TEXT NOT NULL,
			status TEXT NOT NULL,
			step_count INTEGER NOT NULL,
			data TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create checkpoints table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		"CREATE INDEX IF NOT EXISTS idx_checkpoints_updated ON checkpoints(updated_at)"); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	return nil
}

// Save upserts a checkpoint.
func (s *SQLiteStore) Save(ctx context.Context, cp *models.AgentRunCheckpoint) error {
	if cp == nil {
		return fmt.Errorf("checkpoint is nil")
	}
	if err := ValidateID(cp.ID); err != nil {
		return err
	}
	now := s.now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (id, run_id, agent_type, status, step_count, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			run_id = excluded.run_id,
			agent_type = excluded.agent_type,
			status = excluded.status,
			step_count = excluded.step_count,
			data = excluded.data,
			updated_at = excluded.updated_at
	`, cp.ID, cp.RunID, cp.AgentType, string(cp.Status), cp.StepCount, string(data), cp.CreatedAt, cp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Load reads a checkpoint by ID.
func (s *SQLiteStore) Load(ctx context.Context, id string) (*models.AgentRunCheckpoint, error) {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT data FROM checkpoints WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	var cp models.AgentRunCheckpoint
	if err := json.Unmarshal([]byte(data), &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", id, err)
	}
	return &cp, nil
}

// List returns all checkpoints, newest first.
func (s *SQLiteStore) List(ctx context.Context) ([]*models.AgentRunCheckpoint, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT data FROM checkpoints ORDER BY updated_at DESC, id ASC")
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []*models.AgentRunCheckpoint
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		var cp models.AgentRunCheckpoint
		if err := json.Unmarshal([]byte(data), &cp); err != nil {
			return nil, fmt.Errorf("decode checkpoint: %w", err)
		}
		out = append(out, &cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return out, nil
}

// Delete removes a checkpoint.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM checkpoints WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	if n == 0 {
		return notFound(id)
	}
	return nil
}

// Close releases database resources.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
