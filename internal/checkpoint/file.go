package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/agentd/internal/jsonstore"
	"github.com/haasonsaas/agentd/pkg/models"
)

// FileStore keeps one JSON file per checkpoint in a directory.
type FileStore struct {
	dir    string
	logger *slog.Logger
	mu     sync.Mutex
	now    func() time.Time
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("checkpoint directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{dir: dir, logger: logger, now: time.Now}, nil
}

func (s *FileStore) file(id string) *jsonstore.File {
	return jsonstore.New(filepath.Join(s.dir, id+".json"), s.logger)
}

// Save writes the checkpoint, stamping CreatedAt on first save and
// UpdatedAt on every save.
func (s *FileStore) Save(ctx context.Context, cp *models.AgentRunCheckpoint) error {
	if cp == nil {
		return fmt.Errorf("checkpoint is nil")
	}
	if err := ValidateID(cp.ID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	if err := s.file(cp.ID).Save(cp); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Load reads a checkpoint by ID.
func (s *FileStore) Load(ctx context.Context, id string) (*models.AgentRunCheckpoint, error) {
	if err := ValidateID(id); err != nil {
		return nil, notFound(id)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var cp models.AgentRunCheckpoint
	ok, err := s.file(id).Load(&cp)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if !ok {
		return nil, notFound(id)
	}
	return &cp, nil
}

// List reads every checkpoint in the directory.
func (s *FileStore) List(ctx context.Context) ([]*models.AgentRunCheckpoint, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	out := make([]*models.AgentRunCheckpoint, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		cp, err := s.Load(ctx, strings.TrimSuffix(name, ".json"))
		if errors.Is(err, ErrCheckpointNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	sortNewestFirst(out)
	return out, nil
}

// Delete removes a checkpoint.
func (s *FileStore) Delete(ctx context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return notFound(id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	path := filepath.Join(s.dir, id+".json")
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return notFound(id)
		}
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// Close is a no-op.
func (s *FileStore) Close() error { return nil }
