package checkpoint

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Open returns the store for backend "file" (one JSON file per checkpoint
// under dir) or "sqlite" (checkpoints.db under dir).
func Open(backend, dir string, logger *slog.Logger) (Store, error) {
	switch backend {
	case "", "file":
		return NewFileStore(dir, logger)
	case "sqlite":
		path := ":memory:"
		if dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create checkpoint directory: %w", err)
			}
			path = filepath.Join(dir, "checkpoints.db")
		}
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", backend)
	}
}
