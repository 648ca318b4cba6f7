// Package checkpoint persists snapshots of agent runs so they can be resumed.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"

	"github.com/haasonsaas/agentd/pkg/models"
)

// ErrCheckpointNotFound indicates no checkpoint has the requested ID.
var ErrCheckpointNotFound = errors.New("checkpoint not found")

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_\-]{0,127}$`)

// Store is durable per-ID checkpoint storage.
type Store interface {
	Save(ctx context.Context, cp *models.AgentRunCheckpoint) error
	Load(ctx context.Context, id string) (*models.AgentRunCheckpoint, error)
	// List returns checkpoints, newest first.
	List(ctx context.Context) ([]*models.AgentRunCheckpoint, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// ValidateID rejects IDs that are empty or unsafe to use as file names.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("invalid checkpoint id %q", id)
	}
	return nil
}

func notFound(id string) error {
	return fmt.Errorf("%w: %s", ErrCheckpointNotFound, id)
}

func sortNewestFirst(list []*models.AgentRunCheckpoint) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].UpdatedAt.Equal(list[j].UpdatedAt) {
			return list[i].UpdatedAt.After(list[j].UpdatedAt)
		}
		return list[i].ID < list[j].ID
	})
}
