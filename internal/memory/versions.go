package memory

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/agentd/internal/jsonstore"
	"github.com/haasonsaas/agentd/pkg/models"
)

// VersionStore is an append-only log of memory snapshots. Rollback never
// rewrites history: it returns the blocks of an earlier version so the
// caller can commit them as a new version.
type VersionStore struct {
	mu       sync.RWMutex
	file     *jsonstore.File
	versions []models.MemoryVersion
	max      int
	now      func() time.Time
}

// NewVersionStore opens the log stored at path. An empty path keeps the log
// in memory. max caps the number of retained versions; zero keeps all.
func NewVersionStore(path string, max int, logger *slog.Logger) (*VersionStore, error) {
	vs := &VersionStore{
		file: jsonstore.New(path, logger),
		max:  max,
		now:  time.Now,
	}
	if _, err := vs.file.Load(&vs.versions); err != nil {
		return nil, fmt.Errorf("load memory versions: %w", err)
	}
	return vs, nil
}

// Commit records a snapshot of blocks and returns the new version ID.
func (vs *VersionStore) Commit(blocks []models.MemoryBlock, message string) (string, error) {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	version := models.MemoryVersion{
		ID:        uuid.NewString(),
		Timestamp: vs.now().UTC(),
		Message:   message,
		Blocks:    cloneBlocks(blocks),
	}
	if n := len(vs.versions); n > 0 {
		version.ParentID = vs.versions[n-1].ID
	}

	next := append(vs.versions[:len(vs.versions):len(vs.versions)], version)
	if vs.max > 0 && len(next) > vs.max {
		next = next[len(next)-vs.max:]
	}
	if err := vs.file.Save(next); err != nil {
		return "", fmt.Errorf("save memory versions: %w", err)
	}
	vs.versions = next
	return version.ID, nil
}

// Head returns the latest version.
func (vs *VersionStore) Head() (models.MemoryVersion, bool) {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	if len(vs.versions) == 0 {
		return models.MemoryVersion{}, false
	}
	return cloneVersion(vs.versions[len(vs.versions)-1]), true
}

// Get returns a version by ID.
func (vs *VersionStore) Get(id string) (models.MemoryVersion, error) {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	for _, v := range vs.versions {
		if v.ID == id {
			return cloneVersion(v), nil
		}
	}
	return models.MemoryVersion{}, fmt.Errorf("%w: %s", ErrVersionNotFound, id)
}

// Log returns up to limit versions, newest first. limit <= 0 returns all.
func (vs *VersionStore) Log(limit int) []models.MemoryVersion {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	n := len(vs.versions)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]models.MemoryVersion, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, cloneVersion(vs.versions[i]))
	}
	return out
}

// Len returns the number of retained versions.
func (vs *VersionStore) Len() int {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	return len(vs.versions)
}

// Diff compares two versions label by label.
func (vs *VersionStore) Diff(fromID, toID string) ([]models.BlockDiff, error) {
	from, err := vs.Get(fromID)
	if err != nil {
		return nil, err
	}
	to, err := vs.Get(toID)
	if err != nil {
		return nil, err
	}
	return DiffBlocks(from.Blocks, to.Blocks), nil
}

// Rollback returns the blocks captured by version id. The log is unchanged.
func (vs *VersionStore) Rollback(id string) ([]models.MemoryBlock, error) {
	v, err := vs.Get(id)
	if err != nil {
		return nil, err
	}
	return v.Blocks, nil
}

// DiffBlocks reports labels added, removed or changed from a to b, sorted by
// label.
func DiffBlocks(a, b []models.MemoryBlock) []models.BlockDiff {
	before := make(map[string]models.MemoryBlock, len(a))
	for _, blk := range a {
		before[blk.Label] = blk
	}
	after := make(map[string]models.MemoryBlock, len(b))
	for _, blk := range b {
		after[blk.Label] = blk
	}

	var diffs []models.BlockDiff
	for label, old := range before {
		cur, ok := after[label]
		switch {
		case !ok:
			diffs = append(diffs, models.BlockDiff{Label: label, Change: models.BlockRemoved, Old: old.Value})
		case cur.Value != old.Value || cur.Limit != old.Limit || cur.ReadOnly != old.ReadOnly:
			diffs = append(diffs, models.BlockDiff{Label: label, Change: models.BlockChanged, Old: old.Value, New: cur.Value})
		}
	}
	for label, cur := range after {
		if _, ok := before[label]; !ok {
			diffs = append(diffs, models.BlockDiff{Label: label, Change: models.BlockAdded, New: cur.Value})
		}
	}
	sort.Slice(diffs, func(i, j int) bool { return diffs[i].Label < diffs[j].Label })
	return diffs
}

func cloneBlocks(blocks []models.MemoryBlock) []models.MemoryBlock {
	if blocks == nil {
		return nil
	}
	out := make([]models.MemoryBlock, len(blocks))
	copy(out, blocks)
	return out
}

func cloneVersion(v models.MemoryVersion) models.MemoryVersion {
	v.Blocks = cloneBlocks(v.Blocks)
	return v
}
