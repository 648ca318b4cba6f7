package memory

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/agentd/internal/jsonstore"
	"github.com/haasonsaas/agentd/pkg/models"
)

// Archive stores memory entries that live outside the compiled prompt and
// are reached through search.
type Archive struct {
	entries *jsonstore.Collection[models.MemoryEntry]
	now     func() time.Time
}

// NewArchive opens the archive at path. An empty path keeps it in memory.
func NewArchive(path string, logger *slog.Logger) (*Archive, error) {
	entries, err := jsonstore.NewCollection(path, func(e models.MemoryEntry) string { return e.ID }, logger)
	if err != nil {
		return nil, fmt.Errorf("load memory entries: %w", err)
	}
	return &Archive{entries: entries, now: time.Now}, nil
}

// Insert stores a new entry.
func (a *Archive) Insert(content string, tags []string) (models.MemoryEntry, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.MemoryEntry{}, fmt.Errorf("content is required")
	}
	entry := models.MemoryEntry{
		ID:        uuid.NewString(),
		Content:   content,
		Tags:      tags,
		CreatedAt: a.now().UTC(),
	}
	if err := a.entries.Put(entry); err != nil {
		return models.MemoryEntry{}, err
	}
	return entry, nil
}

// Delete removes an entry.
func (a *Archive) Delete(id string) error {
	if err := a.entries.Delete(id); err != nil {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	return nil
}

// List returns entries newest first.
func (a *Archive) List(limit int) []models.MemoryEntry {
	all := a.entries.List()
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all
}

// Search ranks entries by how many query terms appear in their content or
// tags, newest first among equal scores. Entries matching no term are
// omitted.
func (a *Archive) Search(query string, limit int) []models.MemoryEntry {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return a.List(limit)
	}

	type scored struct {
		entry models.MemoryEntry
		score int
	}
	var hits []scored
	for _, e := range a.entries.List() {
		haystack := strings.ToLower(e.Content + " " + strings.Join(e.Tags, " "))
		score := 0
		for _, term := range terms {
			if strings.Contains(haystack, term) {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, scored{entry: e, score: score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].entry.CreatedAt.After(hits[j].entry.CreatedAt)
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]models.MemoryEntry, len(hits))
	for i, h := range hits {
		out[i] = h.entry
	}
	return out
}

// Len returns the number of entries.
func (a *Archive) Len() int { return a.entries.Len() }
