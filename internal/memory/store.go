// Package memory implements labelled, size-bounded memory blocks that are
// compiled into every system prompt, plus an archival entry store.
//
// Blocks are never mutated in place. Every change builds a new snapshot and
// commits it to the VersionStore, and the current blocks are always the head
// version, so each change can be diffed and rolled back.
package memory

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/haasonsaas/agentd/pkg/models"
)

// Config configures a Store.
type Config struct {
	// Dir holds versions.json and entries.json. Empty keeps memory in process.
	Dir string

	// Blocks seeds a store that has no history yet. Defaults to DefaultBlocks.
	Blocks []models.MemoryBlock

	// ProtectedLabels are forced read-only regardless of the stored flag.
	ProtectedLabels []string

	// MaxVersions caps retained versions. Zero keeps all.
	MaxVersions int

	Logger *slog.Logger
}

// DefaultBlocks returns the blocks a fresh store starts with.
func DefaultBlocks() []models.MemoryBlock {
	return []models.MemoryBlock{
		{
			Label:       "persona",
			Value:       "I am a helpful assistant running on this machine. I use tools when they help and answer plainly otherwise.",
			Limit:       2000,
			Description: "Who you are and how you behave.",
		},
		{
			Label:       "human",
			Limit:       2000,
			Description: "What you know about the user.",
		},
		{
			Label:       "runtime",
			Value:       "Models run locally. Prefer short answers and avoid unnecessary tool calls.",
			Limit:       1000,
			ReadOnly:    true,
			Description: "Facts about the runtime. Read-only.",
		},
	}
}

// Store holds the current memory blocks.
type Store struct {
	mu        sync.Mutex
	versions  *VersionStore
	archive   *Archive
	protected map[string]bool
	logger    *slog.Logger
}

// NewStore opens or seeds a memory store.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	var versionsPath, entriesPath string
	if cfg.Dir != "" {
		versionsPath = filepath.Join(cfg.Dir, "versions.json")
		entriesPath = filepath.Join(cfg.Dir, "entries.json")
	}

	versions, err := NewVersionStore(versionsPath, cfg.MaxVersions, cfg.Logger)
	if err != nil {
		return nil, err
	}
	archive, err := NewArchive(entriesPath, cfg.Logger)
	if err != nil {
		return nil, err
	}

	s := &Store{
		versions:  versions,
		archive:   archive,
		protected: make(map[string]bool, len(cfg.ProtectedLabels)),
		logger:    cfg.Logger,
	}
	for _, label := range cfg.ProtectedLabels {
		s.protected[label] = true
	}

	if _, ok := versions.Head(); !ok {
		seed := cfg.Blocks
		if seed == nil {
			seed = DefaultBlocks()
		}
		if _, err := versions.Commit(s.applyProtection(seed), "initial memory"); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Versions returns the version log.
func (s *Store) Versions() *VersionStore { return s.versions }

// Archive returns the archival entry store.
func (s *Store) Archive() *Archive { return s.archive }

// Blocks returns the current blocks in prompt order.
func (s *Store) Blocks() []models.MemoryBlock {
	head, _ := s.versions.Head()
	return s.applyProtection(head.Blocks)
}

// Get returns the block with label.
func (s *Store) Get(label string) (models.MemoryBlock, error) {
	for _, b := range s.Blocks() {
		if b.Label == label {
			return b, nil
		}
	}
	return models.MemoryBlock{}, fmt.Errorf("%w: %s", ErrBlockNotFound, label)
}

// Append adds text to the end of a block, on a new line.
func (s *Store) Append(label, text string) (models.MemoryBlock, error) {
	return s.mutate(label, fmt.Sprintf("append to %s", label), func(b *models.MemoryBlock) error {
		if b.Value == "" {
			b.Value = text
		} else {
			b.Value += "\n" + text
		}
		return nil
	})
}

// Replace substitutes the first occurrence of old with replacement. An empty
// old replaces the whole value.
func (s *Store) Replace(label, old, replacement string) (models.MemoryBlock, error) {
	return s.mutate(label, fmt.Sprintf("replace in %s", label), func(b *models.MemoryBlock) error {
		if old == "" {
			b.Value = replacement
			return nil
		}
		if !strings.Contains(b.Value, old) {
			return fmt.Errorf("%w: %q in %s", ErrTextNotFound, old, label)
		}
		b.Value = strings.Replace(b.Value, old, replacement, 1)
		return nil
	})
}

// Upsert creates a block or updates an existing one's value, limit and
// description. Read-only blocks cannot be updated.
func (s *Store) Upsert(block models.MemoryBlock) (models.MemoryBlock, error) {
	if strings.TrimSpace(block.Label) == "" {
		return models.MemoryBlock{}, fmt.Errorf("label is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	blocks := s.Blocks()
	for i := range blocks {
		if blocks[i].Label != block.Label {
			continue
		}
		if blocks[i].ReadOnly {
			return blocks[i], fmt.Errorf("%w: %s", ErrBlockReadOnly, block.Label)
		}
		blocks[i] = block
		if err := s.commitLocked(blocks, fmt.Sprintf("update %s", block.Label)); err != nil {
			return models.MemoryBlock{}, err
		}
		return block, nil
	}

	blocks = append(blocks, block)
	if err := s.commitLocked(blocks, fmt.Sprintf("create %s", block.Label)); err != nil {
		return models.MemoryBlock{}, err
	}
	return block, nil
}

// Rollback restores the blocks of version id by committing them as a new
// version, and returns the restored blocks.
func (s *Store) Rollback(id string) ([]models.MemoryBlock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	blocks, err := s.versions.Rollback(id)
	if err != nil {
		return nil, err
	}
	if err := s.commitLocked(blocks, fmt.Sprintf("rollback to %s", id)); err != nil {
		return nil, err
	}
	return s.applyProtection(blocks), nil
}

// Compile renders persona and the blocks into the system prompt.
func (s *Store) Compile(persona string) string {
	var b strings.Builder
	if p := strings.TrimSpace(persona); p != "" {
		b.WriteString(p)
		b.WriteString("\n\n")
	}
	b.WriteString("<memory_blocks>\n")
	b.WriteString("The following memory blocks are part of your core memory:\n")
	for _, blk := range s.Blocks() {
		fmt.Fprintf(&b, "\n<%s>\n", blk.Label)
		if blk.Description != "" {
			fmt.Fprintf(&b, "<description>%s</description>\n", blk.Description)
		}
		fmt.Fprintf(&b, "<metadata>chars_current=%d chars_limit=%d read_only=%t</metadata>\n",
			blk.Length(), blk.Limit, blk.ReadOnly)
		fmt.Fprintf(&b, "<value>\n%s\n</value>\n", blk.Value)
		fmt.Fprintf(&b, "</%s>\n", blk.Label)
	}
	b.WriteString("</memory_blocks>")
	return b.String()
}

func (s *Store) mutate(label, message string, fn func(*models.MemoryBlock) error) (models.MemoryBlock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	blocks := s.Blocks()
	for i := range blocks {
		if blocks[i].Label != label {
			continue
		}
		if blocks[i].ReadOnly {
			return blocks[i], fmt.Errorf("%w: %s", ErrBlockReadOnly, label)
		}
		if err := fn(&blocks[i]); err != nil {
			return blocks[i], err
		}
		if err := s.commitLocked(blocks, message); err != nil {
			return models.MemoryBlock{}, err
		}
		if blocks[i].IsOverLimit() {
			s.logger.Warn("memory block over limit",
				"label", label,
				"chars", blocks[i].Length(),
				"limit", blocks[i].Limit,
			)
		}
		return blocks[i], nil
	}
	return models.MemoryBlock{}, fmt.Errorf("%w: %s", ErrBlockNotFound, label)
}

func (s *Store) commitLocked(blocks []models.MemoryBlock, message string) error {
	_, err := s.versions.Commit(blocks, message)
	return err
}

func (s *Store) applyProtection(blocks []models.MemoryBlock) []models.MemoryBlock {
	out := cloneBlocks(blocks)
	for i := range out {
		if s.protected[out[i].Label] {
			out[i].ReadOnly = true
		}
	}
	return out
}
