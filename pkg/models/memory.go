package models

import (
	"time"
	"unicode/utf8"
)

// MemoryBlock is a named, size-bounded slot of persistent context that is
// compiled into every system prompt.
//
// Exceeding Limit is reported by IsOverLimit; values are never truncated.
type MemoryBlock struct {
	Label       string `json:"label" yaml:"label"`
	Value       string `json:"value" yaml:"value"`
	Limit       int    `json:"limit" yaml:"limit"`
	ReadOnly    bool   `json:"read_only" yaml:"read_only"`
	Description string `json:"description,omitempty" yaml:"description"`
}

// Length returns the value length in characters.
func (b MemoryBlock) Length() int {
	return utf8.RuneCountInString(b.Value)
}

// UsagePercent returns Length/Limit as a fraction. A block without a limit reports 0.
func (b MemoryBlock) UsagePercent() float64 {
	if b.Limit <= 0 {
		return 0
	}
	return float64(b.Length()) / float64(b.Limit)
}

// IsOverLimit reports whether the value is longer than the limit.
func (b MemoryBlock) IsOverLimit() bool {
	return b.Limit > 0 && b.Length() > b.Limit
}

// MemoryVersion is an immutable point-in-time capture of every memory block.
type MemoryVersion struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Message   string        `json:"message"`
	ParentID  string        `json:"parent_id,omitempty"`
	Blocks    []MemoryBlock `json:"block_snapshots"`
}

// BlockChange classifies how a block differs between two versions.
type BlockChange string

const (
	BlockAdded   BlockChange = "added"
	BlockRemoved BlockChange = "removed"
	BlockChanged BlockChange = "changed"
)

// BlockDiff describes one label that differs between two versions.
type BlockDiff struct {
	Label  string      `json:"label"`
	Change BlockChange `json:"change"`
	Old    string      `json:"old,omitempty"`
	New    string      `json:"new,omitempty"`
}

// MemoryEntry is an archival memory item outside the compiled prompt.
type MemoryEntry struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
