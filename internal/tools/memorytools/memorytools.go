// Package memorytools exposes the memory store to the agent as tools.
package memorytools

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/haasonsaas/agentd/internal/memory"
	"github.com/haasonsaas/agentd/internal/tools"
	"github.com/haasonsaas/agentd/pkg/models"
)

// Register adds every memory tool backed by store to reg.
func Register(reg *tools.Registry, store *memory.Store) {
	reg.Register(&AppendTool{store: store})
	reg.Register(&ReplaceTool{store: store})
	reg.Register(&SearchTool{store: store})
	reg.Register(&InsertTool{store: store})
}

type appendArgs struct {
	Label   string `json:"label" jsonschema:"description=Memory block label"`
	Content string `json:"content" jsonschema:"description=Text to append"`
}

// AppendTool appends to a core memory block.
type AppendTool struct{ store *memory.Store }

func (t *AppendTool) Name() string                { return "memory_append" }
func (t *AppendTool) Description() string         { return "Append text to a core memory block." }
func (t *AppendTool) RiskLevel() models.RiskLevel { return models.RiskLow }
func (t *AppendTool) Schema() json.RawMessage     { return tools.ReflectSchema(&appendArgs{}) }

func (t *AppendTool) Validate(args map[string]string) error {
	return require(args, "label", "content")
}

func (t *AppendTool) Execute(_ context.Context, args map[string]string) (string, error) {
	b, err := t.store.Append(args["label"], args["content"])
	if err != nil {
		return "", err
	}
	return blockSummary(b), nil
}

type replaceArgs struct {
	Label string `json:"label" jsonschema:"description=Memory block label"`
	Old   string `json:"old,omitempty" jsonschema:"description=Text to replace; empty replaces the whole block"`
	New   string `json:"new" jsonschema:"description=Replacement text"`
}

// ReplaceTool replaces text in a core memory block.
type ReplaceTool struct{ store *memory.Store }

func (t *ReplaceTool) Name() string                { return "memory_replace" }
func (t *ReplaceTool) Description() string         { return "Replace text in a core memory block." }
func (t *ReplaceTool) RiskLevel() models.RiskLevel { return models.RiskLow }
func (t *ReplaceTool) Schema() json.RawMessage     { return tools.ReflectSchema(&replaceArgs{}) }

func (t *ReplaceTool) Validate(args map[string]string) error {
	if err := require(args, "label"); err != nil {
		return err
	}
	if _, ok := args["new"]; !ok {
		return fmt.Errorf("missing argument: new")
	}
	return nil
}

func (t *ReplaceTool) Execute(_ context.Context, args map[string]string) (string, error) {
	b, err := t.store.Replace(args["label"], args["old"], args["new"])
	if err != nil {
		return "", err
	}
	return blockSummary(b), nil
}

type searchArgs struct {
	Query string `json:"query" jsonschema:"description=Search terms"`
	Limit int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=50"`
}

// SearchTool searches archival memory.
type SearchTool struct{ store *memory.Store }

func (t *SearchTool) Name() string                { return "memory_search" }
func (t *SearchTool) Description() string         { return "Search archival memory entries." }
func (t *SearchTool) RiskLevel() models.RiskLevel { return models.RiskLow }
func (t *SearchTool) Schema() json.RawMessage     { return tools.ReflectSchema(&searchArgs{}) }

func (t *SearchTool) Validate(args map[string]string) error { return require(args, "query") }

func (t *SearchTool) Execute(_ context.Context, args map[string]string) (string, error) {
	limit := 5
	if raw := strings.TrimSpace(args["limit"]); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return "", fmt.Errorf("invalid argument limit: %w", err)
		}
		limit = n
	}
	hits := t.store.Archive().Search(args["query"], limit)
	if len(hits) == 0 {
		return "No matching memories.", nil
	}
	var b strings.Builder
	for i, h := range hits {
		fmt.Fprintf(&b, "%d. [%s] %s", i+1, h.CreatedAt.Format("2006-01-02"), h.Content)
		if len(h.Tags) > 0 {
			fmt.Fprintf(&b, " (tags: %s)", strings.Join(h.Tags, ", "))
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

type insertArgs struct {
	Content string `json:"content" jsonschema:"description=Text to remember"`
	Tags    string `json:"tags,omitempty" jsonschema:"description=Comma-separated tags"`
}

// InsertTool stores a new archival memory entry.
type InsertTool struct{ store *memory.Store }

func (t *InsertTool) Name() string                { return "memory_insert" }
func (t *InsertTool) Description() string         { return "Save a new archival memory entry." }
func (t *InsertTool) RiskLevel() models.RiskLevel { return models.RiskLow }
func (t *InsertTool) Schema() json.RawMessage     { return tools.ReflectSchema(&insertArgs{}) }

func (t *InsertTool) Validate(args map[string]string) error { return require(args, "content") }

func (t *InsertTool) Execute(_ context.Context, args map[string]string) (string, error) {
	var tags []string
	for _, tag := range strings.Split(args["tags"], ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	entry, err := t.store.Archive().Insert(args["content"], tags)
	if err != nil {
		return "", err
	}
	return "Saved memory " + entry.ID, nil
}

func require(args map[string]string, keys ...string) error {
	for _, k := range keys {
		if strings.TrimSpace(args[k]) == "" {
			return fmt.Errorf("missing argument: %s", k)
		}
	}
	return nil
}

func blockSummary(b models.MemoryBlock) string {
	s := fmt.Sprintf("Updated %s (%d/%d chars).", b.Label, b.Length(), b.Limit)
	if b.IsOverLimit() {
		s += " Block is over its limit; consider condensing it."
	}
	return s
}
