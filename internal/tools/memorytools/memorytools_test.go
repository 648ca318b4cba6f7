package memorytools

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/haasonsaas/agentd/internal/memory"
	"github.com/haasonsaas/agentd/internal/tools"
)

func setup(t *testing.T) (*tools.Registry, *memory.Store) {
	t.Helper()
	store, err := memory.NewStore(memory.Config{})
	if err != nil {
		t.Fatal(err)
	}
	reg := tools.NewRegistry(tools.RegistryConfig{})
	Register(reg, store)
	return reg, store
}

func TestAppendAndReplace(t *testing.T) {
	reg, store := setup(t)
	ctx := context.Background()

	out, err := reg.Invoke(ctx, "memory_append", map[string]string{"label": "human", "content": "Prefers tea"})
	if err != nil || !strings.HasPrefix(out, "Updated human") {
		t.Fatalf("append = %q, %v", out, err)
	}
	if _, err := reg.Invoke(ctx, "memory_replace", map[string]string{"label": "human", "old": "tea", "new": "coffee"}); err != nil {
		t.Fatal(err)
	}
	b, _ := store.Get("human")
	if b.Value != "Prefers coffee" {
		t.Fatalf("value = %q", b.Value)
	}

	_, err = reg.Invoke(ctx, "memory_append", map[string]string{"label": "runtime", "content": "x"})
	if !errors.Is(err, memory.ErrBlockReadOnly) {
		t.Fatalf("read-only err = %v", err)
	}
	var te *tools.Error
	if !errors.As(err, &te) || te.Type != tools.ErrorExecution {
		t.Fatalf("tool error = %v", err)
	}
}

func TestInsertAndSearch(t *testing.T) {
	reg, _ := setup(t)
	ctx := context.Background()
	if _, err := reg.Invoke(ctx, "memory_insert", map[string]string{"content": "Dentist on Friday", "tags": "health, calendar"}); err != nil {
		t.Fatal(err)
	}
	out, err := reg.Invoke(ctx, "memory_search", map[string]string{"query": "dentist", "limit": "3"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Dentist on Friday") || !strings.Contains(out, "tags: health, calendar") {
		t.Fatalf("search = %q", out)
	}
	out, _ = reg.Invoke(ctx, "memory_search", map[string]string{"query": "zebra"})
	if out != "No matching memories." {
		t.Fatalf("empty search = %q", out)
	}
	if _, err := reg.Invoke(ctx, "memory_search", map[string]string{"query": "x", "limit": "0"}); err == nil {
		t.Fatal("limit below minimum should fail validation")
	}
}
