// Package files provides the filesystem tool.
package files

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/haasonsaas/agentd/internal/tools"
	"github.com/haasonsaas/agentd/pkg/models"
)

// Config controls the file tool.
type Config struct {
	Roots        []string
	MaxReadBytes int
	AllowWrite   bool
}

type fileArgs struct {
	Action  string `json:"action,omitempty" jsonschema:"enum=list,enum=read,enum=write,enum=stat,description=Operation to perform"`
	Path    string `json:"path" jsonschema:"description=Target path"`
	Content string `json:"content,omitempty" jsonschema:"description=Content for write"`
}

// Tool lists, reads, stats and optionally writes files under allowed roots.
type Tool struct {
	resolver   Resolver
	maxReadLen int
	allowWrite bool
}

// NewTool creates a file tool.
func NewTool(cfg Config) *Tool {
	limit := cfg.MaxReadBytes
	if limit <= 0 {
		limit = 200000
	}
	return &Tool{
		resolver:   Resolver{Roots: cfg.Roots},
		maxReadLen: limit,
		allowWrite: cfg.AllowWrite,
	}
}

func (t *Tool) Name() string { return "file" }

func (t *Tool) Description() string {
	return "List a directory, read or stat a file, or write a file when writes are enabled."
}

func (t *Tool) RiskLevel() models.RiskLevel {
	if t.allowWrite {
		return models.RiskHigh
	}
	return models.RiskMedium
}

func (t *Tool) Schema() json.RawMessage { return tools.ReflectSchema(&fileArgs{}) }

func (t *Tool) Validate(args map[string]string) error {
	if args["action"] == "" {
		args["action"] = "list"
	}
	switch args["action"] {
	case "list", "read", "stat":
	case "write":
		if !t.allowWrite {
			return fmt.Errorf("writes are disabled")
		}
	default:
		return fmt.Errorf("invalid argument action %q", args["action"])
	}
	if strings.TrimSpace(args["path"]) == "" {
		return fmt.Errorf("missing argument: path")
	}
	return nil
}

func (t *Tool) Execute(ctx context.Context, args map[string]string) (string, error) {
	resolved, err := t.resolver.Resolve(args["path"])
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	switch args["action"] {
	case "read":
		return t.read(resolved)
	case "stat":
		return t.stat(resolved)
	case "write":
		if err := os.WriteFile(resolved, []byte(args["content"]), 0o644); err != nil {
			return "", fmt.Errorf("write file: %w", err)
		}
		return fmt.Sprintf("wrote %d bytes to %s", len(args["content"]), resolved), nil
	default:
		return t.list(resolved)
	}
}

func (t *Tool) list(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("list directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += string(filepath.Separator)
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return dir + " is empty", nil
	}
	return strings.Join(names, "\n"), nil
}

func (t *Tool) read(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer f.Close()
	buf, err := io.ReadAll(io.LimitReader(f, int64(t.maxReadLen)+1))
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	if len(buf) > t.maxReadLen {
		return string(buf[:t.maxReadLen]) + "\n[truncated]", nil
	}
	return string(buf), nil
}

func (t *Tool) stat(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat file: %w", err)
	}
	payload, err := json.Marshal(map[string]any{
		"name":     info.Name(),
		"size":     info.Size(),
		"dir":      info.IsDir(),
		"mode":     info.Mode().String(),
		"modified": info.ModTime(),
	})
	if err != nil {
		return "", err
	}
	return string(payload), nil
}
