package files

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haasonsaas/agentd/internal/tools"
)

func TestResolver(t *testing.T) {
	root := t.TempDir()
	r := Resolver{Roots: []string{root}}

	got, err := r.Resolve("sub/file.txt")
	if err != nil {
		t.Fatal(err)
	}
	if got != filepath.Join(root, "sub", "file.txt") {
		t.Fatalf("Resolve = %s", got)
	}
	if _, err := r.Resolve("../escape"); !errors.Is(err, ErrOutsideRoots) {
		t.Fatalf("err = %v, want ErrOutsideRoots", err)
	}
	if _, err := r.Resolve("/etc/passwd"); !errors.Is(err, ErrOutsideRoots) {
		t.Fatalf("err = %v, want ErrOutsideRoots", err)
	}
	if _, err := r.Resolve(" "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestFileToolThroughRegistry(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(root, "dir"), 0o755); err != nil {
		t.Fatal(err)
	}

	reg := tools.NewRegistry(tools.RegistryConfig{})
	reg.Register(NewTool(Config{Roots: []string{root}}))
	ctx := context.Background()

	out, err := reg.Invoke(ctx, "file", map[string]string{"path": root})
	if err != nil {
		t.Fatal(err)
	}
	if out != "a.txt\ndir/" {
		t.Fatalf("list = %q", out)
	}

	out, err = reg.Invoke(ctx, "file", map[string]string{"action": "read", "path": "a.txt"})
	if err != nil || out != "hello" {
		t.Fatalf("read = %q, %v", out, err)
	}

	out, err = reg.Invoke(ctx, "file", map[string]string{"action": "stat", "path": "a.txt"})
	if err != nil || !strings.Contains(out, `"size":5`) {
		t.Fatalf("stat = %q, %v", out, err)
	}

	_, err = reg.Invoke(ctx, "file", map[string]string{"action": "write", "path": "b.txt", "content": "x"})
	var te *tools.Error
	if !errors.As(err, &te) || te.Type != tools.ErrorInvalidInput {
		t.Fatalf("write without permission err = %v", err)
	}
}

func TestFileToolWrite(t *testing.T) {
	root := t.TempDir()
	tool := NewTool(Config{Roots: []string{root}, AllowWrite: true})
	args := map[string]string{"action": "write", "path": "out.txt", "content": "data"}
	if err := tool.Validate(args); err != nil {
		t.Fatal(err)
	}
	if _, err := tool.Execute(context.Background(), args); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(filepath.Join(root, "out.txt"))
	if err != nil || string(b) != "data" {
		t.Fatalf("file = %q, %v", b, err)
	}
}

func TestFileToolReadTruncates(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "big"), []byte("0123456789"), 0o644); err != nil {
		t.Fatal(err)
	}
	tool := NewTool(Config{Roots: []string{root}, MaxReadBytes: 4})
	out, err := tool.Execute(context.Background(), map[string]string{"action": "read", "path": "big"})
	if err != nil {
		t.Fatal(err)
	}
	if out != "0123\n[truncated]" {
		t.Fatalf("out = %q", out)
	}
}
