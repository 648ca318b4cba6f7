package files

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideRoots is returned for paths outside every allowed root.
var ErrOutsideRoots = errors.New("path is outside the allowed roots")

// Resolver resolves paths and confines them to a set of allowed roots.
type Resolver struct {
	Roots []string
}

// Resolve returns an absolute, cleaned path inside one of the roots.
// Relative paths resolve against the first root.
func (r Resolver) Resolve(path string) (string, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return "", fmt.Errorf("path is required")
	}
	roots := r.Roots
	if len(roots) == 0 {
		roots = []string{"."}
	}

	var target string
	if filepath.IsAbs(clean) {
		target = filepath.Clean(clean)
	} else {
		base, err := filepath.Abs(roots[0])
		if err != nil {
			return "", fmt.Errorf("resolve root: %w", err)
		}
		target = filepath.Join(base, clean)
	}

	for _, root := range roots {
		rootAbs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(rootAbs, target)
		if err != nil {
			continue
		}
		if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
			continue
		}
		return target, nil
	}
	return "", fmt.Errorf("%w: %s", ErrOutsideRoots, clean)
}
