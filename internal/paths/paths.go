// Package paths provides path-containment checks against the project root.
package paths

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fogha/raiken-sub000/internal/errs"
)

// Resolve resolves rel against root and fails if the result escapes root.
// It returns the cleaned absolute path on success.
func Resolve(root, rel string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}

	abs := rel
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(absRoot, rel)
	}
	abs = filepath.Clean(abs)

	if !Within(absRoot, abs) {
		return "", fmt.Errorf("%w: path %q escapes project root", errs.ErrSecurity, rel)
	}
	return abs, nil
}

// Within reports whether abs is root itself or a descendant of root. Both
// arguments must already be absolute and cleaned.
func Within(root, abs string) bool {
	if abs == root {
		return true
	}
	return strings.HasPrefix(abs, root+string(filepath.Separator))
}

// RelativeTo rewrites abs to a path relative to root, or returns abs
// unchanged when it lies outside root.
func RelativeTo(root, abs string) string {
	rel, err := filepath.Rel(root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return abs
	}
	return rel
}
