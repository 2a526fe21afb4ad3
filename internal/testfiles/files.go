// Package testfiles implements test file discovery, save and delete under
// the project's test directory.
package testfiles

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/fogha/raiken-sub000/internal/domain"
	"github.com/fogha/raiken-sub000/internal/errs"
	"github.com/fogha/raiken-sub000/internal/paths"
)

// Suffix is the canonical suffix appended to saved test files.
const Suffix = ".spec.ts"

var (
	suffixPattern   = regexp.MustCompile(`\.(spec|test)\.(ts|js|mjs|tsx|jsx)$`)
	unsafePattern   = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)
	specGlobs       = []string{"*.spec.ts", "*.spec.js", "*.test.ts", "*.test.js"}
	defaultFileName = "untitled"
)

// Store performs file operations rooted at the project directory.
type Store struct {
	root    string // absolute project root
	testDir string // test directory relative to root
}

// NewStore creates a store for the given project root and test directory.
func NewStore(root, testDir string) *Store {
	return &Store{root: root, testDir: testDir}
}

// Dir returns the absolute test directory.
func (s *Store) Dir() string {
	return filepath.Join(s.root, s.testDir)
}

// List globs the test directory for spec files, sorted by filename. The
// directory is created first so discovery never fails on a fresh project.
func (s *Store) List() ([]domain.TestFile, error) {
	dir := s.Dir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure test directory: %w", err)
	}

	seen := map[string]bool{}
	var files []domain.TestFile
	for _, glob := range specGlobs {
		matches, err := filepath.Glob(filepath.Join(dir, glob))
		if err != nil {
			return nil, fmt.Errorf("glob test files: %w", err)
		}
		for _, match := range matches {
			if seen[match] {
				continue
			}
			seen[match] = true

			info, err := os.Stat(match)
			if err != nil || info.IsDir() {
				continue
			}
			content, err := os.ReadFile(match)
			if err != nil {
				continue
			}
			files = append(files, domain.TestFile{
				Name:       filepath.Base(match),
				Path:       paths.RelativeTo(s.root, match),
				Content:    string(content),
				CreatedAt:  info.ModTime(),
				ModifiedAt: info.ModTime(),
			})
		}
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Save normalizes the filename, writes content under the test directory
// and returns the saved path relative to the project root.
func (s *Store) Save(content, filename string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("%w: content is required", errs.ErrValidation)
	}

	name := Sanitize(filename)
	dir := s.Dir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("ensure test directory: %w", err)
	}

	target := filepath.Join(dir, name)
	if _, err := paths.Resolve(s.root, paths.RelativeTo(s.root, target)); err != nil {
		return "", err
	}

	if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write test file: %w", err)
	}
	return paths.RelativeTo(s.root, target), nil
}

// Delete resolves the path against the project root and unlinks it. Paths
// escaping the root are rejected before any filesystem access.
func (s *Store) Delete(relPath string) error {
	if strings.TrimSpace(relPath) == "" {
		return fmt.Errorf("%w: testPath is required", errs.ErrValidation)
	}

	abs, err := paths.Resolve(s.root, relPath)
	if err != nil {
		return err
	}

	if _, err := os.Stat(abs); os.IsNotExist(err) {
		return fmt.Errorf("%w: test file %q", errs.ErrNotFound, relPath)
	}
	if err := os.Remove(abs); err != nil {
		return fmt.Errorf("delete test file: %w", err)
	}
	return nil
}

// FindByName looks a test file up by basename inside the test directory.
func (s *Store) FindByName(name string) (string, error) {
	abs := filepath.Join(s.Dir(), filepath.Base(name))
	if _, err := os.Stat(abs); err != nil {
		return "", fmt.Errorf("%w: test file %q", errs.ErrNotFound, name)
	}
	return abs, nil
}

// Sanitize strips any existing test-suffix pattern, reduces the name to a
// safe character set and appends the canonical suffix.
func Sanitize(filename string) string {
	name := strings.TrimSpace(filepath.Base(filename))
	name = suffixPattern.ReplaceAllString(name, "")
	name = unsafePattern.ReplaceAllString(name, "-")
	name = strings.Trim(name, "-.")
	if name == "" {
		name = defaultFileName
	}
	return name + Suffix
}
