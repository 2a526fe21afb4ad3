package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/fogha/raiken-sub000/internal/domain"
	"github.com/fogha/raiken-sub000/internal/errs"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Store persists one JSON document per report id. The directory is kept
// separate from the runner's own output directory so the runner's cleanup
// cannot delete reports.
type Store struct {
	dir string
}

// NewStore creates a report store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Put writes the report document. Reports are append-only per id, so
// concurrent executions never touch the same file.
func (s *Store) Put(r *domain.TestReport) error {
	if !idPattern.MatchString(r.ID) {
		return fmt.Errorf("%w: invalid report id %q", errs.ErrValidation, r.ID)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("ensure reports directory: %w", err)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, r.ID+".json"), data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// Get reads a single report by id.
func (s *Store) Get(id string) (*domain.TestReport, error) {
	if !idPattern.MatchString(id) {
		return nil, fmt.Errorf("%w: invalid report id %q", errs.ErrValidation, id)
	}

	data, err := os.ReadFile(filepath.Join(s.dir, id+".json"))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: report %q", errs.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}

	var r domain.TestReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse report %q: %w", id, err)
	}
	return &r, nil
}

// List reads all report documents, newest first.
func (s *Store) List() ([]domain.TestReport, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read reports directory: %w", err)
	}

	var reports []domain.TestReport
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		r, err := s.Get(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			// A single corrupt document must not hide the rest.
			continue
		}
		reports = append(reports, *r)
	}

	sort.Slice(reports, func(i, j int) bool {
		return reports[i].Timestamp.After(reports[j].Timestamp)
	})
	return reports, nil
}

// Delete removes a single report document.
func (s *Store) Delete(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: invalid report id %q", errs.ErrValidation, id)
	}

	err := os.Remove(filepath.Join(s.dir, id+".json"))
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: report %q", errs.ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("delete report: %w", err)
	}
	return nil
}
