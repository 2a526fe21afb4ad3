package report

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fogha/raiken-sub000/internal/domain"
	"github.com/fogha/raiken-sub000/internal/errs"
)

func newReport(id string, ts time.Time, success bool) *domain.TestReport {
	return &domain.TestReport{
		ID:        id,
		TestPath:  "tests/sample.spec.ts",
		Timestamp: ts,
		Success:   success,
		Output:    "output",
		Results:   map[string]any{"stats": map[string]any{"expected": float64(1)}},
		Summary:   "Test passed successfully",
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "reports"))

	want := newReport("100-abc", time.Now().Round(time.Millisecond), true)
	require.NoError(t, s.Put(want))

	got, err := s.Get("100-abc")
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.TestPath, got.TestPath)
	assert.Equal(t, want.Results, got.Results)
	assert.True(t, want.Timestamp.Equal(got.Timestamp))
}

func TestListNewestFirst(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "reports"))

	base := time.Now()
	for i := 0; i < 3; i++ {
		r := newReport(fmt.Sprintf("r-%d", i), base.Add(time.Duration(i)*time.Minute), true)
		require.NoError(t, s.Put(r))
	}

	reports, err := s.List()
	require.NoError(t, err)
	require.Len(t, reports, 3)
	assert.Equal(t, "r-2", reports[0].ID)
	assert.Equal(t, "r-0", reports[2].ID)
}

func TestListEmptyDirectory(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "never-created"))

	reports, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, reports)
}

func TestDelete(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "reports"))

	require.NoError(t, s.Put(newReport("gone-1", time.Now(), false)))
	require.NoError(t, s.Delete("gone-1"))

	_, err := s.Get("gone-1")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	assert.ErrorIs(t, s.Delete("gone-1"), errs.ErrNotFound)
}

func TestRejectsPathologicalIDs(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "reports"))

	for _, id := range []string{"../escape", "a/b", "", "null\x00byte"} {
		_, err := s.Get(id)
		assert.ErrorIs(t, err, errs.ErrValidation, "id %q", id)
		assert.ErrorIs(t, s.Delete(id), errs.ErrValidation, "id %q", id)
	}
}
