package artifacts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fogha/raiken-sub000/internal/errs"
)

func TestContentType(t *testing.T) {
	assert.Equal(t, "image/png", ContentType("shot.png"))
	assert.Equal(t, "video/webm", ContentType("run.WEBM"))
	assert.Equal(t, "application/zip", ContentType("trace.zip"))
	assert.Equal(t, "application/octet-stream", ContentType("mystery.bin"))
	assert.Equal(t, "application/octet-stream", ContentType("noext"))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, KindScreenshot, Classify("a.png"))
	assert.Equal(t, KindVideo, Classify("b.mp4"))
	assert.Equal(t, KindTrace, Classify("trace.zip"))
	assert.Equal(t, KindOther, Classify("notes.txt"))
}

func TestResolve(t *testing.T) {
	root := t.TempDir()
	rel := filepath.Join("results", "shot.png")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "results"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, rel), []byte("png"), 0o644))

	abs, err := Resolve(root, rel)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, rel), abs)
}

func TestResolveRejectsEscape(t *testing.T) {
	root := t.TempDir()

	_, err := Resolve(root, "../secrets.txt")
	assert.ErrorIs(t, err, errs.ErrSecurity)
}

func TestResolveMissing(t *testing.T) {
	root := t.TempDir()

	_, err := Resolve(root, "results/nope.png")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestResolveDirectory(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "results"), 0o755))

	_, err := Resolve(root, "results")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}
