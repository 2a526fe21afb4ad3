// Package artifacts resolves and classifies files produced by test runs.
package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fogha/raiken-sub000/internal/errs"
	"github.com/fogha/raiken-sub000/internal/paths"
)

// CacheControl is set on served artifacts.
const CacheControl = "public, max-age=3600"

var mimeTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".webm": "video/webm",
	".mp4":  "video/mp4",
	".zip":  "application/zip",
	".json": "application/json",
	".txt":  "text/plain",
	".log":  "text/plain",
	".html": "text/html",
	".css":  "text/css",
	".js":   "application/javascript",
}

// ContentType maps a file extension to its MIME type, falling back to
// octet-stream.
func ContentType(path string) string {
	if mime, ok := mimeTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return mime
	}
	return "application/octet-stream"
}

// Kind classifies an artifact for per-category report caps.
type Kind int

const (
	KindOther Kind = iota
	KindScreenshot
	KindVideo
	KindTrace
)

// Classify buckets an artifact path by extension.
func Classify(path string) Kind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
		return KindScreenshot
	case ".webm", ".mp4":
		return KindVideo
	case ".zip":
		return KindTrace
	}
	return KindOther
}

// Resolve maps a relative artifact path to an absolute one, enforcing
// containment within root and requiring a regular file.
func Resolve(root, rel string) (string, error) {
	abs, err := paths.Resolve(root, rel)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("%w: artifact %q", errs.ErrNotFound, rel)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: artifact %q is not a regular file", errs.ErrNotFound, rel)
	}
	return abs, nil
}
