// Package project provides minimal project metadata detection.
//
// Full framework detection and scaffolding happen on the platform side;
// the bridge only needs a name, a test directory and enough metadata to
// answer /project-info.
package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Info describes the project the bridge is serving.
type Info struct {
	Name           string `json:"name"`
	Type           string `json:"type"`
	TestDir        string `json:"testDir"`
	PackageManager string `json:"packageManager"`
}

// Detect inspects root and returns what it can figure out. It never
// fails: missing metadata degrades to directory-name defaults.
func Detect(root, testDir string) Info {
	info := Info{
		Name:           filepath.Base(root),
		Type:           "unknown",
		TestDir:        testDir,
		PackageManager: "npm",
	}

	raw, err := os.ReadFile(filepath.Join(root, "package.json"))
	if err != nil {
		return info
	}

	var pkg struct {
		Name            string            `json:"name"`
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(raw, &pkg); err != nil {
		return info
	}

	if pkg.Name != "" {
		info.Name = pkg.Name
	}
	info.Type = "node"

	deps := make(map[string]string, len(pkg.Dependencies)+len(pkg.DevDependencies))
	for k, v := range pkg.Dependencies {
		deps[k] = v
	}
	for k, v := range pkg.DevDependencies {
		deps[k] = v
	}
	for _, fw := range []string{"next", "react", "vue", "svelte", "@angular/core"} {
		if _, ok := deps[fw]; ok {
			info.Type = fw
			break
		}
	}

	locks := []struct{ file, pm string }{
		{"pnpm-lock.yaml", "pnpm"},
		{"yarn.lock", "yarn"},
		{"bun.lockb", "bun"},
		{"package-lock.json", "npm"},
	}
	for _, l := range locks {
		if _, err := os.Stat(filepath.Join(root, l.file)); err == nil {
			info.PackageManager = l.pm
			break
		}
	}

	return info
}

// EnsureTestDirectory creates the test directory if it is absent.
func EnsureTestDirectory(root, testDir string) error {
	dir := filepath.Join(root, testDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ensure test directory: %w", err)
	}
	return nil
}
