// Package security validates filesystem paths received from outside the
// process before they are opened.
package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// canonicalize resolves path to an absolute, symlink-free form. When the
// path does not exist yet, symlinks are resolved for the nearest existing
// ancestor so a link inside the tree cannot redirect the tail elsewhere.
func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	for dir := filepath.Dir(abs); ; dir = filepath.Dir(dir) {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			rel, _ := filepath.Rel(dir, abs)
			return filepath.Join(resolved, rel), nil
		}
		if dir == filepath.Dir(dir) {
			// Walked to the root without finding an existing ancestor.
			return abs, nil
		}
	}
}

// ValidatePathWithinDirectory reports whether path resolves inside dir,
// with symlinks resolved on both sides before the containment check.
func ValidatePathWithinDirectory(path, dir string) error {
	canonical, err := canonicalize(path)
	if err != nil {
		return err
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve directory path: %w", err)
	}
	canonicalDir, err := filepath.EvalSymlinks(absDir)
	if err != nil {
		return fmt.Errorf("resolve directory symlinks: %w", err)
	}

	rel, err := filepath.Rel(canonicalDir, canonical)
	if err != nil {
		return fmt.Errorf("path outside %s: %w", dir, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("path %s escapes %s", path, dir)
	}
	return nil
}

// ValidatePathWithinAllowedDirs accepts path if it resolves inside any of
// the given directories.
func ValidatePathWithinAllowedDirs(path string, dirs []string) error {
	if len(dirs) == 0 {
		return fmt.Errorf("no allowed directories specified")
	}
	for _, dir := range dirs {
		if err := ValidatePathWithinDirectory(path, dir); err == nil {
			return nil
		}
	}
	return fmt.Errorf("path must be within one of: %v", dirs)
}

// ValidateTracePath validates a trace directory path received over the
// monitor API. Traces land in the system temp directory when no record
// directory is configured, or wherever the daemon was told to record, so
// the path must resolve under the temp directory, the working directory,
// or the parent of the configured trace directory.
func ValidateTracePath(path, traceDir string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	allowed := []string{os.TempDir(), cwd}
	if traceDir != "" {
		allowed = append(allowed, filepath.Dir(traceDir))
	}
	return ValidatePathWithinAllowedDirs(path, allowed)
}
