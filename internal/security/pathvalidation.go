// Package security validates filesystem paths before export files are
// written, so a misconfigured or symlinked export directory cannot place
// files outside the directory the operator chose.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidatePathWithinDirectory checks that filePath resolves inside safeDir.
// It cleans both paths and resolves symlinks on any existing prefix of
// filePath, so a symlink inside the export directory cannot redirect the
// write elsewhere.
func ValidatePathWithinDirectory(filePath, safeDir string) error {
	absPath, err := filepath.Abs(filepath.Clean(filePath))
	if err != nil {
		return fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	absSafeDir, err := filepath.Abs(safeDir)
	if err != nil {
		return fmt.Errorf("failed to resolve safe directory path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(absSafeDir); err == nil {
		absSafeDir = resolved
	}

	// The target usually does not exist yet; resolve symlinks on the
	// longest existing ancestor and re-join the remainder.
	canonicalPath := absPath
	checkPath := absPath
	var tail []string
	for {
		parent := filepath.Dir(checkPath)
		if resolved, err := filepath.EvalSymlinks(checkPath); err == nil {
			canonicalPath = filepath.Join(append([]string{resolved}, reverse(tail)...)...)
			break
		}
		if parent == checkPath {
			break
		}
		tail = append(tail, filepath.Base(checkPath))
		checkPath = parent
	}

	rel, err := filepath.Rel(absSafeDir, canonicalPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path %q escapes directory %q", filePath, safeDir)
	}
	return nil
}

func reverse(s []string) []string {
	out := make([]string, len(s))
	for i, v := range s {
		out[len(s)-1-i] = v
	}
	return out
}
