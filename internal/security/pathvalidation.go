// Package security validates file system paths derived from request or
// device data.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// maxFilenameLen bounds names produced by SanitizeFilename.
const maxFilenameLen = 128

// ValidatePathWithinDirectory returns an error if filePath, once cleaned and
// with symlinks resolved, lies outside dir. Paths that do not exist yet are
// resolved through their nearest existing parent.
func ValidatePathWithinDirectory(filePath, dir string) error {
	absPath, err := filepath.Abs(filepath.Clean(filePath))
	if err != nil {
		return fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve directory path: %w", err)
	}
	root, err := filepath.EvalSymlinks(absDir)
	if err != nil {
		return fmt.Errorf("failed to resolve directory symlinks: %w", err)
	}

	rel, err := filepath.Rel(root, resolveExisting(absPath))
	if err != nil {
		return fmt.Errorf("path is outside %s: %w", dir, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("path traversal detected: %s escapes %s", filePath, dir)
	}
	return nil
}

// resolveExisting resolves symlinks in the longest existing prefix of p and
// re-appends the remainder.
func resolveExisting(p string) string {
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		return resolved
	}
	for parent := filepath.Dir(p); ; parent = filepath.Dir(parent) {
		if resolved, err := filepath.EvalSymlinks(parent); err == nil {
			rest, _ := filepath.Rel(parent, p)
			return filepath.Join(resolved, rest)
		}
		if parent == filepath.Dir(parent) {
			return p
		}
	}
}

// SanitizeFilename maps an arbitrary identifier (a MAC address, a network
// name) to a safe file name: ASCII letters, digits, dot, dash and underscore
// are kept, runs of anything else collapse to one underscore.
func SanitizeFilename(s string) string {
	var b strings.Builder
	pendingUnderscore := false
	for _, r := range s {
		if b.Len() >= maxFilenameLen {
			break
		}
		keep := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
			r == '.' || r == '-' || r == '_'
		if !keep {
			pendingUnderscore = true
			continue
		}
		if pendingUnderscore {
			b.WriteByte('_')
			pendingUnderscore = false
		}
		b.WriteRune(r)
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
