// Package security keeps generated files inside the configured data
// directory.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// canonicalPath returns the absolute form of path with symlinks resolved
// for the longest prefix that exists. Paths that do not exist yet, such as
// outputs about to be written, keep their remaining components verbatim.
func canonicalPath(path string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	// Walk up to the first existing ancestor so a symlinked parent such as
	// data/evil -> /etc is still caught.
	for dir := filepath.Dir(abs); ; dir = filepath.Dir(dir) {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			rel, _ := filepath.Rel(dir, abs)
			return filepath.Join(resolved, rel), nil
		}
		if parent := filepath.Dir(dir); parent == dir {
			return abs, nil
		}
	}
}

// ValidatePathWithinDirectory checks that filePath resolves to a location
// inside safeDir, following symlinks, and rejects traversal out of it.
func ValidatePathWithinDirectory(filePath, safeDir string) error {
	canonical, err := canonicalPath(filePath)
	if err != nil {
		return err
	}
	canonicalSafeDir, err := canonicalPath(safeDir)
	if err != nil {
		return fmt.Errorf("failed to resolve safe directory: %w", err)
	}

	relPath, err := filepath.Rel(canonicalSafeDir, canonical)
	if err != nil {
		return fmt.Errorf("path is outside safe directory: %w", err)
	}
	if relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) || filepath.IsAbs(relPath) {
		return fmt.Errorf("path traversal detected: %s attempts to escape %s", filePath, safeDir)
	}
	return nil
}

// OutputPath joins a generated file name onto dataDir after sanitising it
// and checks the result stays inside dataDir.
func OutputPath(dataDir, name string) (string, error) {
	p := filepath.Join(dataDir, SanitizeFilename(name))
	if err := ValidatePathWithinDirectory(p, dataDir); err != nil {
		return "", err
	}
	return p, nil
}

// SanitizeFilename makes a safe filename from an arbitrary string such as
// a region name. Characters other than ASCII letters, digits, dot,
// underscore and dash become a single underscore, and the result is capped
// at 128 bytes.
func SanitizeFilename(s string) string {
	const maxLen = 128
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
			lastUnderscore = r == '_'
		default:
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
