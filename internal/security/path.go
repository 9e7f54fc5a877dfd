package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidateFilePath rejects empty paths, NUL bytes and any ".." component.
// Absolute paths are allowed; callers that need confinement use
// ValidateFilePathWithBase.
func ValidateFilePath(path string) error {
	if path == "" {
		return fmt.Errorf("file path cannot be empty")
	}
	if strings.ContainsRune(path, 0) {
		return fmt.Errorf("path contains NUL byte")
	}

	for _, part := range strings.FieldsFunc(filepath.ToSlash(path), func(r rune) bool { return r == '/' }) {
		if part == ".." {
			return fmt.Errorf("path contains directory traversal: %s", path)
		}
	}

	return nil
}

// ValidateFilePathWithBase validates that path, taken relative to baseDir,
// stays inside baseDir.
func ValidateFilePathWithBase(path, baseDir string) error {
	if err := ValidateFilePath(path); err != nil {
		return err
	}
	if filepath.IsAbs(path) {
		return fmt.Errorf("absolute paths not allowed: %s", path)
	}

	cleanBase := filepath.Clean(baseDir)
	rel, err := filepath.Rel(cleanBase, filepath.Join(cleanBase, path))
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("path escapes base directory: %s", path)
	}

	return nil
}

// SafeJoin validates name against baseDir and returns the joined path.
func SafeJoin(baseDir, name string) (string, error) {
	if err := ValidateFilePathWithBase(name, baseDir); err != nil {
		return "", err
	}
	return filepath.Join(baseDir, name), nil
}
