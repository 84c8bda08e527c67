// Package fileutil provides file and path utility functions.
package fileutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Sentinel errors for file utility operations.
var (
	ErrExtensionEmpty         = errors.New("extension cannot be empty")
	ErrExtensionPathTraversal = errors.New("extension contains path separator or null byte")
)

// tempPattern prefixes every scratch file so that leftovers are recognizable.
const tempPattern = ".mmd2svg-*"

// WriteFileAtomic writes data to a temporary file in the target directory,
// syncs it, and renames it over path. Readers never observe a partial file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)

	tmpPath, err := StageFile(dir, data, perm)
	if err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}

	SyncDir(dir)
	return nil
}

// StageFile writes data to a new temporary file in dir, syncs and closes it,
// and returns its path. The caller renames it into place or removes it.
func StageFile(dir string, data []byte, perm os.FileMode) (string, error) {
	tmp, err := os.CreateTemp(dir, tempPattern+".tmp")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	fail := func(format string, err error) (string, error) {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf(format, err)
	}

	if _, err := tmp.Write(data); err != nil {
		return fail("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("setting permissions: %w", err)
	}
	return tmpPath, nil
}

// TempName returns an unused scratch path in dir without creating it, for
// callers that move an existing file aside with os.Rename.
func TempName(dir, suffix string) (string, error) {
	f, err := os.CreateTemp(dir, tempPattern+suffix)
	if err != nil {
		return "", fmt.Errorf("reserving temp name: %w", err)
	}
	name := f.Name()
	_ = f.Close()
	if err := os.Remove(name); err != nil {
		return "", fmt.Errorf("reserving temp name: %w", err)
	}
	return name, nil
}

// SyncDir flushes directory metadata so a rename survives a crash.
// Not every platform supports fsync on directories; failures are ignored.
func SyncDir(dir string) {
	d, err := os.Open(dir) // #nosec G304 -- dir is the parent of a caller-validated path
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

// ValidateExtension checks that the extension is safe for use in file names.
func ValidateExtension(extension string) error {
	if extension == "" {
		return ErrExtensionEmpty
	}
	if strings.ContainsAny(extension, "/\\\x00") {
		return ErrExtensionPathTraversal
	}
	return nil
}

// FileExists returns true if the path exists and is a regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// IsFilePath returns true if the string looks like a file path rather than a name.
// A string containing path separators (/, \) is treated as a path.
//
// Examples:
//   - "mmd2svg" -> false (name)
//   - "./mmd2svg.yaml" -> true (relative path)
//   - "/etc/mmd2svg/team.yaml" -> true (absolute)
//   - "C:\config\team.yaml" -> true (Windows)
func IsFilePath(s string) bool {
	return strings.ContainsAny(s, "/\\")
}

// IsURL returns true if the string looks like a URL.
func IsURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// IsUnderDir reports whether path is dir itself or lies inside it, using
// lexical comparison of the cleaned absolute forms. Callers that must defend
// against symlinks resolve both arguments with filepath.EvalSymlinks first.
func IsUnderDir(dir, path string) bool {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
