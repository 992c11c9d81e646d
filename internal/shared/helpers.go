// Package shared provides common utility functions used across multiple
// packages in the packlink codebase.
package shared

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// HTTPStatusErrorWithBody creates a formatted error that includes the
// response body for non-2xx HTTP responses.
func HTTPStatusErrorWithBody(status int, url string, body string) error {
	return fmt.Errorf("status=%d url=%s response=%s", status, url, strings.TrimSpace(body))
}

// ValidateIdentifier rejects ids that are empty or could escape the
// directory they are joined onto.
func ValidateIdentifier(id string) error {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return fmt.Errorf("invalid identifier: empty")
	}
	if strings.ContainsAny(trimmed, `/\`) || strings.Contains(trimmed, string(os.PathSeparator)) {
		return fmt.Errorf("invalid identifier %q: must not contain path separators", trimmed)
	}
	if trimmed == "." || strings.HasPrefix(trimmed, "..") {
		return fmt.Errorf("invalid identifier %q: path traversal not allowed", trimmed)
	}
	return nil
}

// AtomicWriteFile writes data to path through a temp file in the same
// directory followed by a rename, creating parent directories as needed.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".packlink-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	committed = true
	return nil
}

// FileExists reports whether path exists, treating stat errors other than
// not-exist as failures.
func FileExists(path string) (bool, error) {
	_, err := os.Lstat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// CleanRelPath normalizes a relative instance path to forward slashes and
// rejects empty paths and traversal.
func CleanRelPath(raw string) (string, bool) {
	normalized := strings.TrimLeft(strings.TrimSpace(strings.ReplaceAll(raw, "\\", "/")), "/")
	if normalized == "" || strings.Contains(normalized, "..") {
		return "", false
	}
	return normalized, true
}
