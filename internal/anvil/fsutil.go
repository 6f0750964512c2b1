package anvil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// safeRemoveAll removes a directory tree, refusing the anvil root, the
// user's home directory and the filesystem root. This prevents accidental
// mass-deletion when housekeeping is run against bad paths. Removal is
// retried a few times for transiently busy files.
func (a *Anvil) safeRemoveAll(path string) error {
	if path == "" {
		return fmt.Errorf("refusing to remove empty path")
	}
	resolved, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("refusing to remove unresolvable path %s: %w", path, err)
	}

	dangerous := map[string]bool{a.Root: true, "/": true}
	if home, err := os.UserHomeDir(); err == nil {
		dangerous[home] = true
	}
	if dangerous[filepath.Clean(resolved)] {
		return fmt.Errorf("refusing to remove critical path: %s", resolved)
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if lastErr = os.RemoveAll(resolved); lastErr == nil {
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("could not remove %s: %w", resolved, lastErr)
}

func copyFile(src, dst string, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// isExecutable reports whether a file has any execute bit set.
func isExecutable(info os.FileInfo) bool {
	return info.Mode().IsRegular() && info.Mode().Perm()&0o111 != 0
}
