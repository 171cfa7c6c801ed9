// Package preflight checks the destination root before a backup touches it.
package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulschiretz/pgl-profile-backup/pkg/util"
)

// CheckDestinationRoot makes sure root is usable as a backup destination:
//  1. it is not an ambiguous root such as "." or a bare drive letter,
//  2. on Windows, its drive or network share is connected,
//  3. it exists (it is created if missing) and is a directory,
//  4. a file can be created in it.
func CheckDestinationRoot(root string) error {
	if strings.TrimSpace(root) == "" {
		return fmt.Errorf("no destination root given")
	}
	clean := filepath.Clean(root)
	if isUnsafeRoot(clean) {
		return fmt.Errorf("refusing to use %q as destination root", root)
	}
	if err := checkVolumeExists(clean); err != nil {
		return err
	}

	info, err := os.Stat(clean)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(clean, util.UserWritableDirPerms); err != nil {
			return fmt.Errorf("failed to create destination root %s: %w", clean, err)
		}
	case err != nil:
		return fmt.Errorf("cannot access destination root: %w", err)
	case !info.IsDir():
		return fmt.Errorf("destination root exists but is not a directory: %s", clean)
	}

	f, err := os.CreateTemp(clean, ".~profile-backup-writetest-*.tmp")
	if err != nil {
		return fmt.Errorf("destination root %s is not writable: %w", clean, err)
	}
	f.Close()
	_ = os.Remove(f.Name())
	return nil
}

// IsWithin reports whether path is dir itself or lies below it. Paths are
// compared case-insensitively on case-insensitive hosts.
func IsWithin(path, dir string) bool {
	rel, err := filepath.Rel(util.PathKey(filepath.Clean(dir)), util.PathKey(filepath.Clean(path)))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
