// Package resolve turns a backup request into the ordered list of source
// directories to back up.
package resolve

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulschiretz/pgl-profile-backup/pkg/request"
	"github.com/paulschiretz/pgl-profile-backup/pkg/util"
)

// Well-known folder names below the user profile.
const (
	DocumentsFolder = "Documents"
	DesktopFolder   = "Desktop"
	PicturesFolder  = "Pictures"
)

// Resolver resolves sources against the acting user's profile directory.
type Resolver struct {
	// HomeDir returns the profile root. Defaults to os.UserHomeDir.
	HomeDir func() (string, error)
}

// New returns a Resolver for the current user.
func New() *Resolver {
	return &Resolver{HomeDir: os.UserHomeDir}
}

// Resolve returns the source directories for req. Sources are not checked
// for existence here; that is the skip policy's job.
func (r *Resolver) Resolve(req request.Request) ([]string, error) {
	if req.Type() == request.Custom {
		return resolveCustom(req.CustomFolders())
	}

	home, err := r.homeDir()
	if err != nil {
		return nil, &request.ConfigurationError{Reason: fmt.Sprintf("cannot determine user profile directory: %v", err)}
	}

	switch req.Type() {
	case request.Documents:
		return []string{filepath.Join(home, DocumentsFolder)}, nil
	case request.Desktop:
		return []string{filepath.Join(home, DesktopFolder)}, nil
	case request.Pictures:
		return []string{filepath.Join(home, PicturesFolder)}, nil
	case request.FullProfile:
		return []string{filepath.Clean(home)}, nil
	default:
		return nil, &request.ConfigurationError{Reason: fmt.Sprintf("unsupported backup type %s", req.Type())}
	}
}

func (r *Resolver) homeDir() (string, error) {
	homeDir := r.HomeDir
	if homeDir == nil {
		homeDir = os.UserHomeDir
	}
	home, err := homeDir()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(home) == "" {
		return "", fmt.Errorf("home directory is empty")
	}
	return home, nil
}

// resolveCustom cleans the caller's list and drops duplicates, keeping the
// first occurrence. Blank entries are ignored.
func resolveCustom(folders []string) ([]string, error) {
	cleaned := make([]string, 0, len(folders))
	for _, f := range folders {
		if strings.TrimSpace(f) == "" {
			continue
		}
		expanded, err := util.ExpandPath(f)
		if err != nil {
			return nil, &request.ConfigurationError{Reason: err.Error()}
		}
		cleaned = append(cleaned, filepath.Clean(expanded))
	}
	if len(cleaned) == 0 {
		return nil, &request.ConfigurationError{Reason: "custom backup selected but no folders were chosen"}
	}
	return util.DeduplicateOrdered(cleaned, util.PathKey), nil
}
