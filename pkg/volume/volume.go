// Package volume splits absolute paths into a volume identity and the
// remainder below that volume's root.
//
// The identity is always a single path segment, so it can be used as a
// folder name under a backup destination without two volumes sharing one.
// On Windows the identity is the drive letter ("C") or the UNC host and
// share ("server_share"); on Unix it is the mount point of the filesystem
// holding the path ("_" for "/", "mnt_data" for "/mnt/data"). Literal
// underscores inside a component are escaped, see EncodeMountPoint.
package volume

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrNoVolume is returned for paths that carry no volume identity, such as
// relative paths or Unix-style paths given to the Windows parser.
var ErrNoVolume = errors.New("path has no volume identity")

// Split is the result of splitting an absolute path.
type Split struct {
	// Identity is a single, non-empty path segment naming the volume.
	Identity string
	// Remainder is the slash-separated path below the volume root without a
	// leading slash. It is empty for the volume root itself and never
	// contains "..".
	Remainder string
}

// Resolver splits absolute paths into volume identity and remainder.
type Resolver interface {
	Split(p string) (Split, error)
}

// Windows splits Windows-style paths lexically. It works on any host so that
// drive-letter paths can be mapped (and tested) everywhere; it never touches
// the filesystem.
type Windows struct{}

// Split implements Resolver for drive-letter and UNC paths.
func (Windows) Split(p string) (Split, error) {
	s := strings.ReplaceAll(p, `\`, "/")
	// Extended-length prefixes carry no meaning for the identity.
	if strings.HasPrefix(s, "//?/UNC/") {
		s = "//" + s[len("//?/UNC/"):]
	} else if strings.HasPrefix(s, "//?/") || strings.HasPrefix(s, "//./") {
		s = s[len("//?/"):]
	}

	switch {
	case len(s) >= 2 && s[1] == ':' && isLetter(s[0]):
		rest := s[2:]
		if rest != "" && rest[0] != '/' {
			return Split{}, fmt.Errorf("%w: drive-relative path %q", ErrNoVolume, p)
		}
		remainder, err := cleanRemainder(rest)
		if err != nil {
			return Split{}, fmt.Errorf("%q: %w", p, err)
		}
		return Split{Identity: strings.ToUpper(s[:1]), Remainder: remainder}, nil

	case strings.HasPrefix(s, "//"):
		parts := strings.SplitN(s[2:], "/", 3)
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			return Split{}, fmt.Errorf("%w: incomplete UNC path %q", ErrNoVolume, p)
		}
		rest := ""
		if len(parts) == 3 {
			rest = parts[2]
		}
		remainder, err := cleanRemainder(rest)
		if err != nil {
			return Split{}, fmt.Errorf("%q: %w", p, err)
		}
		return Split{Identity: EncodeMountPoint("/" + parts[0] + "/" + parts[1]), Remainder: remainder}, nil
	}
	return Split{}, fmt.Errorf("%w: %q", ErrNoVolume, p)
}

// EncodeMountPoint turns a slash-separated mount point into a single path
// segment. The root becomes "_"; other mount points join their components
// with "_" after escaping every literal "%" and "_" in a component as
// "%25" and "%5F". A "_" in the result is therefore always a separator,
// and distinct mount points never produce the same segment.
func EncodeMountPoint(mountPoint string) string {
	clean := strings.Trim(path.Clean("/"+strings.ReplaceAll(mountPoint, `\`, "/")), "/")
	if clean == "" {
		return "_"
	}
	components := strings.Split(clean, "/")
	for i, c := range components {
		components[i] = componentEscaper.Replace(c)
	}
	return strings.Join(components, "_")
}

var componentEscaper = strings.NewReplacer("%", "%25", "_", "%5F")

// cleanRemainder normalizes the part of a path below the volume root.
// The path is absolute, so Clean resolves every ".." against the root.
func cleanRemainder(rest string) (string, error) {
	remainder := strings.TrimPrefix(path.Clean("/"+rest), "/")
	if remainder == ".." || strings.HasPrefix(remainder, "../") {
		return "", errors.New("path escapes its volume root")
	}
	return remainder, nil
}

func isLetter(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}
