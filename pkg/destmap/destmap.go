// Package destmap computes where a source directory lands below a backup
// destination root: <root>/<volume identity>/<path below the volume root>.
package destmap

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/paulschiretz/pgl-profile-backup/pkg/volume"
)

// ErrInvalidRoot is returned for destination roots that cannot be normalized.
var ErrInvalidRoot = errors.New("invalid destination root")

// Mapper maps sources to destinations. It performs no filesystem access of
// its own; whatever the volume resolver needs is looked up (and cached) there.
type Mapper struct {
	volumes volume.Resolver
}

// New returns a Mapper that splits sources with v.
func New(v volume.Resolver) *Mapper {
	return &Mapper{volumes: v}
}

// Map returns the destination for source below root. The result uses the
// separator style of root, has no trailing separator and no "..", and always
// has the source's volume identity as its first segment below root.
func (m *Mapper) Map(source, root string) (string, error) {
	split, err := m.volumes.Split(source)
	if err != nil {
		return "", fmt.Errorf("map %q: %w", source, err)
	}

	sep := separatorFor(root)
	base, err := normalizeRoot(root, sep)
	if err != nil {
		return "", err
	}

	rel := split.Identity
	if split.Remainder != "" {
		rel += "/" + split.Remainder
	}
	if sep == '\\' {
		rel = strings.ReplaceAll(rel, "/", `\`)
	}

	if strings.HasSuffix(base, string(sep)) {
		return base + rel, nil
	}
	return base + string(sep) + rel, nil
}

// separatorFor picks the separator style used by root.
func separatorFor(root string) byte {
	switch {
	case hasDrive(root), strings.HasPrefix(root, `\`):
		return '\\'
	case strings.HasPrefix(root, "/"):
		return '/'
	default:
		return filepath.Separator
	}
}

// normalizeRoot cleans root in the given separator style. A trailing
// separator survives only on a bare volume root ("/", `D:\`).
func normalizeRoot(root string, sep byte) (string, error) {
	if strings.TrimSpace(root) == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidRoot)
	}

	s := root
	prefix := ""
	if sep == '\\' {
		s = strings.ReplaceAll(s, `\`, "/")
		switch {
		case hasDrive(s):
			prefix, s = s[:2], s[2:]
			if s == "" {
				s = "/"
			}
		case strings.HasPrefix(s, "//"):
			prefix, s = "//", strings.TrimLeft(s[2:], "/")
		}
	}

	cleaned := path.Clean(s)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q escapes its base", ErrInvalidRoot, root)
	}
	if prefix == "//" && !strings.Contains(cleaned, "/") {
		return "", fmt.Errorf("%w: incomplete UNC path %q", ErrInvalidRoot, root)
	}

	out := prefix + cleaned
	if sep == '\\' {
		out = strings.ReplaceAll(out, "/", `\`)
	}
	return out, nil
}

func hasDrive(p string) bool {
	return len(p) >= 2 && p[1] == ':' &&
		(('a' <= p[0] && p[0] <= 'z') || ('A' <= p[0] && p[0] <= 'Z'))
}
