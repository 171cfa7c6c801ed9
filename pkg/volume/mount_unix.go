//go:build !windows

package volume

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// NewDefault returns the resolver for this host: mount points on Unix.
func NewDefault() Resolver {
	return NewMountResolver()
}

// MountResolver identifies the volume of a path by the mount point of the
// filesystem that holds it. The mount point is found by walking up from the
// path until the device ID changes; results are memoized per device so a
// run's mapping stays stable and cheap.
type MountResolver struct {
	mu     sync.Mutex
	mounts map[uint64]string

	// statDev is swappable for tests.
	statDev func(path string) (uint64, error)
}

// NewMountResolver creates a MountResolver backed by stat(2).
func NewMountResolver() *MountResolver {
	return &MountResolver{
		mounts:  make(map[uint64]string),
		statDev: statDevice,
	}
}

func statDevice(path string) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, err
	}
	return uint64(st.Dev), nil
}

// Split implements Resolver. The path must exist.
func (r *MountResolver) Split(p string) (Split, error) {
	if !filepath.IsAbs(p) {
		return Split{}, fmt.Errorf("%w: relative path %q", ErrNoVolume, p)
	}
	clean := filepath.Clean(p)

	dev, err := r.statDev(clean)
	if err != nil {
		return Split{}, fmt.Errorf("%w: cannot stat %q: %v", ErrNoVolume, p, err)
	}

	mountPoint, err := r.mountPoint(clean, dev)
	if err != nil {
		return Split{}, err
	}

	rel, err := filepath.Rel(mountPoint, clean)
	if err != nil {
		return Split{}, fmt.Errorf("%w: %v", ErrNoVolume, err)
	}
	remainder := filepath.ToSlash(rel)
	if remainder == "." {
		remainder = ""
	}
	if remainder == ".." || strings.HasPrefix(remainder, "../") {
		return Split{}, fmt.Errorf("%w: %q lies outside its mount point %q", ErrNoVolume, p, mountPoint)
	}
	return Split{Identity: EncodeMountPoint(mountPoint), Remainder: remainder}, nil
}

// mountPoint returns the highest ancestor of p (inclusive) that still lives on dev.
func (r *MountResolver) mountPoint(p string, dev uint64) (string, error) {
	r.mu.Lock()
	cached, ok := r.mounts[dev]
	r.mu.Unlock()
	if ok && (cached == "/" || p == cached || strings.HasPrefix(p, cached+"/")) {
		return cached, nil
	}

	current := p
	for {
		parent := filepath.Dir(current)
		if parent == current {
			break // hit "/"
		}
		parentDev, err := r.statDev(parent)
		if err != nil {
			return "", fmt.Errorf("%w: cannot stat %q: %v", ErrNoVolume, parent, err)
		}
		if parentDev != dev {
			break
		}
		current = parent
	}

	r.mu.Lock()
	r.mounts[dev] = current
	r.mu.Unlock()
	return current, nil
}
