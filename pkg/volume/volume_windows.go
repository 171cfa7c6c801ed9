//go:build windows

package volume

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// NewDefault returns the resolver for this host: drive letters and UNC
// shares, with a check that the drive actually exists.
func NewDefault() Resolver {
	return driveChecked{}
}

type driveChecked struct{}

func (driveChecked) Split(p string) (Split, error) {
	s, err := Windows{}.Split(p)
	if err != nil {
		return Split{}, err
	}
	if len(s.Identity) == 1 {
		root, err := windows.UTF16PtrFromString(s.Identity + `:\`)
		if err != nil {
			return Split{}, fmt.Errorf("%w: %v", ErrNoVolume, err)
		}
		if windows.GetDriveType(root) == windows.DRIVE_NO_ROOT_DIR {
			return Split{}, fmt.Errorf("%w: drive %s: does not exist", ErrNoVolume, s.Identity)
		}
	}
	return s, nil
}
