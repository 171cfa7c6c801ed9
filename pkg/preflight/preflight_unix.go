//go:build !windows

package preflight

// checkVolumeExists has nothing to check on Unix; an unmounted target is
// just a directory on the parent filesystem.
func checkVolumeExists(path string) error {
	return nil
}

func isUnsafeRoot(path string) bool {
	return path == "." || path == "/"
}
