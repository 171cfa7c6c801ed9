//go:build windows

package mirror

// DefaultEngineKind is robocopy on Windows.
func DefaultEngineKind() EngineKind { return RobocopyEngine }

// RobocopyAvailable reports whether this platform ships robocopy.
func RobocopyAvailable() bool { return true }
