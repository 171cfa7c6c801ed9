//go:build !windows

package mirror

// DefaultEngineKind is the native engine outside Windows.
func DefaultEngineKind() EngineKind { return NativeEngine }

// RobocopyAvailable reports whether this platform ships robocopy.
func RobocopyAvailable() bool { return false }
