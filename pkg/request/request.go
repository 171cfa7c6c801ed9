// Package request defines the immutable description of one backup run as
// assembled by the presentation layer.
package request

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/paulschiretz/pgl-profile-backup/pkg/util"
)

// BackupType selects which directories make up a backup.
type BackupType int

const (
	Documents BackupType = iota
	Desktop
	Pictures
	FullProfile
	Custom
)

var typeToString = map[BackupType]string{
	Documents:   "documents",
	Desktop:     "desktop",
	Pictures:    "pictures",
	FullProfile: "all",
	Custom:      "custom",
}

var stringToType map[string]BackupType

func init() {
	stringToType = util.InvertMap(typeToString)
	// "full" reads better on the command line than the original "all".
	stringToType["full"] = FullProfile
}

// String returns the string representation of a BackupType.
func (t BackupType) String() string {
	if str, ok := typeToString[t]; ok {
		return str
	}
	return fmt.Sprintf("unknown_backup_type(%d)", t)
}

// ParseBackupType parses a string and returns the corresponding BackupType.
func ParseBackupType(s string) (BackupType, error) {
	if t, ok := stringToType[strings.ToLower(strings.TrimSpace(s))]; ok {
		return t, nil
	}
	return 0, fmt.Errorf("invalid backup type: %q. Must be 'documents', 'desktop', 'pictures', 'full', or 'custom'", s)
}

// MarshalJSON implements the json.Marshaler interface for BackupType.
func (t BackupType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for BackupType.
func (t *BackupType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("BackupType should be a string, got %s", data)
	}
	parsed, err := ParseBackupType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ConfigurationError reports a request that cannot start: no destination,
// or a custom backup without folders. Nothing has been copied when it is returned.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "invalid backup request: " + e.Reason
}

// Request is one backup run's input. It is immutable once built by New;
// fields are only reachable through getters that hand out copies.
type Request struct {
	backupType      BackupType
	customFolders   []string
	destinationRoot string
	slowMode        bool
}

// New builds a Request. customFolders is copied and only kept for Custom.
// It returns a *ConfigurationError when destinationRoot is empty.
func New(backupType BackupType, customFolders []string, destinationRoot string, slowMode bool) (Request, error) {
	if strings.TrimSpace(destinationRoot) == "" {
		return Request{}, &ConfigurationError{Reason: "no backup destination selected"}
	}
	if _, ok := typeToString[backupType]; !ok {
		return Request{}, &ConfigurationError{Reason: fmt.Sprintf("unknown backup type %d", backupType)}
	}
	r := Request{
		backupType:      backupType,
		destinationRoot: destinationRoot,
		slowMode:        slowMode,
	}
	if backupType == Custom {
		r.customFolders = slices.Clone(customFolders)
	}
	return r, nil
}

// Type returns the backup type.
func (r Request) Type() BackupType { return r.backupType }

// CustomFolders returns a copy of the caller-selected folders (Custom only).
func (r Request) CustomFolders() []string { return slices.Clone(r.customFolders) }

// DestinationRoot returns the destination root as given by the caller.
func (r Request) DestinationRoot() string { return r.destinationRoot }

// SlowMode reports whether the copy must run single-threaded.
func (r Request) SlowMode() bool { return r.slowMode }
