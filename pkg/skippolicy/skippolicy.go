// Package skippolicy decides, per source/destination pair, whether a copy
// goes ahead.
package skippolicy

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/paulschiretz/pgl-profile-backup/pkg/util"
)

// Decision is the verdict for one pair.
type Decision int

const (
	Proceed Decision = iota
	SkipEmpty
	SkipExists
	FailInvalidSource
)

var decisionToString = map[Decision]string{
	Proceed:           "proceed",
	SkipEmpty:         "skip_empty",
	SkipExists:        "skip_exists",
	FailInvalidSource: "fail_invalid_source",
}

var stringToDecision = util.InvertMap(decisionToString)

// String returns the string representation of a Decision.
func (d Decision) String() string {
	if str, ok := decisionToString[d]; ok {
		return str
	}
	return fmt.Sprintf("unknown_decision(%d)", d)
}

// MarshalJSON implements the json.Marshaler interface for Decision.
func (d Decision) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for Decision.
func (d *Decision) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("Decision should be a string, got %s", data)
	}
	parsed, ok := stringToDecision[s]
	if !ok {
		return fmt.Errorf("invalid decision: %q", s)
	}
	*d = parsed
	return nil
}

// ConfirmFunc asks whether an existing destination may be written into.
// It may block until the user answers.
type ConfirmFunc func(destination string) bool

// Evaluate decides what happens to one pair. Rules apply in order and the
// first match wins:
//
//  1. source missing, unreadable or not a directory: FailInvalidSource
//  2. source has no entries: SkipEmpty
//  3. destination exists: confirm decides between Proceed and SkipExists
//  4. otherwise: Proceed
//
// Emptiness is checked first so an empty source never prompts. A nil
// confirm declines.
func Evaluate(source, destination string, confirm ConfirmFunc) Decision {
	d, _ := EvaluateWithReason(source, destination, confirm)
	return d
}

// EvaluateWithReason is Evaluate plus the error behind a FailInvalidSource
// verdict, for logging. The error is nil for every other decision.
func EvaluateWithReason(source, destination string, confirm ConfirmFunc) (Decision, error) {
	empty, err := isEmptyDir(source)
	if err != nil {
		return FailInvalidSource, err
	}
	if empty {
		return SkipEmpty, nil
	}

	if !exists(destination) {
		return Proceed, nil
	}
	if confirm != nil && confirm(destination) {
		return Proceed, nil
	}
	return SkipExists, nil
}

// isEmptyDir reports whether dir has no entries, reading at most one.
func isEmptyDir(dir string) (bool, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return false, fmt.Errorf("source %q: %w", dir, err)
	}
	if !info.IsDir() {
		return false, fmt.Errorf("source %q is not a directory", dir)
	}

	f, err := os.Open(dir)
	if err != nil {
		return false, fmt.Errorf("source %q: %w", dir, err)
	}
	defer f.Close()

	_, err = f.Readdirnames(1)
	if errors.Is(err, io.EOF) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("source %q: %w", dir, err)
	}
	return false, nil
}

// exists treats any Lstat result other than "not found" as existing, so an
// unreadable destination still goes through confirmation.
func exists(p string) bool {
	_, err := os.Lstat(p)
	return !errors.Is(err, fs.ErrNotExist)
}
