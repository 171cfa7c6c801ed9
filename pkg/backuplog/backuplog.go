// Package backuplog appends human-readable audit entries to the
// backup_log.txt file kept in every destination root.
//
// The file is shared by all runs targeting that root and is only ever
// appended to. Each entry opens, writes and closes the file on its own, so
// entries already written survive a crash and nobody tailing the file ever
// finds it locked.
package backuplog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/paulschiretz/pgl-profile-backup/pkg/mirror"
	"github.com/paulschiretz/pgl-profile-backup/pkg/skippolicy"
	"github.com/paulschiretz/pgl-profile-backup/pkg/util"
)

// FileName is the log file's name inside the destination root.
const FileName = "backup_log.txt"

const timeLayout = "2006-01-02 15:04:05"

// NothingBackedUpMessage is logged when no pair was accepted for copying.
const NothingBackedUpMessage = "No folders backed up (all skipped or empty)"

// EntryKind selects how an Entry is rendered.
type EntryKind int

const (
	RunStarted EntryKind = iota
	Pair
	Note
	Failure
	RunCompleted
)

// Entry is one append to the log.
type Entry struct {
	Kind        EntryKind
	Time        time.Time
	Source      string
	Destination string
	Status      string
	// Error adds an "Error:" line.
	Error string
}

// Format renders e as the lines written to the file.
func (e Entry) Format() string {
	var b strings.Builder
	switch e.Kind {
	case RunStarted:
		fmt.Fprintf(&b, "Backup started at: %s\n", e.Time.Format(timeLayout))
	case Pair:
		fmt.Fprintf(&b, "Source: %s\n", e.Source)
		fmt.Fprintf(&b, "Destination: %s\n", e.Destination)
		fmt.Fprintf(&b, "Status: %s\n", e.Status)
	case Note:
		fmt.Fprintf(&b, "%s\n", e.Status)
	case RunCompleted:
		fmt.Fprintf(&b, "Backup completed at: %s\n\n", e.Time.Format(timeLayout))
	}
	if e.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", strings.TrimRight(e.Error, "\r\n"))
	}
	return b.String()
}

// DecisionStatus is the status text of a pair that was evaluated.
func DecisionStatus(d skippolicy.Decision) string {
	switch d {
	case skippolicy.Proceed:
		return "Queued for backup"
	case skippolicy.SkipEmpty:
		return "Skipped (source is empty)"
	case skippolicy.SkipExists:
		return "Skipped (folder exists)"
	case skippolicy.FailInvalidSource:
		return "Failed (invalid source)"
	default:
		return d.String()
	}
}

// OutcomeStatus is the status text of a pair that was copied.
func OutcomeStatus(o mirror.Outcome) string {
	switch o.Kind {
	case mirror.NoChangesNeeded:
		return "Completed (no new/changed files to copy)"
	case mirror.CompletedWithChanges:
		return "Completed with files copied"
	case mirror.CompletedWithStatus:
		return fmt.Sprintf("Completed with status %d", o.Code)
	default:
		return fmt.Sprintf("Failed with exit code %d", o.Code)
	}
}

// WriteError reports a failed append.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to append to backup log %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Log is the audit log of one destination root.
type Log struct {
	path string
}

// New returns the log kept in destinationRoot.
func New(destinationRoot string) *Log {
	return &Log{path: filepath.Join(destinationRoot, FileName)}
}

// Path returns the log file path.
func (l *Log) Path() string { return l.path }

// Append writes e to the end of the log. The file is closed on every path.
func (l *Log) Append(e Entry) (retErr error) {
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, util.UserWritableFilePerms)
	if err != nil {
		return &WriteError{Path: l.path, Err: err}
	}
	defer func() {
		if err := f.Close(); err != nil && retErr == nil {
			retErr = &WriteError{Path: l.path, Err: err}
		}
	}()

	if _, err := f.WriteString(e.Format()); err != nil {
		return &WriteError{Path: l.path, Err: err}
	}
	return nil
}
