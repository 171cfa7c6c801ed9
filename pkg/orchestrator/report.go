package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/paulschiretz/pgl-profile-backup/pkg/hints"
	"github.com/paulschiretz/pgl-profile-backup/pkg/mirror"
	"github.com/paulschiretz/pgl-profile-backup/pkg/request"
	"github.com/paulschiretz/pgl-profile-backup/pkg/skippolicy"
)

// ErrNothingBackedUp is reported when every folder was skipped. It is a
// hint: the run succeeded without copying anything.
var ErrNothingBackedUp = hints.New("no folders backed up (all skipped or empty)")

// Pair is one source and where it lands.
type Pair struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

// PairResult is what happened to one resolved source.
type PairResult struct {
	Pair
	Decision skippolicy.Decision `json:"decision"`
	// Outcome is set only for pairs that were copied.
	Outcome *mirror.Outcome `json:"outcome,omitempty"`
	// Reason explains a FailInvalidSource decision.
	Reason string `json:"reason,omitempty"`
	// Transcript is the path of the copy listing, if one was written.
	Transcript string `json:"transcript,omitempty"`
}

// Report summarizes one run.
type Report struct {
	RunID           string             `json:"runID"`
	Type            request.BackupType `json:"type"`
	DestinationRoot string             `json:"destinationRoot"`
	LogPath         string             `json:"logPath"`
	Started         time.Time          `json:"started"`
	Finished        time.Time          `json:"finished"`
	Pairs           []PairResult       `json:"pairs"`
	Status          Status             `json:"status"`
	// Reason is the cause of Rejected and Canceled runs.
	Reason string `json:"reason,omitempty"`
	// LogErrors counts log entries that could not be written.
	LogErrors int `json:"logErrors,omitempty"`
}

// Copied returns the number of pairs handed to the copy engine.
func (r *Report) Copied() int {
	n := 0
	for _, p := range r.Pairs {
		if p.Outcome != nil {
			n++
		}
	}
	return n
}

// Count returns the number of pairs with decision d.
func (r *Report) Count(d skippolicy.Decision) int {
	n := 0
	for _, p := range r.Pairs {
		if p.Decision == d {
			n++
		}
	}
	return n
}

func (r *Report) failedCopies() []PairResult {
	var failed []PairResult
	for _, p := range r.Pairs {
		if p.Outcome != nil && p.Outcome.Kind == mirror.Failed {
			failed = append(failed, p)
		}
	}
	return failed
}

// Err returns nil for a successful run, ErrNothingBackedUp when nothing was
// copied, and the joined copy errors of a failed run.
func (r *Report) Err() error {
	switch r.Status {
	case Succeeded:
		return nil
	case NothingBackedUp:
		return ErrNothingBackedUp
	case Rejected:
		return &request.ConfigurationError{Reason: r.Reason}
	case Canceled:
		return context.Canceled
	}
	var errs []error
	for _, p := range r.failedCopies() {
		errs = append(errs, fmt.Errorf("%s: %w", p.Source, p.Outcome.Err()))
	}
	return errors.Join(errs...)
}

// StatusText is the one-line status shown when the run ends.
func (r *Report) StatusText() string {
	switch r.Status {
	case Succeeded:
		return "Backup completed successfully to " + r.DestinationRoot
	case NothingBackedUp:
		return "No folders backed up (all skipped or empty)"
	case Rejected:
		return "Error: " + r.Reason
	case Canceled:
		return "Backup canceled before copying started"
	default:
		failed := r.failedCopies()
		if len(failed) == 0 {
			return "Error: backup failed"
		}
		return fmt.Sprintf("Error: backup of %s failed with exit code %d", baseName(failed[0].Source), failed[0].Outcome.Code)
	}
}

// Summary is the single message shown to the user for the run's terminal
// state. It always points at the log file.
func (r *Report) Summary() string {
	var b strings.Builder
	switch r.Status {
	case Succeeded:
		fmt.Fprintf(&b, "The %s backup has been completed successfully.", r.Type)
	case NothingBackedUp:
		b.WriteString("No folders were backed up as all were skipped or empty.")
	case Rejected:
		fmt.Fprintf(&b, "The backup could not start: %s.", r.Reason)
	case Canceled:
		b.WriteString("The backup was canceled before any folder was copied.")
	default:
		fmt.Fprintf(&b, "The %s backup finished with errors: %d of %d folders failed to copy.", r.Type, len(r.failedCopies()), r.Copied())
	}
	if n := r.Count(skippolicy.FailInvalidSource); n > 0 && r.Status != Rejected {
		fmt.Fprintf(&b, " %d folder(s) could not be read and were skipped.", n)
	}
	fmt.Fprintf(&b, " Details are logged in %s.", r.LogPath)
	return b.String()
}

// baseName returns the last element of a path in either separator style.
func baseName(p string) string {
	trimmed := strings.TrimRight(p, `/\`)
	if i := strings.LastIndexAny(trimmed, `/\`); i >= 0 {
		return trimmed[i+1:]
	}
	if trimmed == "" {
		return p
	}
	return trimmed
}
