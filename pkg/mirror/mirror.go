// Package mirror copies one directory tree onto another and classifies the
// result with robocopy's exit-code semantics, whichever engine did the work.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/paulschiretz/pgl-profile-backup/pkg/util"
)

const (
	// FailureThreshold is the lowest exit code that counts as a failed copy.
	FailureThreshold = 8
	// CodeNotStarted is reported when the copy tool could not be started at all.
	CodeNotStarted = -1
	// CodeTerminated is reported when the copy tool was killed before it
	// could exit on its own. It is robocopy's "serious error" code.
	CodeTerminated = 16
)

// Options control a single copy.
type Options struct {
	// RecursiveIncludingEmptyDirs copies the whole tree, empty directories included.
	RecursiveIncludingEmptyDirs bool
	RetryCount                  int
	RetryWait                   time.Duration
	// Verbose lists every file and directory in the transcript.
	Verbose bool
	// ExcludeDirs are directory name patterns skipped at any depth, or
	// absolute paths of single directories to skip.
	ExcludeDirs   []string
	MultiThreaded bool
	// Threads is the copy parallelism when MultiThreaded is set.
	Threads int
	// Transcript receives the engine's listing. Nil discards it.
	Transcript io.Writer
}

// DefaultOptions returns the options every backup starts from.
func DefaultOptions() Options {
	return Options{
		RecursiveIncludingEmptyDirs: true,
		RetryCount:                  5,
		RetryWait:                   5 * time.Second,
		Verbose:                     true,
		MultiThreaded:               true,
		Threads:                     8,
	}
}

// threads returns the effective parallelism.
func (o Options) threads() int {
	if !o.MultiThreaded || o.Threads < 1 {
		return 1
	}
	return o.Threads
}

func (o Options) transcript() io.Writer {
	if o.Transcript == nil {
		return io.Discard
	}
	return o.Transcript
}

// Engine performs the copy. Implementations create missing parents of the
// destination, never return an error, and always produce an Outcome.
type Engine interface {
	Copy(ctx context.Context, source, destination string, opts Options) Outcome
}

// Kind is the classified result of a copy.
type Kind int

const (
	NoChangesNeeded Kind = iota
	CompletedWithChanges
	CompletedWithStatus
	Failed
)

var kindToString = map[Kind]string{
	NoChangesNeeded:      "no_changes_needed",
	CompletedWithChanges: "completed_with_changes",
	CompletedWithStatus:  "completed_with_status",
	Failed:               "failed",
}

// String returns the string representation of a Kind.
func (k Kind) String() string {
	if str, ok := kindToString[k]; ok {
		return str
	}
	return fmt.Sprintf("unknown_kind(%d)", k)
}

// MarshalJSON implements the json.Marshaler interface for Kind.
func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// Outcome is what came of one copy.
type Outcome struct {
	Kind Kind
	// Code is the raw exit code (or its native equivalent).
	Code int
	// Detail carries diagnostic text for failures.
	Detail string
}

// Classify maps an exit code onto an Outcome:
// 0 no changes, 1 files copied, 2..7 success with status, 8 and above (or
// a negative code for a tool that never ran) failure.
func Classify(code int, detail string) Outcome {
	switch {
	case code == 0:
		return Outcome{Kind: NoChangesNeeded, Code: code}
	case code == 1:
		return Outcome{Kind: CompletedWithChanges, Code: code}
	case code > 1 && code < FailureThreshold:
		return Outcome{Kind: CompletedWithStatus, Code: code}
	default:
		return Outcome{Kind: Failed, Code: code, Detail: strings.TrimSpace(detail)}
	}
}

// Succeeded reports whether the copy finished without failure.
func (o Outcome) Succeeded() bool {
	return o.Kind != Failed
}

// Err returns a *CopyError for failed outcomes and nil otherwise.
func (o Outcome) Err() error {
	if o.Kind != Failed {
		return nil
	}
	return &CopyError{Code: o.Code, Detail: o.Detail}
}

// CopyError describes a failed copy.
type CopyError struct {
	Code   int
	Detail string
}

func (e *CopyError) Error() string {
	if e.Code == CodeNotStarted {
		return "copy tool could not be started: " + e.Detail
	}
	if e.Detail == "" {
		return fmt.Sprintf("copy failed with exit code %d", e.Code)
	}
	return fmt.Sprintf("copy failed with exit code %d: %s", e.Code, e.Detail)
}

// EngineKind selects an Engine implementation.
type EngineKind int

const (
	// NativeEngine uses the cross-platform Go implementation.
	NativeEngine EngineKind = iota
	// RobocopyEngine drives the Windows robocopy utility.
	RobocopyEngine
)

var engineToString = map[EngineKind]string{NativeEngine: "native", RobocopyEngine: "robocopy"}
var stringToEngine = util.InvertMap(engineToString)

// String returns the string representation of an EngineKind.
func (e EngineKind) String() string {
	if str, ok := engineToString[e]; ok {
		return str
	}
	return fmt.Sprintf("unknown_engine(%d)", e)
}

// ParseEngineKind parses a string and returns the corresponding EngineKind.
func ParseEngineKind(s string) (EngineKind, error) {
	if e, ok := stringToEngine[s]; ok {
		return e, nil
	}
	return 0, fmt.Errorf("invalid engine: %q. Must be 'native' or 'robocopy'", s)
}

// MarshalJSON implements the json.Marshaler interface for EngineKind.
func (e EngineKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for EngineKind.
func (e *EngineKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("EngineKind should be a string, got %s", data)
	}
	parsed, err := ParseEngineKind(s)
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// New returns the engine for kind.
func New(kind EngineKind) Engine {
	if kind == RobocopyEngine {
		return NewRobocopy()
	}
	return NewNative()
}
