// Package hints labels errors that describe a skipped step rather than a
// failure. A backup run where every folder was empty or declined ends with
// such an error: the CLI reports it to the user but exits with status 0.
//
// Consumers check behavior (an IsHint method) instead of importing sentinel
// errors from the producing package.
package hints

import "errors"

// hint wraps the underlying error; its message is unchanged.
type hint struct {
	err error
}

func (h *hint) Error() string {
	if h == nil || h.err == nil {
		return "unknown hint"
	}
	return h.err.Error()
}

func (h *hint) IsHint() bool  { return true }
func (h *hint) Unwrap() error { return h.err }

// hinter is implemented by any error that may label itself a hint.
type hinter interface {
	error
	IsHint() bool
}

// New creates a hint from a string.
func New(msg string) error {
	return &hint{err: errors.New(msg)}
}

// Wrap marks an existing error as a hint. Wrap(nil) is nil.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return &hint{err: err}
}

// IsHint reports whether any error in the chain is a hint.
func IsHint(err error) bool {
	h, ok := errors.AsType[hinter](err)
	return ok && h.IsHint()
}

// Is reports whether err is a hint and matches target.
func Is(err, target error) bool {
	return IsHint(err) && errors.Is(err, target)
}
