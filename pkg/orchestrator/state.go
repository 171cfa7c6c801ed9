package orchestrator

import (
	"encoding/json"
	"fmt"
)

// State is the orchestrator's position in a run.
type State int32

const (
	Idle State = iota
	Resolving
	Evaluating
	Copying
	Reporting
)

var stateToString = map[State]string{
	Idle:       "idle",
	Resolving:  "resolving",
	Evaluating: "evaluating",
	Copying:    "copying",
	Reporting:  "reporting",
}

func (s State) String() string {
	if str, ok := stateToString[s]; ok {
		return str
	}
	return fmt.Sprintf("unknown_state(%d)", s)
}

// Status is the overall verdict of a run.
type Status int

const (
	// Succeeded means every accepted pair was copied without failure.
	Succeeded Status = iota
	// NothingBackedUp means no pair was accepted. It is not a failure.
	NothingBackedUp
	// Failed means at least one copy failed.
	Failed
	// Rejected means the request could not be resolved; nothing was evaluated.
	Rejected
	// Canceled means the run was stopped before copying began.
	Canceled
)

var statusToString = map[Status]string{
	Succeeded:       "succeeded",
	NothingBackedUp: "nothing_backed_up",
	Failed:          "failed",
	Rejected:        "rejected",
	Canceled:        "canceled",
}

func (s Status) String() string {
	if str, ok := statusToString[s]; ok {
		return str
	}
	return fmt.Sprintf("unknown_status(%d)", s)
}

// MarshalJSON implements the json.Marshaler interface for Status.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}
