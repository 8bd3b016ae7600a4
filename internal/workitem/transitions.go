package workitem

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("workitem: not found")
	ErrAlreadyExists     = errors.New("workitem: already in pipeline")
	ErrSuppressed        = errors.New("workitem: account is suppressed")
	ErrInvalidItem       = errors.New("workitem: invalid item")
	ErrInvalidTransition = errors.New("workitem: invalid transition")
)

// TransitionError describes a rejected state change. It unwraps to ErrInvalidTransition.
type TransitionError struct {
	AccountID string
	From      State
	To        State
	Reason    string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("workitem: invalid transition %s -> %s for %s", e.From, e.To, e.AccountID)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// allowed is the lifecycle graph. Assigned -> AwaitingEscalation/Resolved covers an
// outcome that arrives before the call-started event (ring-no-answer); Assigned -> Ready
// covers a dial request that could not be issued; AwaitingEscalation -> Ready covers
// escalation being disabled or having no enabled step.
var allowed = map[State][]State{
	StateReady:              {StateAssigned, StateResolved, StateSuppressed},
	StateAssigned:           {StateInProgress, StateReady, StateAwaitingEscalation, StateResolved, StateSuppressed},
	StateInProgress:         {StateResolved, StateAwaitingEscalation, StateSuppressed},
	StateAwaitingEscalation: {StateEscalationActive, StateReady, StateResolved, StateSuppressed},
	StateEscalationActive:   {StateResolved, StateReady, StateSuppressed},
}

// CanTransition reports whether from -> to is an edge of the lifecycle graph.
func CanTransition(from, to State) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}
