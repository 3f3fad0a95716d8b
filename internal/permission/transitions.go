package permission

import (
	"fmt"

	dErrors "gridgrant/pkg/domain-errors"
)

// Transition names one operation on the lifecycle graph.
type Transition string

const (
	TransitionValidate             Transition = "validate"
	TransitionMarkMalformed        Transition = "mark_malformed"
	TransitionSendToAdministrator  Transition = "send_to_administrator"
	TransitionMarkUnableToSend     Transition = "mark_unable_to_send"
	TransitionAccept               Transition = "accept"
	TransitionReject               Transition = "reject"
	TransitionMarkInvalid          Transition = "mark_invalid"
	TransitionMarkTimedOut         Transition = "mark_timed_out"
	TransitionFulfill              Transition = "fulfill"
	TransitionMarkUnfulfillable    Transition = "mark_unfulfillable"
	TransitionRevoke               Transition = "revoke"
	TransitionRequireExternalTerm  Transition = "require_external_termination"
	TransitionMarkTerminated       Transition = "mark_terminated"
	TransitionMarkExternallyTerm   Transition = "mark_externally_terminated"
	TransitionMarkFailedToTerm     Transition = "mark_failed_to_terminate"
)

// edge is one arc of the legal transition graph.
type edge struct {
	from ProcessStatus
	to   ProcessStatus
}

// graph is the single source of truth for what is legal. Every transition
// has exactly one source state, so a rejected call classifies cleanly as
// past or future relative to that source.
var graph = map[Transition]edge{
	TransitionValidate:            {StatusCreated, StatusValidated},
	TransitionMarkMalformed:       {StatusCreated, StatusMalformed},
	TransitionSendToAdministrator: {StatusValidated, StatusSentToAdministrator},
	TransitionMarkUnableToSend:    {StatusValidated, StatusUnableToSend},
	TransitionAccept:              {StatusSentToAdministrator, StatusAccepted},
	TransitionReject:              {StatusSentToAdministrator, StatusRejected},
	TransitionMarkInvalid:         {StatusSentToAdministrator, StatusInvalid},
	TransitionMarkTimedOut:        {StatusSentToAdministrator, StatusTimedOut},
	TransitionFulfill:             {StatusAccepted, StatusFulfilled},
	TransitionMarkUnfulfillable:   {StatusAccepted, StatusUnfulfillable},
	TransitionRevoke:              {StatusAccepted, StatusRevoked},
	TransitionRequireExternalTerm: {StatusAccepted, StatusRequiresExternalTerm},
	TransitionMarkTerminated:      {StatusRequiresExternalTerm, StatusTerminated},
	TransitionMarkExternallyTerm:  {StatusRequiresExternalTerm, StatusExternallyTerminated},
	TransitionMarkFailedToTerm:    {StatusRequiresExternalTerm, StatusFailedToTerminate},
}

// TransitionErrorKind distinguishes the two ways a transition can be illegal.
type TransitionErrorKind string

const (
	// PastState: the transition belongs strictly earlier in the graph than
	// the current state. Retrying will never succeed.
	PastState TransitionErrorKind = "past_state"
	// FutureState: the transition requires a state not yet reached. The
	// caller may retry once the prerequisite state arrives.
	FutureState TransitionErrorKind = "future_state"
)

// TransitionError reports an illegal transition. The request's status is
// unchanged when one is returned.
type TransitionError struct {
	Transition Transition
	From       ProcessStatus
	Kind       TransitionErrorKind
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s transition %q is illegal from status %s", e.Kind, e.Transition, e.From)
}

// DomainCode satisfies dErrors.Coder so callers can branch without importing
// this package's error type.
func (e *TransitionError) DomainCode() dErrors.Code {
	if e.Kind == PastState {
		return dErrors.CodePastState
	}
	return dErrors.CodeFutureState
}

// resolve returns the target status for applying t from current, or a
// TransitionError classifying the failure.
func resolve(t Transition, current ProcessStatus) (ProcessStatus, error) {
	e, ok := graph[t]
	if !ok {
		return "", dErrors.Newf(dErrors.CodeInternal, "unknown transition %q", t)
	}
	if e.from == current {
		return e.to, nil
	}
	kind := FutureState
	if current.rank() >= e.from.rank() {
		kind = PastState
	}
	return "", &TransitionError{Transition: t, From: current, Kind: kind}
}
