package permission

import (
	dErrors "gridgrant/pkg/domain-errors"
)

// ProcessStatus is the lifecycle state of a permission request. Status only
// ever changes through a legal transition; see the graph in transitions.go.
type ProcessStatus string

const (
	StatusCreated              ProcessStatus = "CREATED"
	StatusMalformed            ProcessStatus = "MALFORMED"
	StatusValidated            ProcessStatus = "VALIDATED"
	StatusUnableToSend         ProcessStatus = "UNABLE_TO_SEND"
	StatusSentToAdministrator  ProcessStatus = "SENT_TO_ADMINISTRATOR"
	StatusAccepted             ProcessStatus = "ACCEPTED"
	StatusRejected             ProcessStatus = "REJECTED"
	StatusInvalid              ProcessStatus = "INVALID"
	StatusTimedOut             ProcessStatus = "TIMED_OUT"
	StatusFulfilled            ProcessStatus = "FULFILLED"
	StatusUnfulfillable        ProcessStatus = "UNFULFILLABLE"
	StatusRevoked              ProcessStatus = "REVOKED"
	StatusRequiresExternalTerm ProcessStatus = "REQUIRES_EXTERNAL_TERMINATION"
	StatusTerminated           ProcessStatus = "TERMINATED"
	StatusExternallyTerminated ProcessStatus = "EXTERNALLY_TERMINATED"
	StatusFailedToTerminate    ProcessStatus = "FAILED_TO_TERMINATE"
)

// statusRanks orders statuses along the lifecycle so a rejected transition
// can be classified as past (already passed that point) or future (not there
// yet). Terminal states share the highest rank.
var statusRanks = map[ProcessStatus]int{
	StatusCreated:              0,
	StatusValidated:            1,
	StatusSentToAdministrator:  2,
	StatusAccepted:             3,
	StatusRequiresExternalTerm: 4,
	StatusMalformed:            5,
	StatusUnableToSend:         5,
	StatusRejected:             5,
	StatusInvalid:              5,
	StatusTimedOut:             5,
	StatusFulfilled:            5,
	StatusUnfulfillable:        5,
	StatusRevoked:              5,
	StatusTerminated:           5,
	StatusExternallyTerminated: 5,
	StatusFailedToTerminate:    5,
}

// Terminal reports whether no further transition is legal from s.
func (s ProcessStatus) Terminal() bool {
	switch s {
	case StatusMalformed, StatusUnableToSend, StatusRejected, StatusInvalid,
		StatusTimedOut, StatusFulfilled, StatusUnfulfillable, StatusRevoked,
		StatusTerminated, StatusExternallyTerminated, StatusFailedToTerminate:
		return true
	}
	return false
}

func (s ProcessStatus) String() string { return string(s) }

func (s ProcessStatus) rank() int { return statusRanks[s] }

// ParseProcessStatus validates persisted or external status values.
func ParseProcessStatus(v string) (ProcessStatus, error) {
	s := ProcessStatus(v)
	if _, ok := statusRanks[s]; !ok {
		return "", dErrors.Newf(dErrors.CodeBadRequest, "unknown process status %q", v)
	}
	return s, nil
}
