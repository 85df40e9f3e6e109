package models

// Status is the lifecycle state of a permission request.
type Status string

const (
	StatusCreated                       Status = "CREATED"
	StatusValidated                     Status = "VALIDATED"
	StatusMalformed                     Status = "MALFORMED"
	StatusUnableToSend                  Status = "UNABLE_TO_SEND"
	StatusSentToPermissionAdministrator Status = "SENT_TO_PERMISSION_ADMINISTRATOR"
	StatusInvalid                       Status = "INVALID"
	StatusRejected                      Status = "REJECTED"
	StatusTimedOut                      Status = "TIMED_OUT"
	StatusAccepted                      Status = "ACCEPTED"
	StatusRevoked                       Status = "REVOKED"
	StatusUnfulfillable                 Status = "UNFULFILLABLE"
	StatusFulfilled                     Status = "FULFILLED"
	StatusTerminated                    Status = "TERMINATED"
	StatusRequiresExternalTermination   Status = "REQUIRES_EXTERNAL_TERMINATION"
	StatusFailedToTerminate             Status = "FAILED_TO_TERMINATE"
	StatusExternallyTerminated          Status = "EXTERNALLY_TERMINATED"
)

// transitions is the single source of truth for the permission state machine.
// Both the aggregate's transition check and the external sequence validator
// read from this table; it must never be duplicated elsewhere.
var transitions = map[Status][]Status{
	StatusCreated:      {StatusValidated, StatusMalformed},
	StatusValidated:    {StatusSentToPermissionAdministrator, StatusUnableToSend},
	StatusUnableToSend: {StatusValidated},
	StatusSentToPermissionAdministrator: {
		StatusAccepted, StatusInvalid, StatusRejected, StatusTimedOut,
	},
	StatusAccepted: {
		StatusRevoked, StatusUnfulfillable, StatusFulfilled, StatusTerminated,
	},
	StatusUnfulfillable: {StatusRequiresExternalTermination},
	StatusTerminated:    {StatusRequiresExternalTermination},
	StatusFulfilled:     {StatusRequiresExternalTermination},
	StatusRequiresExternalTermination: {
		StatusExternallyTerminated, StatusFailedToTerminate,
	},
	StatusFailedToTerminate:    {StatusRequiresExternalTermination},
	StatusMalformed:            nil,
	StatusInvalid:              nil,
	StatusRejected:             nil,
	StatusTimedOut:             nil,
	StatusRevoked:              nil,
	StatusExternallyTerminated: nil,
}

// AllStatuses lists every status the engine knows, in lifecycle order.
var AllStatuses = []Status{
	StatusCreated, StatusValidated, StatusMalformed, StatusUnableToSend,
	StatusSentToPermissionAdministrator, StatusInvalid, StatusRejected,
	StatusTimedOut, StatusAccepted, StatusRevoked, StatusUnfulfillable,
	StatusFulfilled, StatusTerminated, StatusRequiresExternalTermination,
	StatusFailedToTerminate, StatusExternallyTerminated,
}

// Known reports whether s is one of the defined statuses.
func Known(s Status) bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether the state machine allows moving from one
// status directly to another.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a status has no outgoing transitions. A request in
// a terminal status rejects every further transition attempt.
func Terminal(s Status) bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// Next returns the statuses directly reachable from s. The returned slice is
// a copy; callers may mutate it freely.
func Next(s Status) []Status {
	next := transitions[s]
	out := make([]Status, len(next))
	copy(out, next)
	return out
}

// Reachable reports whether target can be reached from start through any
// sequence of legal transitions. Used to distinguish a skipped-ahead target
// (future state) from one that is plainly unreachable.
func Reachable(start, target Status) bool {
	if start == target {
		return false
	}
	seen := map[Status]bool{start: true}
	queue := []Status{start}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, next := range transitions[current] {
			if next == target {
				return true
			}
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}
