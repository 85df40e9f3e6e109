package models

import "fmt"

// State machine rejections are ordinary error values, not panics: callers must
// handle an illegal transition as data. All three carry the offending pair so
// logs and API responses can name it.

// IllegalTransitionError reports a target that is not reachable from the
// current status at all. This is a programming or protocol error and is never
// retried automatically.
type IllegalTransitionError struct {
	From Status
	To   Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition from %s to %s", e.From, e.To)
}

// PastStateError reports a transition attempt on a request that already
// reached a terminal status.
type PastStateError struct {
	Current Status
	To      Status
}

func (e *PastStateError) Error() string {
	return fmt.Sprintf("permission request already terminal in %s, cannot move to %s", e.Current, e.To)
}

// FutureStateError reports an attempt to skip ahead to a status that requires
// intermediate transitions first, such as ACCEPTED straight from CREATED.
type FutureStateError struct {
	From Status
	To   Status
}

func (e *FutureStateError) Error() string {
	return fmt.Sprintf("transition from %s to %s skips required intermediate states", e.From, e.To)
}
