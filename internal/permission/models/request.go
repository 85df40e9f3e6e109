package models

import (
	"time"

	"gridward/pkg/domain"
)

// PermissionRequest is the aggregate tracking one consent lifecycle. Apart
// from Status, StatusChangedAt and the LatestReading polling marker, fields
// are immutable once the request leaves CREATED; changes only arrive through
// committed events.
type PermissionRequest struct {
	PermissionID domain.PermissionID
	ConnectionID domain.ConnectionID
	DataNeedID   domain.DataNeedID

	// Correlation keys used to match asynchronous administrator responses
	// back to this request.
	CMRequestID    string
	ConversationID string

	// ConsentID is assigned by the administrator when the request is accepted.
	ConsentID domain.ConsentID

	// MeteringPointID is region-specific identifying payload; the engine
	// never interprets it.
	MeteringPointID domain.MeteringPointID

	Status          Status
	StatusChangedAt time.Time

	// Start and End bound the requested coverage window, end-inclusive.
	// Both nil for open-ended permissions. Immutable once validated.
	Start *time.Time
	End   *time.Time

	// LatestReading is the last consumption-data timestamp successfully
	// retrieved. Advances monotonically, never through an event.
	LatestReading *time.Time

	// Cause carries the human-readable reason for MALFORMED and INVALID.
	Cause string
}

// Transition moves the request to the target status if the state machine
// allows it. On rejection it returns one of PastStateError,
// IllegalTransitionError or FutureStateError and leaves the request untouched.
func (p *PermissionRequest) Transition(target Status, now time.Time) error {
	if Terminal(p.Status) {
		return &PastStateError{Current: p.Status, To: target}
	}
	if !CanTransition(p.Status, target) {
		if Reachable(p.Status, target) {
			return &FutureStateError{From: p.Status, To: target}
		}
		return &IllegalTransitionError{From: p.Status, To: target}
	}
	p.Status = target
	p.StatusChangedAt = now
	return nil
}

// AdvanceLatestReading moves the polling marker forward. Older timestamps are
// ignored so the marker stays monotonic.
func (p *PermissionRequest) AdvanceLatestReading(ts time.Time) bool {
	if p.LatestReading != nil && !ts.After(*p.LatestReading) {
		return false
	}
	t := ts
	p.LatestReading = &t
	return true
}

// CoversDate reports whether the permission window contains the given date.
// The window is end-inclusive; an unset bound does not constrain.
func (p *PermissionRequest) CoversDate(date time.Time) bool {
	if p.Start != nil && date.Before(*p.Start) {
		return false
	}
	if p.End != nil && date.After(*p.End) {
		return false
	}
	return true
}

// Clone returns a deep copy so stores and the event bus can hand out
// snapshots without aliasing the aggregate.
func (p *PermissionRequest) Clone() *PermissionRequest {
	clone := *p
	if p.Start != nil {
		t := *p.Start
		clone.Start = &t
	}
	if p.End != nil {
		t := *p.End
		clone.End = &t
	}
	if p.LatestReading != nil {
		t := *p.LatestReading
		clone.LatestReading = &t
	}
	return &clone
}
