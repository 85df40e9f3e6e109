package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"gridward/pkg/domain"
)

// PermissionEvent is the immutable record of one state change. Events are
// appended to the outbox and never mutated or deleted afterwards.
// CommittedAt is assigned by the outbox at commit time, not at creation time,
// so the audit trail stays monotonic per permission.
type PermissionEvent struct {
	EventID      string
	PermissionID domain.PermissionID
	Status       Status

	// Variant-specific payload. Only the fields relevant to the target
	// status are set; the rest stay zero.
	ConnectionID    domain.ConnectionID
	DataNeedID      domain.DataNeedID
	MeteringPointID domain.MeteringPointID
	CMRequestID     string
	ConversationID  string
	ConsentID       domain.ConsentID
	Start           *time.Time
	End             *time.Time
	Cause           string

	CommittedAt time.Time
}

// DeliveryKey identifies an event for idempotent handling by subscribers:
// duplicate delivery of the same committed event yields the same key.
func (e PermissionEvent) DeliveryKey() string {
	return fmt.Sprintf("%s|%s|%d", e.PermissionID, e.Status, e.CommittedAt.UnixNano())
}

// NewCreatedEvent starts a new permission request lifecycle.
func NewCreatedEvent(
	permissionID domain.PermissionID,
	connectionID domain.ConnectionID,
	dataNeedID domain.DataNeedID,
	meteringPointID domain.MeteringPointID,
) PermissionEvent {
	return PermissionEvent{
		EventID:         uuid.NewString(),
		PermissionID:    permissionID,
		Status:          StatusCreated,
		ConnectionID:    connectionID,
		DataNeedID:      dataNeedID,
		MeteringPointID: meteringPointID,
	}
}

// NewValidatedEvent records successful validation together with the coverage
// window derived from the data need. Both bounds nil means open-ended.
func NewValidatedEvent(permissionID domain.PermissionID, start, end *time.Time) PermissionEvent {
	return PermissionEvent{
		EventID:      uuid.NewString(),
		PermissionID: permissionID,
		Status:       StatusValidated,
		Start:        start,
		End:          end,
	}
}

// NewMalformedEvent records a permanently invalid creation request with a
// human-readable cause.
func NewMalformedEvent(permissionID domain.PermissionID, cause string) PermissionEvent {
	return PermissionEvent{
		EventID:      uuid.NewString(),
		PermissionID: permissionID,
		Status:       StatusMalformed,
		Cause:        cause,
	}
}

// NewSentEvent records successful transmission to the administrator along
// with the correlation keys for the asynchronous answer.
func NewSentEvent(permissionID domain.PermissionID, cmRequestID, conversationID string) PermissionEvent {
	return PermissionEvent{
		EventID:        uuid.NewString(),
		PermissionID:   permissionID,
		Status:         StatusSentToPermissionAdministrator,
		CMRequestID:    cmRequestID,
		ConversationID: conversationID,
	}
}

// NewAcceptedEvent records the administrator's acceptance and the consent
// identifier it assigned.
func NewAcceptedEvent(permissionID domain.PermissionID, consentID domain.ConsentID) PermissionEvent {
	return PermissionEvent{
		EventID:      uuid.NewString(),
		PermissionID: permissionID,
		Status:       StatusAccepted,
		ConsentID:    consentID,
	}
}

// NewInvalidEvent records a permanent rejection by the administrator with a
// human-readable cause.
func NewInvalidEvent(permissionID domain.PermissionID, cause string) PermissionEvent {
	return PermissionEvent{
		EventID:      uuid.NewString(),
		PermissionID: permissionID,
		Status:       StatusInvalid,
		Cause:        cause,
	}
}

// NewStatusEvent records a plain transition carrying no extra payload.
func NewStatusEvent(permissionID domain.PermissionID, status Status) PermissionEvent {
	return PermissionEvent{
		EventID:      uuid.NewString(),
		PermissionID: permissionID,
		Status:       status,
	}
}

// ApplyTo folds the event into the aggregate: it performs the status
// transition and merges the variant payload. The CREATED event must be
// applied to a zero aggregate; every later event requires the aggregate the
// previous events produced.
func (e PermissionEvent) ApplyTo(p *PermissionRequest) error {
	if e.Status == StatusCreated {
		if p.PermissionID != "" {
			return &IllegalTransitionError{From: p.Status, To: StatusCreated}
		}
		p.PermissionID = e.PermissionID
		p.ConnectionID = e.ConnectionID
		p.DataNeedID = e.DataNeedID
		p.MeteringPointID = e.MeteringPointID
		p.Status = StatusCreated
		p.StatusChangedAt = e.CommittedAt
		return nil
	}
	if err := p.Transition(e.Status, e.CommittedAt); err != nil {
		return err
	}
	if e.Start != nil {
		t := *e.Start
		p.Start = &t
	}
	if e.End != nil {
		t := *e.End
		p.End = &t
	}
	if e.CMRequestID != "" {
		p.CMRequestID = e.CMRequestID
	}
	if e.ConversationID != "" {
		p.ConversationID = e.ConversationID
	}
	if e.ConsentID != "" {
		p.ConsentID = e.ConsentID
	}
	if e.Cause != "" {
		p.Cause = e.Cause
	}
	return nil
}

// ValidateSequence checks that consecutive events for a single permission
// follow the transition table. Testing and simulation tooling uses this as an
// external invariant check over recorded event streams.
func ValidateSequence(events []PermissionEvent) error {
	for i := 1; i < len(events); i++ {
		prev, next := events[i-1], events[i]
		if prev.PermissionID != next.PermissionID {
			return fmt.Errorf("event %d belongs to permission %s, expected %s",
				i, next.PermissionID, prev.PermissionID)
		}
		if Terminal(prev.Status) {
			return &PastStateError{Current: prev.Status, To: next.Status}
		}
		if !CanTransition(prev.Status, next.Status) {
			return &IllegalTransitionError{From: prev.Status, To: next.Status}
		}
	}
	return nil
}
