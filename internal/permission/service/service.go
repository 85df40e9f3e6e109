// Package service contains the permission lifecycle services: creation and
// validation, administrator transmission, decision handling, fulfillment, the
// three corrective control loops and the retransmission protocol.
//
// The central convention: external failures that a background loop can
// recover from are absorbed into the state machine as state (UNABLE_TO_SEND,
// FAILED_TO_TERMINATE) rather than surfaced as errors. Only state machine
// violations and plainly invalid input reach the caller as errors.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gridward/internal/administrator"
	"gridward/internal/dataneeds"
	"gridward/internal/permission/eventsourcing"
	"gridward/internal/permission/models"
	"gridward/internal/permission/store"
	"gridward/pkg/domain"
)

// ValidationError reports a permanently invalid creation request. The same
// cause is committed with the MALFORMED event.
type ValidationError struct {
	Attribute string
	Message   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Attribute, e.Message)
}

// Service owns creation, validation, transmission and decision handling for
// permission requests.
type Service struct {
	repo   store.Repository
	outbox *eventsourcing.Outbox
	needs  *dataneeds.Service
	admin  administrator.Client
	logger *slog.Logger
	now    func() time.Time
}

func New(
	repo store.Repository,
	outbox *eventsourcing.Outbox,
	needs *dataneeds.Service,
	admin administrator.Client,
	logger *slog.Logger,
) *Service {
	return &Service{
		repo:   repo,
		outbox: outbox,
		needs:  needs,
		admin:  admin,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock overrides the time source for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateRequest is the input to Create.
type CreateRequest struct {
	ConnectionID    domain.ConnectionID
	DataNeedID      domain.DataNeedID
	MeteringPointID domain.MeteringPointID
}

// Create starts a new permission request lifecycle: it commits CREATED, runs
// validation and commits either VALIDATED (with the coverage window derived
// from the data need) or MALFORMED. Transmission to the administrator is
// driven off the VALIDATED event.
//
// The permission id is returned even when validation fails, so callers can
// follow the MALFORMED request's status.
func (s *Service) Create(ctx context.Context, req CreateRequest) (domain.PermissionID, error) {
	permissionID := domain.NewPermissionID()
	s.logger.InfoContext(ctx, "creating permission request",
		"permission_id", permissionID,
		"connection_id", req.ConnectionID,
		"data_need_id", req.DataNeedID,
	)
	created := models.NewCreatedEvent(permissionID, req.ConnectionID, req.DataNeedID, req.MeteringPointID)
	if err := s.outbox.Commit(ctx, created); err != nil {
		return "", fmt.Errorf("commit created: %w", err)
	}

	if req.MeteringPointID == "" {
		return permissionID, s.malformed(ctx, permissionID, "meteringPointId", "metering point id is required")
	}
	if len(req.MeteringPointID) > 64 {
		return permissionID, s.malformed(ctx, permissionID, "meteringPointId", "metering point id too long")
	}

	switch calc := s.needs.Calculate(req.DataNeedID, s.now()).(type) {
	case dataneeds.NotFound:
		return permissionID, s.malformed(ctx, permissionID, "dataNeedId", "data need not found")
	case dataneeds.NotSupported:
		return permissionID, s.malformed(ctx, permissionID, "dataNeedId", calc.Reason)
	case dataneeds.ValidatedHistorical:
		start := calc.Start
		if err := s.outbox.Commit(ctx, models.NewValidatedEvent(permissionID, &start, calc.End)); err != nil {
			return permissionID, fmt.Errorf("commit validated: %w", err)
		}
	case dataneeds.AccountingPoint:
		date := calc.Date
		if err := s.outbox.Commit(ctx, models.NewValidatedEvent(permissionID, &date, &date)); err != nil {
			return permissionID, fmt.Errorf("commit validated: %w", err)
		}
	}
	return permissionID, nil
}

func (s *Service) malformed(ctx context.Context, id domain.PermissionID, attribute, message string) error {
	if err := s.outbox.Commit(ctx, models.NewMalformedEvent(id, message)); err != nil {
		return fmt.Errorf("commit malformed: %w", err)
	}
	return &ValidationError{Attribute: attribute, Message: message}
}

// Send transmits a validated request to the administrator. The outcome is
// committed as state: SENT_TO_PERMISSION_ADMINISTRATOR on success,
// UNABLE_TO_SEND on a transient failure (the retry service re-attempts it),
// INVALID on a permanent rejection.
func (s *Service) Send(ctx context.Context, id domain.PermissionID) {
	req, err := s.repo.FindByPermissionID(ctx, id)
	if err != nil {
		s.logger.ErrorContext(ctx, "cannot send unknown permission request",
			"permission_id", id, "error", err)
		return
	}
	if req.Status != models.StatusValidated {
		s.logger.WarnContext(ctx, "skipping transmission, request not validated",
			"permission_id", id, "status", req.Status)
		return
	}

	ack, err := s.admin.Send(ctx, *req)
	switch {
	case err == nil:
		s.commitAbsorbed(ctx, models.NewSentEvent(id, ack.CMRequestID, ack.ConversationID))
	case administrator.Retryable(err):
		s.logger.WarnContext(ctx, "transmission failed, will retry",
			"permission_id", id, "error", err)
		s.commitAbsorbed(ctx, models.NewStatusEvent(id, models.StatusUnableToSend))
	default:
		s.logger.WarnContext(ctx, "administrator rejected transmission",
			"permission_id", id, "error", err)
		s.commitAbsorbed(ctx, models.NewInvalidEvent(id, err.Error()))
	}
}

// commitAbsorbed commits an event whose failure has no caller to report to;
// a lost race against a concurrent transition is logged and dropped.
func (s *Service) commitAbsorbed(ctx context.Context, event models.PermissionEvent) {
	if err := s.outbox.Commit(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to commit follow-up event",
			"permission_id", event.PermissionID,
			"status", event.Status,
			"error", err,
		)
	}
}

// HandleDecision correlates an asynchronous administrator decision back to
// its request and commits the matching event.
func (s *Service) HandleDecision(
	ctx context.Context,
	conversationID, cmRequestID string,
	decision administrator.Decision,
	consentID domain.ConsentID,
	reason string,
) error {
	req, err := s.repo.FindByConversationIDOrCMRequestID(ctx, conversationID, cmRequestID)
	if err != nil {
		return fmt.Errorf("correlate administrator decision: %w", err)
	}
	switch decision {
	case administrator.DecisionAccepted:
		return s.outbox.Commit(ctx, models.NewAcceptedEvent(req.PermissionID, consentID))
	case administrator.DecisionRejected:
		return s.outbox.Commit(ctx, models.NewStatusEvent(req.PermissionID, models.StatusRejected))
	case administrator.DecisionInvalid:
		if reason == "" {
			reason = "declared invalid by permission administrator"
		}
		return s.outbox.Commit(ctx, models.NewInvalidEvent(req.PermissionID, reason))
	default:
		return fmt.Errorf("unknown administrator decision %q", decision)
	}
}

// Accept records the administrator's acceptance for a known permission id.
func (s *Service) Accept(ctx context.Context, id domain.PermissionID, consentID domain.ConsentID) error {
	return s.outbox.Commit(ctx, models.NewAcceptedEvent(id, consentID))
}

// Reject records the administrator's rejection for a known permission id.
func (s *Service) Reject(ctx context.Context, id domain.PermissionID) error {
	return s.outbox.Commit(ctx, models.NewStatusEvent(id, models.StatusRejected))
}

// Terminate ends an accepted permission on the consumer's initiative and
// queues the administrator-side termination round.
func (s *Service) Terminate(ctx context.Context, id domain.PermissionID) error {
	if err := s.outbox.Commit(ctx, models.NewStatusEvent(id, models.StatusTerminated)); err != nil {
		return err
	}
	return s.outbox.Commit(ctx, models.NewStatusEvent(id, models.StatusRequiresExternalTermination))
}

// ExecuteExternalTermination performs the administrator-side termination
// call for a request in REQUIRES_EXTERNAL_TERMINATION. Failure is absorbed
// as FAILED_TO_TERMINATE and re-attempted by the retry service.
func (s *Service) ExecuteExternalTermination(ctx context.Context, id domain.PermissionID) {
	req, err := s.repo.FindByPermissionID(ctx, id)
	if err != nil {
		s.logger.ErrorContext(ctx, "cannot terminate unknown permission request",
			"permission_id", id, "error", err)
		return
	}
	if req.Status != models.StatusRequiresExternalTermination {
		return
	}
	if err := s.admin.Terminate(ctx, *req); err != nil {
		s.logger.WarnContext(ctx, "external termination failed, will retry",
			"permission_id", id, "error", err)
		s.commitAbsorbed(ctx, models.NewStatusEvent(id, models.StatusFailedToTerminate))
		return
	}
	s.commitAbsorbed(ctx, models.NewStatusEvent(id, models.StatusExternallyTerminated))
}

// Get returns the current snapshot of a permission request.
func (s *Service) Get(ctx context.Context, id domain.PermissionID) (*models.PermissionRequest, error) {
	return s.repo.FindByPermissionID(ctx, id)
}
