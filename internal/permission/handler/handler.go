// Package handler is the HTTP surface of the permission lifecycle engine.
// It stays thin: parse, authenticate, delegate to the services, translate
// results back to JSON.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gridward/internal/administrator"
	"gridward/internal/permission/service"
	"gridward/internal/platform/metrics"
	"gridward/internal/platform/middleware"
	"gridward/pkg/domain"
	"gridward/pkg/platform/sentinel"
)

// Handler handles the permission lifecycle endpoints.
type Handler struct {
	logger         *slog.Logger
	permissions    *service.Service
	retransmission *service.Retransmission
	revocation     *service.Revocation
	metrics        *metrics.Metrics
	validator      middleware.TokenValidator
}

func New(
	permissions *service.Service,
	retransmission *service.Retransmission,
	revocation *service.Revocation,
	m *metrics.Metrics,
	validator middleware.TokenValidator,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		logger:         logger,
		permissions:    permissions,
		retransmission: retransmission,
		revocation:     revocation,
		metrics:        m,
		validator:      validator,
	}
}

// Router builds the full route tree.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(h.logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(h.logger))

	r.Get("/healthz", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Consumer-facing routes, authenticated by connection token.
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(h.validator, h.logger))
		r.Post("/permissions", h.handleCreate)
		r.Get("/permissions/{permissionID}", h.handleGet)
		r.Post("/permissions/{permissionID}/terminate", h.handleTerminate)
		r.Post("/retransmissions", h.handleRetransmission)
	})

	// Administrator webhook channel; authenticated upstream by the ingress.
	r.Post("/administrator/decisions", h.handleDecision)
	r.Post("/administrator/revocations", h.handleRevocation)

	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body createPermissionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	id, err := h.permissions.Create(ctx, service.CreateRequest{
		ConnectionID:    middleware.GetConnectionID(ctx),
		DataNeedID:      domain.DataNeedID(body.DataNeedID),
		MeteringPointID: domain.MeteringPointID(body.MeteringPointID),
	})
	var validation *service.ValidationError
	switch {
	case errors.As(err, &validation):
		// The request exists in MALFORMED; report both the id and the cause.
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"permissionId":      string(id),
			"error":             "malformed",
			"error_description": validation.Message,
		})
	case err != nil:
		h.logger.ErrorContext(ctx, "permission creation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to create permission request")
	default:
		writeJSON(w, http.StatusCreated, map[string]string{"permissionId": string(id)})
	}
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := domain.PermissionID(chi.URLParam(r, "permissionID"))
	req, err := h.permissions.Get(ctx, id)
	if err != nil || req.ConnectionID != middleware.GetConnectionID(ctx) {
		writeError(w, http.StatusNotFound, "not_found", "no such permission request")
		return
	}
	writeJSON(w, http.StatusOK, toPermissionResponse(req))
}

func (h *Handler) handleTerminate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := domain.PermissionID(chi.URLParam(r, "permissionID"))
	req, err := h.permissions.Get(ctx, id)
	if err != nil || req.ConnectionID != middleware.GetConnectionID(ctx) {
		writeError(w, http.StatusNotFound, "not_found", "no such permission request")
		return
	}
	if err := h.permissions.Terminate(ctx, id); err != nil {
		writeError(w, http.StatusConflict, "illegal_transition", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDecision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	err := h.permissions.HandleDecision(ctx,
		body.ConversationID,
		body.CMRequestID,
		administrator.Decision(body.Decision),
		domain.ConsentID(body.ConsentID),
		body.Reason,
	)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "decision matches no permission request")
	case err != nil:
		h.logger.WarnContext(ctx, "administrator decision rejected",
			"conversation_id", body.ConversationID, "error", err)
		writeError(w, http.StatusConflict, "conflict", err.Error())
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) handleRevocation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body revocationRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	effective := time.Now()
	if body.EffectiveDate != "" {
		parsed, err := time.Parse(time.DateOnly, body.EffectiveDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "effectiveDate must be YYYY-MM-DD")
			return
		}
		effective = parsed
	}
	h.metrics.RevocationsTotal.Inc()
	h.revocation.Handle(ctx, service.RevocationSignal{
		ConsentID:       domain.ConsentID(body.ConsentID),
		MeteringPointID: domain.MeteringPointID(body.MeteringPointID),
		EffectiveDate:   effective,
	})
	// A signal matching nothing is still acknowledged; it is not our consent.
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleRetransmission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body retransmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	from, err := time.Parse(time.DateOnly, body.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "from must be YYYY-MM-DD")
		return
	}
	to, err := time.Parse(time.DateOnly, body.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "to must be YYYY-MM-DD")
		return
	}

	result := <-h.retransmission.Request(ctx, domain.PermissionID(body.PermissionID), from, to)
	h.metrics.RetransmissionFinished(result.Outcome())

	resp := retransmissionResponse{PermissionID: body.PermissionID, Outcome: result.Outcome()}
	switch res := result.(type) {
	case service.PermissionRequestNotFound:
		writeJSON(w, http.StatusNotFound, resp)
	case service.NoActivePermission:
		resp.Detail = string(res.Status)
		writeJSON(w, http.StatusConflict, resp)
	case service.RetransmissionNotSupported:
		resp.Detail = res.Reason
		writeJSON(w, http.StatusUnprocessableEntity, resp)
	case service.NoPermissionForTimeFrame:
		writeJSON(w, http.StatusUnprocessableEntity, resp)
	case service.RetransmissionSuccess:
		resp.Readings = res.Readings
		writeJSON(w, http.StatusOK, resp)
	case service.DataNotAvailable:
		writeJSON(w, http.StatusOK, resp)
	case service.RetransmissionFailure:
		resp.Detail = res.Message
		writeJSON(w, http.StatusBadGateway, resp)
	default:
		writeJSON(w, http.StatusInternalServerError, resp)
	}
}
