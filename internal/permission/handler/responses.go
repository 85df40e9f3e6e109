package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"gridward/internal/permission/models"
)

// permissionResponse is the outward view of a permission request.
type permissionResponse struct {
	PermissionID    string  `json:"permissionId"`
	ConnectionID    string  `json:"connectionId"`
	DataNeedID      string  `json:"dataNeedId"`
	MeteringPointID string  `json:"meteringPointId"`
	Status          string  `json:"status"`
	StatusChangedAt string  `json:"statusChangedAt"`
	Start           *string `json:"start,omitempty"`
	End             *string `json:"end,omitempty"`
	Cause           string  `json:"cause,omitempty"`
}

func toPermissionResponse(req *models.PermissionRequest) permissionResponse {
	resp := permissionResponse{
		PermissionID:    string(req.PermissionID),
		ConnectionID:    string(req.ConnectionID),
		DataNeedID:      string(req.DataNeedID),
		MeteringPointID: string(req.MeteringPointID),
		Status:          string(req.Status),
		StatusChangedAt: req.StatusChangedAt.Format(time.RFC3339),
		Cause:           req.Cause,
	}
	if req.Start != nil {
		s := req.Start.Format(time.DateOnly)
		resp.Start = &s
	}
	if req.End != nil {
		e := req.End.Format(time.DateOnly)
		resp.End = &e
	}
	return resp
}

// retransmissionResponse reports the outcome of a retransmission request.
type retransmissionResponse struct {
	PermissionID string `json:"permissionId"`
	Outcome      string `json:"outcome"`
	Detail       string `json:"detail,omitempty"`
	Readings     int    `json:"readings,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, map[string]string{
		"error":             code,
		"error_description": description,
	})
}
