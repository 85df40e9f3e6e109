package handler

// createPermissionRequest is the body of POST /permissions.
type createPermissionRequest struct {
	DataNeedID      string `json:"dataNeedId"`
	MeteringPointID string `json:"meteringPointId"`
}

// decisionRequest is the inbound administrator decision webhook body.
type decisionRequest struct {
	ConversationID string `json:"conversationId"`
	CMRequestID    string `json:"cmRequestId"`
	Decision       string `json:"decision"`
	ConsentID      string `json:"consentId"`
	Reason         string `json:"reason"`
}

// revocationRequest is the inbound administrator revocation webhook body.
type revocationRequest struct {
	ConsentID       string `json:"consentId"`
	MeteringPointID string `json:"meteringPointId"`
	EffectiveDate   string `json:"effectiveDate"`
}

// retransmissionRequest is the body of POST /retransmissions.
type retransmissionRequest struct {
	PermissionID string `json:"permissionId"`
	From         string `json:"from"`
	To           string `json:"to"`
}
