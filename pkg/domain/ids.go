// Package domain holds the typed identifiers shared across the permission
// engine. Keeping them as distinct string types prevents accidental mixing of
// correlation keys that all look like UUIDs on the wire.
package domain

import "github.com/google/uuid"

// PermissionID is the opaque, stable identifier of a permission request.
// Assigned once at creation, never reused.
type PermissionID string

// NewPermissionID returns a fresh random permission identifier.
func NewPermissionID() PermissionID {
	return PermissionID(uuid.NewString())
}

// ConnectionID correlates a permission request to the requesting party's
// connection session.
type ConnectionID string

// DataNeedID references the data specification a permission request asks for.
type DataNeedID string

// ConsentID is the permission administrator's identifier for a granted
// consent. Only present once a request has been accepted.
type ConsentID string

// MeteringPointID identifies a metering point at the national administrator.
// The engine treats it as opaque payload.
type MeteringPointID string
