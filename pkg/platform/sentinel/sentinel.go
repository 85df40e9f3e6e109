package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and clients return these
// (optionally wrapped) so services can translate them into domain behavior.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in store
// - ErrConflict: concurrent update lost the optimistic check
// - ErrDuplicate: entity with this identifier already exists
// - ErrClosed: component has been shut down
// - ErrUnavailable: external service temporarily unavailable
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrDuplicate   = errors.New("duplicate")
	ErrClosed      = errors.New("closed")
	ErrUnavailable = errors.New("unavailable")
)
