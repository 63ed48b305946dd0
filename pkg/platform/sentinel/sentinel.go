package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into domain errors with the right
// code. They represent factual states about resources, not validation
// failures:
//   - ErrNotFound: entity does not exist in the store
//   - ErrConflict: optimistic version check lost, or unique constraint hit
//   - ErrInvalidState: entity in the wrong state for the requested operation
//   - ErrImmutable: mutation attempted on an append-only record
//   - ErrUnavailable: backing service temporarily unavailable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors
// directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrImmutable    = errors.New("immutable record")
	ErrUnavailable  = errors.New("unavailable")
)
