package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into domain errors.
//
//   - ErrNotFound: key does not exist in the store
//   - ErrConflict: an optimistic write lost against a concurrent writer
//   - ErrUnavailable: backend unreachable, timed out or misconfigured
//   - ErrInvalidState: stored payload could not be decoded
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnavailable  = errors.New("unavailable")
	ErrInvalidState = errors.New("invalid state")
)
