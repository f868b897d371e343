package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, transports and provider
// clients return these (optionally wrapped) so callers can classify failures
// with errors.Is without depending on a concrete backend.
//
//   - ErrUnavailable: a backing system is unreachable or gave no answer
//   - ErrInvalidState: a component was used in a state that forbids the call
//   - ErrClosed: the resource has been shut down
var (
	ErrUnavailable  = errors.New("unavailable")
	ErrInvalidState = errors.New("invalid state")
	ErrClosed       = errors.New("closed")
)
