package bus

import "errors"

// Sentinel errors for the durable bus contract.
var (
	ErrNotConnected   = errors.New("bus: not connected")
	ErrBackendFailure = errors.New("bus: backend failure")
	ErrTimeout        = errors.New("bus: timeout")
	ErrCancelled      = errors.New("bus: cancelled")
)
