package sfu

import "errors"

// Sentinel errors surfaced by the control client (spec.md §4.2, §5).
var (
	// ErrUnavailable means the SFU worker could not be reached at all.
	ErrUnavailable = errors.New("sfu: unavailable")

	// ErrDisconnected means an established channel was dropped; every
	// pending call on it fails with this error and the caller (the Health
	// Monitor) is expected to mark affected streams ERROR.
	ErrDisconnected = errors.New("sfu: disconnected")

	// ErrOverloaded means the pending-call table is full.
	ErrOverloaded = errors.New("sfu: overloaded")

	// ErrCallTimeout means a single call exceeded its deadline.
	ErrCallTimeout = errors.New("sfu: call timed out")

	// ErrIncompatibleCapabilities means canConsume rejected the client's
	// RTP capabilities during consumer creation.
	ErrIncompatibleCapabilities = errors.New("sfu: incompatible rtp capabilities")

	// ErrUnknownCorrelation means a response referenced a correlation id with
	// no matching pending call; it is dropped with a diagnostic log line
	// rather than surfaced to any caller.
	ErrUnknownCorrelation = errors.New("sfu: response with unknown correlation id")
)
