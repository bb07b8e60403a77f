package consumer

import "errors"

var (
	// ErrStreamNotLive means attach/connect was requested against a stream
	// that is not currently LIVE (spec.md §4.6/§5).
	ErrStreamNotLive = errors.New("consumer: parent stream is not live")

	// ErrIncompatibleCapabilities means the SFU's canConsume rejected the
	// client's RTP capabilities.
	ErrIncompatibleCapabilities = errors.New("consumer: incompatible rtp capabilities")

	// ErrDtlsFailed means the DTLS handshake did not complete.
	ErrDtlsFailed = errors.New("consumer: dtls handshake failed")

	// ErrNotPending means connect was attempted on a consumer that is not
	// awaiting connection (already CONNECTED or CLOSED).
	ErrNotPending = errors.New("consumer: not pending")

	// ErrNotFound means the consumer id does not exist in the registry.
	ErrNotFound = errors.New("consumer: not found")

	// ErrConsumerAlreadyExists means clientID already has a PENDING consumer
	// attached to streamID; the caller must finish (or let expire) that
	// handshake before attaching again. Distinct client_ids, and a client_id
	// whose prior consumer has already reached CONNECTED or CLOSED, are
	// unaffected (spec.md §4.6 fan-out: no cap on consumers per stream).
	ErrConsumerAlreadyExists = errors.New("consumer: already attached")
)
