package orchestrator

import "errors"

var (
	// ErrDeviceNotFound means start_stream named a device the Store doesn't know.
	ErrDeviceNotFound = errors.New("orchestrator: device not found")

	// ErrStreamNotLive means a stream is not currently LIVE. The API layer
	// maps it to StreamNotLive; AttachConsumer itself reports a non-LIVE
	// stream with consumer.ErrStreamNotLive, passed through unchanged.
	ErrStreamNotLive = errors.New("orchestrator: stream is not live")

	// ErrStreamNotFound means the named stream_id has no active supervisor.
	ErrStreamNotFound = errors.New("orchestrator: stream not found")

	// ErrSetupTimeout means start_stream did not reach LIVE within its
	// bounded deadline (spec.md §4.9, default 30s).
	ErrSetupTimeout = errors.New("orchestrator: stream did not reach live before the deadline")
)
