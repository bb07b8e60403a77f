package sfu

import "context"

// Transport is a single persistent bidirectional channel to an SFU worker
// process (spec.md §4.2). One Transport backs one ControlClient; the gateway
// opens exactly one such channel per SFU worker it manages, regardless of how
// many rooms/streams are routed over it.
//
// Implementations observed in this codebase: a websocket connection to the
// real worker in production, and testsupport/sfucontrolstub's in-memory pipe
// for tests.
type Transport interface {
	// Send writes one correlation-tagged call frame. It must be safe to call
	// concurrently with itself and with Recv.
	Send(ctx context.Context, frame Frame) error

	// Recv blocks for the next frame (a response or an out-of-band Event) or
	// returns an error once the channel is closed. Implementations must keep
	// returning the same terminal error on every call after closing.
	Recv(ctx context.Context) (Frame, error)

	// Close tears down the underlying connection. Idempotent.
	Close() error
}

// FrameKind distinguishes a call response from a server-pushed event on the
// shared channel.
type FrameKind string

const (
	FrameResponse FrameKind = "response"
	FrameEvent    FrameKind = "event"
)

// Frame is the envelope carried over a Transport. Responses echo the
// CorrelationID of the call they answer; events carry no correlation id and
// are dispatched to the client's event handler instead of a pending call.
type Frame struct {
	Kind          FrameKind `json:"kind"`
	CorrelationID string    `json:"correlationId,omitempty"`
	Method        string    `json:"method,omitempty"`
	Payload       []byte    `json:"payload,omitempty"`
	ErrorCode     string    `json:"errorCode,omitempty"`
	ErrorMessage  string    `json:"errorMessage,omitempty"`
}
