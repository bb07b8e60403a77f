// Package sfucontrolstub provides an in-memory sfu.Transport double for
// tests of code layered above the control client. It plays the SFU worker's role with sane defaults
// for every method in spec.md §4.2 and lets tests override specific methods
// or inject errors/events.
package sfucontrolstub

import (
	"context"
	"encoding/json"
	"sync"

	"bitriver-live/internal/sfu"
)

// Handler answers one call and returns the frame to send back, or an error
// code/message pair via sfu.Frame's ErrorCode field.
type Handler func(method string, payload []byte) sfu.Frame

// Stub is a scriptable fake SFU worker implementing sfu.Transport.
type Stub struct {
	mu       sync.Mutex
	handlers map[string]Handler
	events   chan sfu.Frame
	in       chan sfu.Frame
	closed   chan struct{}
}

// New returns a Stub pre-populated with default successful handlers for
// every method the control client calls.
func New() *Stub {
	s := &Stub{
		handlers: make(map[string]Handler),
		events:   make(chan sfu.Frame, 16),
		in:       make(chan sfu.Frame, 16),
		closed:   make(chan struct{}),
	}
	s.installDefaults()
	return s
}

// SetHandler overrides the behaviour for a single method, e.g. to simulate
// canConsume rejecting a client's capabilities.
func (s *Stub) SetHandler(method string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// PushEvent queues a server-initiated event frame for delivery on the next
// Recv, simulating a producer-closed or transport-closed notification.
func (s *Stub) PushEvent(evt sfu.Event) {
	payload, _ := json.Marshal(evt)
	s.events <- sfu.Frame{Kind: sfu.FrameEvent, Payload: payload}
}

// Send implements sfu.Transport.
func (s *Stub) Send(ctx context.Context, frame sfu.Frame) error {
	s.mu.Lock()
	handler, ok := s.handlers[frame.Method]
	s.mu.Unlock()
	if !ok {
		s.in <- sfu.Frame{Kind: sfu.FrameResponse, CorrelationID: frame.CorrelationID, ErrorCode: "unavailable", ErrorMessage: "no handler for " + frame.Method}
		return nil
	}
	resp := handler(frame.Method, frame.Payload)
	resp.CorrelationID = frame.CorrelationID
	resp.Kind = sfu.FrameResponse
	s.in <- resp
	return nil
}

// Recv implements sfu.Transport, preferring queued events ahead of call
// responses so pushed events are observed promptly by the client's recvLoop.
func (s *Stub) Recv(ctx context.Context) (sfu.Frame, error) {
	select {
	case evt := <-s.events:
		return evt, nil
	default:
	}
	select {
	case evt := <-s.events:
		return evt, nil
	case frame := <-s.in:
		return frame, nil
	case <-s.closed:
		return sfu.Frame{}, context.Canceled
	case <-ctx.Done():
		return sfu.Frame{}, ctx.Err()
	}
}

// Close implements sfu.Transport. Idempotent.
func (s *Stub) Close() error {
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
	return nil
}

func (s *Stub) installDefaults() {
	s.handlers[sfu.MethodGetRouterRTPCapabilities] = func(string, []byte) sfu.Frame {
		return okFrame(sfu.RouterRTPCapabilities{})
	}
	s.handlers[sfu.MethodCreatePlainTransport] = func(_ string, payload []byte) sfu.Frame {
		var params sfu.CreatePlainTransportParams
		_ = json.Unmarshal(payload, &params)
		return okFrame(sfu.PlainTransportInfo{TransportID: "pt-stub", IP: "127.0.0.1", Port: params.FixedPort})
	}
	s.handlers[sfu.MethodConnectPlainTransport] = func(string, []byte) sfu.Frame {
		return okFrame(nil)
	}
	s.handlers[sfu.MethodCreateProducer] = func(string, []byte) sfu.Frame {
		return okFrame(sfu.ProducerInfo{ProducerID: "producer-stub", State: "active"})
	}
	s.handlers[sfu.MethodCreateWebRTCTransport] = func(string, []byte) sfu.Frame {
		return okFrame(sfu.WebRTCTransportInfo{TransportID: "wt-stub"})
	}
	s.handlers[sfu.MethodConnectWebRTCTransport] = func(string, []byte) sfu.Frame {
		return okFrame(nil)
	}
	s.handlers[sfu.MethodCreateConsumer] = func(string, []byte) sfu.Frame {
		return okFrame(sfu.ConsumerInfo{ConsumerID: "consumer-stub", Kind: "video"})
	}
	s.handlers[sfu.MethodCloseProducer] = func(string, []byte) sfu.Frame { return okFrame(nil) }
	s.handlers[sfu.MethodCloseTransport] = func(string, []byte) sfu.Frame { return okFrame(nil) }
	s.handlers[sfu.MethodCloseTransportsForRoom] = func(string, []byte) sfu.Frame { return okFrame(nil) }
	s.handlers[sfu.MethodGetProducerStats] = func(string, []byte) sfu.Frame {
		return okFrame(sfu.ProducerStats{PacketsReceived: 1000})
	}
	s.handlers[sfu.MethodGetAllProducerStats] = func(string, []byte) sfu.Frame {
		return okFrame([]sfu.ProducerStats{})
	}
}

func okFrame(v any) sfu.Frame {
	if v == nil {
		return sfu.Frame{}
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return sfu.Frame{ErrorCode: "unavailable", ErrorMessage: err.Error()}
	}
	return sfu.Frame{Payload: payload}
}
