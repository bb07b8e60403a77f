package sfu

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

// fakeTransport is an in-process Transport double. calls records every frame
// sent; respond lets the test script a canned reply keyed by method.
type fakeTransport struct {
	calls   chan Frame
	in      chan Frame
	closed  chan struct{}
	handler func(Frame) Frame
}

func newFakeTransport(handler func(Frame) Frame) *fakeTransport {
	return &fakeTransport{
		calls:   make(chan Frame, 16),
		in:      make(chan Frame, 16),
		closed:  make(chan struct{}),
		handler: handler,
	}
}

func (f *fakeTransport) Send(ctx context.Context, frame Frame) error {
	f.calls <- frame
	if f.handler != nil {
		f.in <- f.handler(frame)
	}
	return nil
}

func (f *fakeTransport) Recv(ctx context.Context) (Frame, error) {
	select {
	case frame := <-f.in:
		return frame, nil
	case <-f.closed:
		return Frame{}, context.Canceled
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (f *fakeTransport) Close() error {
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
	return nil
}

func TestControlClientCallRoundTrip(t *testing.T) {
	transport := newFakeTransport(func(req Frame) Frame {
		var params CreatePlainTransportParams
		_ = json.Unmarshal(req.Payload, &params)
		info := PlainTransportInfo{TransportID: "pt-1", IP: "127.0.0.1", Port: params.FixedPort}
		payload, _ := json.Marshal(info)
		return Frame{Kind: FrameResponse, CorrelationID: req.CorrelationID, Payload: payload}
	})
	client := NewControlClient(ClientConfig{Transport: transport})
	defer client.Close()

	var info PlainTransportInfo
	err := client.Call(context.Background(), MethodCreatePlainTransport,
		CreatePlainTransportParams{RoomID: "stream-1", FixedPort: 20123}, &info)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if info.TransportID != "pt-1" || info.Port != 20123 {
		t.Fatalf("unexpected response: %+v", info)
	}
}

func TestControlClientCallTimeout(t *testing.T) {
	transport := newFakeTransport(nil) // never replies
	client := NewControlClient(ClientConfig{Transport: transport, CallTimeout: 20 * time.Millisecond})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := client.Call(ctx, MethodGetRouterRTPCapabilities, nil, nil)
	if err != ErrCallTimeout {
		t.Fatalf("expected ErrCallTimeout, got %v", err)
	}
}

func TestControlClientErrorCodeMapping(t *testing.T) {
	transport := newFakeTransport(func(req Frame) Frame {
		return Frame{Kind: FrameResponse, CorrelationID: req.CorrelationID, ErrorCode: "incompatible-capabilities"}
	})
	client := NewControlClient(ClientConfig{Transport: transport})
	defer client.Close()

	err := client.Call(context.Background(), MethodCreateConsumer, CreateConsumerParams{}, nil)
	if err != ErrIncompatibleCapabilities {
		t.Fatalf("expected ErrIncompatibleCapabilities, got %v", err)
	}
}

func TestControlClientOverloaded(t *testing.T) {
	transport := newFakeTransport(nil)
	client := NewControlClient(ClientConfig{Transport: transport, MaxPending: 1, CallTimeout: time.Second})
	defer client.Close()

	done := make(chan struct{})
	go func() {
		_ = client.Call(context.Background(), MethodGetRouterRTPCapabilities, nil, nil)
		close(done)
	}()

	// Give the first call time to register itself as pending before the
	// second one observes a full table.
	time.Sleep(10 * time.Millisecond)
	err := client.Call(context.Background(), MethodGetRouterRTPCapabilities, nil, nil)
	if err != ErrOverloaded {
		t.Fatalf("expected ErrOverloaded, got %v", err)
	}
	<-done
}

func TestControlClientDisconnectFailsPendingCalls(t *testing.T) {
	transport := newFakeTransport(nil)
	client := NewControlClient(ClientConfig{Transport: transport, CallTimeout: time.Second})

	errCh := make(chan error, 1)
	go func() {
		errCh <- client.Call(context.Background(), MethodGetRouterRTPCapabilities, nil, nil)
	}()

	time.Sleep(10 * time.Millisecond)
	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected an error after disconnect")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pending call to fail after disconnect")
	}
}
