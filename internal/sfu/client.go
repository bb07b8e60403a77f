// Package sfu implements the control client described in spec.md §4.2: a
// single persistent channel per SFU worker, multiplexing concurrent calls by
// correlation id and dispatching out-of-band events to a caller-supplied
// handler.
//
// The shape mirrors internal/auth's SessionManager-over-SessionStore split:
// Transport is the pluggable channel (production websocket vs.
// testsupport/sfucontrolstub's in-memory pipe in tests), and ControlClient is
// the call-table bookkeeping layered on top of it.
package sfu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventHandler receives server-pushed events with no correlated call.
type EventHandler func(Event)

// ClientConfig configures a ControlClient.
type ClientConfig struct {
	Transport Transport
	Logger    *slog.Logger

	// CallTimeout bounds every Call when the caller's context carries no
	// earlier deadline. Defaults to 5s.
	CallTimeout time.Duration

	// MaxPending bounds the number of calls awaiting a response at once; a
	// Call beyond this limit fails fast with ErrOverloaded rather than
	// queuing indefinitely. Defaults to 256.
	MaxPending int

	OnEvent EventHandler
}

type pendingCall struct {
	method string
	respCh chan Frame
}

// ControlClient is the correlation-id-multiplexed call layer over a single
// Transport. One ControlClient owns exactly one Transport and runs one
// background read loop for its lifetime; callers invoke Call concurrently
// from any number of goroutines.
type ControlClient struct {
	transport   Transport
	logger      *slog.Logger
	callTimeout time.Duration
	maxPending  int
	onEvent     EventHandler

	mu      sync.Mutex
	pending map[string]*pendingCall
	closed  bool
	closeErr error

	wg sync.WaitGroup
}

// NewControlClient starts the background receive loop and returns a ready
// client. The caller remains responsible for closing cfg.Transport via
// Close.
func NewControlClient(cfg ClientConfig) *ControlClient {
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	maxPending := cfg.MaxPending
	if maxPending <= 0 {
		maxPending = 256
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &ControlClient{
		transport:   cfg.Transport,
		logger:      logger,
		callTimeout: timeout,
		maxPending:  maxPending,
		onEvent:     cfg.OnEvent,
		pending:     make(map[string]*pendingCall),
	}
	c.wg.Add(1)
	go c.recvLoop()
	return c
}

// Call issues a correlation-tagged request and blocks for its response,
// bounded by ctx or the configured CallTimeout, whichever is sooner. result
// is populated by unmarshalling the response payload when non-nil.
func (c *ControlClient) Call(ctx context.Context, method string, params, result any) error {
	c.mu.Lock()
	if c.closed {
		err := c.closeErr
		c.mu.Unlock()
		if err == nil {
			err = ErrDisconnected
		}
		return err
	}
	if len(c.pending) >= c.maxPending {
		c.mu.Unlock()
		return ErrOverloaded
	}

	correlationID := uuid.NewString()
	call := &pendingCall{method: method, respCh: make(chan Frame, 1)}
	c.pending[correlationID] = call
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, correlationID)
		c.mu.Unlock()
	}()

	payload, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("sfu: marshal %s params: %w", method, err)
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		callCtx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}

	if err := c.transport.Send(callCtx, Frame{
		Kind:          FrameResponse,
		CorrelationID: correlationID,
		Method:        method,
		Payload:       payload,
	}); err != nil {
		return fmt.Errorf("sfu: send %s: %w", method, err)
	}

	select {
	case frame, ok := <-call.respCh:
		if !ok {
			return ErrDisconnected
		}
		if frame.ErrorCode != "" {
			return mapErrorCode(frame.ErrorCode, frame.ErrorMessage)
		}
		if result != nil && len(frame.Payload) > 0 {
			if err := json.Unmarshal(frame.Payload, result); err != nil {
				return fmt.Errorf("sfu: unmarshal %s response: %w", method, err)
			}
		}
		return nil
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return ErrCallTimeout
		}
		return callCtx.Err()
	}
}

// recvLoop owns the Transport's read side for the client's lifetime. On a
// terminal Recv error it fails every pending call with ErrDisconnected and
// exits.
func (c *ControlClient) recvLoop() {
	defer c.wg.Done()
	ctx := context.Background()
	for {
		frame, err := c.transport.Recv(ctx)
		if err != nil {
			c.shutdown(err)
			return
		}
		switch frame.Kind {
		case FrameEvent:
			if c.onEvent != nil {
				var evt Event
				if jsonErr := json.Unmarshal(frame.Payload, &evt); jsonErr == nil {
					c.onEvent(evt)
				} else {
					c.logger.Warn("sfu: malformed event payload", "error", jsonErr)
				}
			}
		default:
			c.dispatch(frame)
		}
	}
}

func (c *ControlClient) dispatch(frame Frame) {
	c.mu.Lock()
	call, ok := c.pending[frame.CorrelationID]
	c.mu.Unlock()
	if !ok {
		c.logger.Warn("sfu: dropping response", "error", ErrUnknownCorrelation, "correlation_id", frame.CorrelationID)
		return
	}
	call.respCh <- frame
}

func (c *ControlClient) shutdown(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeErr = fmt.Errorf("%w: %v", ErrDisconnected, cause)
	pending := c.pending
	c.pending = make(map[string]*pendingCall)
	c.mu.Unlock()

	for _, call := range pending {
		close(call.respCh)
	}
	c.logger.Error("sfu: control channel disconnected", "error", cause)
}

// Close tears down the underlying Transport and unblocks the receive loop.
func (c *ControlClient) Close() error {
	err := c.transport.Close()
	c.wg.Wait()
	return err
}

func mapErrorCode(code, message string) error {
	switch code {
	case "incompatible-capabilities":
		return ErrIncompatibleCapabilities
	case "overloaded":
		return ErrOverloaded
	case "unavailable":
		return ErrUnavailable
	default:
		return fmt.Errorf("sfu: %s: %s", code, message)
	}
}
