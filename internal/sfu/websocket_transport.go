package sfu

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebsocketTransport implements Transport over a single gorilla/websocket
// connection to an SFU worker's control endpoint, grounded on the
// single-connection JSON-frame dispatch shape of a Signalman-style realtime
// client: one writer mutex guarding the connection (gorilla/websocket
// forbids concurrent writers), frames marshaled to/from JSON text messages.
type WebsocketTransport struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

const dialHandshakeTimeout = 10 * time.Second

// DialWebsocketTransport opens a websocket connection to an SFU worker's
// control endpoint and returns a ready Transport.
func DialWebsocketTransport(ctx context.Context, url string, header http.Header) (*WebsocketTransport, error) {
	dialer := websocket.Dialer{HandshakeTimeout: dialHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("sfu: dial control websocket: %w", err)
	}
	return &WebsocketTransport{conn: conn, closed: make(chan struct{})}, nil
}

// Send implements Transport.
func (t *WebsocketTransport) Send(ctx context.Context, frame Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("sfu: marshal control frame: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(deadline)
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Recv implements Transport.
func (t *WebsocketTransport) Recv(ctx context.Context) (Frame, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = t.conn.SetReadDeadline(deadline)
	}
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		select {
		case <-t.closed:
			return Frame{}, context.Canceled
		default:
		}
		return Frame{}, fmt.Errorf("sfu: read control frame: %w", err)
	}
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return Frame{}, fmt.Errorf("sfu: decode control frame: %w", err)
	}
	return frame, nil
}

// Close implements Transport. Idempotent.
func (t *WebsocketTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		err = t.conn.Close()
	})
	return err
}
