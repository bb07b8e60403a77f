// Command sfu-control-stub serves a scriptless SFU worker double over a
// websocket control endpoint, so the gateway can be pointed at something
// real during local development and integration tests without standing up
// an actual mediasoup-style worker. It answers every method in
// internal/sfu's wire protocol with the same canned-success defaults as
// internal/testsupport/sfucontrolstub, just carried over a real
// gorilla/websocket connection instead of an in-memory channel pair.
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"bitriver-live/internal/sfu"
)

const defaultBind = ":9090"

func main() {
	bind := envOrDefault("SFU_CONTROL_STUB_BIND", defaultBind)

	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(*http.Request) bool { return true },
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("upgrade failed: %v", err)
			return
		}
		serveWorker(conn)
	})

	server := &http.Server{
		Addr:              bind,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("sfu control stub listening on %s", bind)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
	log.Println("sfu control stub stopped")
}

// worker handles one client connection, answering each inbound call frame
// with a fixed response and serializing writes onto the single connection.
type worker struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func serveWorker(conn *websocket.Conn) {
	defer conn.Close()
	w := &worker{conn: conn}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame sfu.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Printf("decode control frame: %v", err)
			continue
		}
		resp := w.handle(frame)
		resp.CorrelationID = frame.CorrelationID
		resp.Kind = sfu.FrameResponse
		if err := w.send(resp); err != nil {
			log.Printf("write control frame: %v", err)
			return
		}
	}
}

func (w *worker) send(frame sfu.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *worker) handle(frame sfu.Frame) sfu.Frame {
	switch frame.Method {
	case sfu.MethodGetRouterRTPCapabilities:
		return okFrame(sfu.RouterRTPCapabilities{})
	case sfu.MethodCreatePlainTransport:
		var params sfu.CreatePlainTransportParams
		_ = json.Unmarshal(frame.Payload, &params)
		return okFrame(sfu.PlainTransportInfo{TransportID: "pt-stub", IP: "127.0.0.1", Port: params.FixedPort})
	case sfu.MethodConnectPlainTransport:
		return okFrame(nil)
	case sfu.MethodCreateProducer:
		return okFrame(sfu.ProducerInfo{ProducerID: "producer-stub", State: "active"})
	case sfu.MethodCreateWebRTCTransport:
		return okFrame(sfu.WebRTCTransportInfo{TransportID: "wt-stub"})
	case sfu.MethodConnectWebRTCTransport:
		return okFrame(nil)
	case sfu.MethodCreateConsumer:
		return okFrame(sfu.ConsumerInfo{ConsumerID: "consumer-stub", Kind: "video"})
	case sfu.MethodCloseProducer, sfu.MethodCloseTransport, sfu.MethodCloseTransportsForRoom:
		return okFrame(nil)
	case sfu.MethodGetProducerStats:
		return okFrame(sfu.ProducerStats{PacketsReceived: 1000})
	case sfu.MethodGetAllProducerStats:
		return okFrame([]sfu.ProducerStats{})
	default:
		return sfu.Frame{ErrorCode: "unavailable", ErrorMessage: "no handler for " + frame.Method}
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

func envOrDefault(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}
