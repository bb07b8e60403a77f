// Package consumer implements the Consumer Registry (spec.md §4.6): it
// drives the WebRTC-side transport/DTLS handshake for each client attached
// to a stream's Producer and owns the PENDING -> CONNECTED -> CLOSED
// lifecycle, including the TTL that closes a consumer that never completes
// its handshake.
//
// The split mirrors internal/auth's SessionManager-over-SessionStore shape:
// SFUClient is the pluggable collaborator (the real sfu.ControlClient in
// production, a fake in tests), and Registry is the bookkeeping layered on
// top of it.
package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"bitriver-live/internal/models"
	"bitriver-live/internal/observability/metrics"
	"bitriver-live/internal/sfu"
)

// SFUClient is the subset of the SFU Control Client the registry depends
// on, narrowed so tests can supply a fake without standing up a full
// sfu.ControlClient.
type SFUClient interface {
	CreateWebRTCTransport(ctx context.Context, params sfu.CreateWebRTCTransportParams) (sfu.WebRTCTransportInfo, error)
	ConnectWebRTCTransport(ctx context.Context, params sfu.ConnectWebRTCTransportParams) error
	CreateConsumer(ctx context.Context, params sfu.CreateConsumerParams) (sfu.ConsumerInfo, error)
	CloseTransport(ctx context.Context, transportID string) error
}

// controlClientAdapter adapts *sfu.ControlClient (whose only public surface
// is the generic Call) to the narrow SFUClient interface above.
type controlClientAdapter struct {
	client  *sfu.ControlClient
	metrics *metrics.Recorder
}

// NewSFUClient wraps a live control client for use by the registry. A nil
// recorder falls back to metrics.Default().
func NewSFUClient(client *sfu.ControlClient, recorder *metrics.Recorder) SFUClient {
	if recorder == nil {
		recorder = metrics.Default()
	}
	return controlClientAdapter{client: client, metrics: recorder}
}

func (a controlClientAdapter) CreateWebRTCTransport(ctx context.Context, params sfu.CreateWebRTCTransportParams) (sfu.WebRTCTransportInfo, error) {
	var info sfu.WebRTCTransportInfo
	err := a.client.Call(ctx, sfu.MethodCreateWebRTCTransport, params, &info)
	a.metrics.ObserveSFUCall(sfu.MethodCreateWebRTCTransport, err)
	return info, err
}

func (a controlClientAdapter) ConnectWebRTCTransport(ctx context.Context, params sfu.ConnectWebRTCTransportParams) error {
	err := a.client.Call(ctx, sfu.MethodConnectWebRTCTransport, params, nil)
	a.metrics.ObserveSFUCall(sfu.MethodConnectWebRTCTransport, err)
	return err
}

func (a controlClientAdapter) CreateConsumer(ctx context.Context, params sfu.CreateConsumerParams) (sfu.ConsumerInfo, error) {
	var info sfu.ConsumerInfo
	err := a.client.Call(ctx, sfu.MethodCreateConsumer, params, &info)
	a.metrics.ObserveSFUCall(sfu.MethodCreateConsumer, err)
	return info, err
}

func (a controlClientAdapter) CloseTransport(ctx context.Context, transportID string) error {
	err := a.client.Call(ctx, sfu.MethodCloseTransport, struct {
		TransportID string `json:"transportId"`
	}{TransportID: transportID}, nil)
	a.metrics.ObserveSFUCall(sfu.MethodCloseTransport, err)
	return err
}

// StreamLookup answers whether a stream is currently LIVE; the registry
// consults it on attach (spec.md §4.6 "parent stream must be LIVE").
type StreamLookup func(streamID string) (models.StreamState, bool)

// Config configures a Registry.
type Config struct {
	SFU          SFUClient
	StreamLookup StreamLookup
	Logger       *slog.Logger

	// PendingTTL bounds how long a consumer may sit in PENDING before it is
	// auto-closed. Defaults to 30s (spec.md §4.6).
	PendingTTL time.Duration

	// CallTimeout bounds the SFU round trips issued by Attach/Connect.
	CallTimeout time.Duration

	// PendingTracker mirrors PENDING consumers somewhere visible across a
	// fleet of gateway instances. Defaults to a no-op for single-instance
	// deployments.
	PendingTracker PendingTracker

	Metrics *metrics.Recorder
}

const (
	defaultPendingTTL  = 30 * time.Second
	defaultCallTimeout = 5 * time.Second
)

type entry struct {
	consumer    models.Consumer
	transportID string
	ttlTimer    *time.Timer
}

// Registry owns every live Consumer across all streams.
type Registry struct {
	sfu          SFUClient
	streamLookup StreamLookup
	logger       *slog.Logger
	pendingTTL   time.Duration
	callTimeout  time.Duration
	tracker      PendingTracker
	metrics      *metrics.Recorder

	mu       sync.Mutex
	entries  map[string]*entry
	byStream map[string]map[string]struct{}
}

// New constructs a Registry.
func New(cfg Config) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.PendingTTL
	if ttl <= 0 {
		ttl = defaultPendingTTL
	}
	callTimeout := cfg.CallTimeout
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	tracker := cfg.PendingTracker
	if tracker == nil {
		tracker = noopPendingTracker{}
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	return &Registry{
		sfu:          cfg.SFU,
		streamLookup: cfg.StreamLookup,
		logger:       logger,
		pendingTTL:   ttl,
		callTimeout:  callTimeout,
		tracker:      tracker,
		metrics:      recorder,
		entries:      make(map[string]*entry),
		byStream:     make(map[string]map[string]struct{}),
	}
}

// Attach creates a WebRTC transport and egress Consumer for a client
// against streamID's Producer. Precondition: the stream must be LIVE.
func (r *Registry) Attach(ctx context.Context, streamID, clientID, producerID string, capabilities sfu.CreateConsumerParams) (models.Consumer, sfu.WebRTCTransportInfo, error) {
	if state, ok := r.streamLookup(streamID); !ok || state != models.StreamLive {
		return models.Consumer{}, sfu.WebRTCTransportInfo{}, ErrStreamNotLive
	}

	r.mu.Lock()
	for id := range r.byStream[streamID] {
		if e := r.entries[id]; e != nil && e.consumer.ClientID == clientID && e.consumer.State == models.ConsumerPending {
			r.mu.Unlock()
			return models.Consumer{}, sfu.WebRTCTransportInfo{}, ErrConsumerAlreadyExists
		}
	}
	r.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	transportInfo, err := r.sfu.CreateWebRTCTransport(callCtx, sfu.CreateWebRTCTransportParams{RoomID: streamID})
	if err != nil {
		return models.Consumer{}, sfu.WebRTCTransportInfo{}, fmt.Errorf("consumer: create transport: %w", err)
	}

	capabilities.TransportID = transportInfo.TransportID
	capabilities.ProducerID = producerID
	if _, err := r.sfu.CreateConsumer(callCtx, capabilities); err != nil {
		_ = r.sfu.CloseTransport(callCtx, transportInfo.TransportID)
		return models.Consumer{}, sfu.WebRTCTransportInfo{}, fmt.Errorf("consumer: create consumer: %w", err)
	}

	now := time.Now()
	c := models.Consumer{
		ID:           uuid.NewString(),
		StreamID:     streamID,
		ClientID:     clientID,
		State:        models.ConsumerPending,
		TransportRef: transportInfo.TransportID,
		CreatedAt:    now,
		LastSeenAt:   now,
	}

	r.mu.Lock()
	e := &entry{consumer: c, transportID: transportInfo.TransportID}
	e.ttlTimer = time.AfterFunc(r.pendingTTL, func() { r.expirePending(c.ID) })
	r.entries[c.ID] = e
	if r.byStream[streamID] == nil {
		r.byStream[streamID] = make(map[string]struct{})
	}
	r.byStream[streamID][c.ID] = struct{}{}
	r.mu.Unlock()

	if err := r.tracker.TrackPending(ctx, streamID, c.ID, r.pendingTTL); err != nil {
		r.logger.Warn("consumer: failed to record pending consumer", "consumer_id", c.ID, "stream_id", streamID, "error", err)
	}

	r.metrics.ConsumerAttached()
	return c, transportInfo, nil
}

// Connect completes the DTLS handshake for a PENDING consumer.
func (r *Registry) Connect(ctx context.Context, consumerID string, dtls sfu.ConnectWebRTCTransportParams) (models.Consumer, error) {
	r.mu.Lock()
	e, ok := r.entries[consumerID]
	if !ok {
		r.mu.Unlock()
		return models.Consumer{}, ErrNotFound
	}
	if e.consumer.State != models.ConsumerPending {
		r.mu.Unlock()
		return models.Consumer{}, ErrNotPending
	}
	transportID := e.transportID
	r.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	dtls.TransportID = transportID
	if err := r.sfu.ConnectWebRTCTransport(callCtx, dtls); err != nil {
		r.closeWithReason(consumerID, "DtlsFailed")
		return models.Consumer{}, ErrDtlsFailed
	}

	r.mu.Lock()
	e, ok = r.entries[consumerID]
	if !ok || e.consumer.State == models.ConsumerClosed {
		// Closed concurrently (Detach, CloseForStream, or PendingTTL) while
		// the DTLS round trip was in flight: its transport is already torn
		// down, so don't resurrect it to CONNECTED.
		r.mu.Unlock()
		return models.Consumer{}, ErrNotFound
	}
	if e.ttlTimer != nil {
		e.ttlTimer.Stop()
		e.ttlTimer = nil
	}
	e.consumer.State = models.ConsumerConnected
	e.consumer.LastSeenAt = time.Now()
	streamID := e.consumer.StreamID
	connected := e.consumer
	r.mu.Unlock()

	if err := r.tracker.Untrack(ctx, streamID, consumerID); err != nil {
		r.logger.Warn("consumer: failed to untrack connected consumer", "consumer_id", consumerID, "error", err)
	}
	return connected, nil
}

// Detach explicitly closes a consumer. Idempotent.
func (r *Registry) Detach(ctx context.Context, consumerID string) error {
	return r.close(ctx, consumerID, "")
}

// CloseForStream closes every consumer attached to streamID, e.g. when the
// parent stream leaves LIVE.
func (r *Registry) CloseForStream(ctx context.Context, streamID string) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.byStream[streamID]))
	for id := range r.byStream[streamID] {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		if err := r.close(ctx, id, "StreamNotLive"); err != nil && err != ErrNotFound {
			r.logger.Error("consumer: failed to close consumer on stream transition", "consumer_id", id, "error", err)
		}
	}
}

// Get returns the current state of a consumer. A CLOSED consumer reads as
// not-found: the entry lingers internally only so a second Detach/close call
// can recognize it as already-closed rather than unknown (see close below).
func (r *Registry) Get(consumerID string) (models.Consumer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[consumerID]
	if !ok || e.consumer.State == models.ConsumerClosed {
		return models.Consumer{}, false
	}
	return e.consumer, true
}

// CountForStream reports how many consumers (pending or connected) are
// currently attached to streamID; used by the stream detail endpoint.
func (r *Registry) CountForStream(streamID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byStream[streamID])
}

func (r *Registry) expirePending(consumerID string) {
	r.mu.Lock()
	e, ok := r.entries[consumerID]
	if !ok || e.consumer.State != models.ConsumerPending {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	if err := r.close(context.Background(), consumerID, "PendingTTLExpired"); err != nil && err != ErrNotFound {
		r.logger.Error("consumer: failed to close expired pending consumer", "consumer_id", consumerID, "error", err)
	}
}

func (r *Registry) closeWithReason(consumerID, reason string) {
	if err := r.close(context.Background(), consumerID, reason); err != nil && err != ErrNotFound {
		r.logger.Error("consumer: failed to close consumer", "consumer_id", consumerID, "error", err)
	}
}

func (r *Registry) close(ctx context.Context, consumerID, reason string) error {
	r.mu.Lock()
	e, ok := r.entries[consumerID]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	if e.consumer.State == models.ConsumerClosed {
		r.mu.Unlock()
		return nil
	}
	if e.ttlTimer != nil {
		e.ttlTimer.Stop()
	}
	now := time.Now()
	e.consumer.State = models.ConsumerClosed
	e.consumer.ClosedAt = &now
	e.consumer.CloseReason = reason
	transportID := e.transportID
	streamID := e.consumer.StreamID
	// Entry stays in r.entries (CLOSED, no ttlTimer) so a second
	// Detach/close sees the already-closed state instead of ErrNotFound.
	// Get treats CLOSED as not-found regardless, so callers still observe
	// the consumer as gone; only close()'s own lookup needs the tombstone.
	// Removed from byStream immediately: CountForStream and
	// CloseForStream must stop seeing it right away.
	if streamSet, ok := r.byStream[streamID]; ok {
		delete(streamSet, consumerID)
		if len(streamSet) == 0 {
			delete(r.byStream, streamID)
		}
	}
	r.mu.Unlock()

	if err := r.tracker.Untrack(ctx, streamID, consumerID); err != nil {
		r.logger.Warn("consumer: failed to untrack closed consumer", "consumer_id", consumerID, "error", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()
	if err := r.sfu.CloseTransport(callCtx, transportID); err != nil {
		r.logger.Warn("consumer: failed to close sfu transport", "consumer_id", consumerID, "transport_id", transportID, "error", err)
	}

	closeReason := reason
	if closeReason == "" {
		closeReason = "detached"
	}
	r.metrics.ConsumerClosed(closeReason)
	return nil
}
