// Package orchestrator implements the Stream Orchestrator façade of
// spec.md §4.9: the operations the API layer calls (start_stream,
// stop_stream, attach_consumer, connect_consumer, detach_consumer,
// create_snapshot, create_bookmark), each wiring together the Port Broker,
// SSRC Capturer, Transcoder Supervisor, SFU Control Client, Consumer
// Registry, Health Monitor, and Extraction Worker Pool behind one per-stream
// state machine actor.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"bitriver-live/internal/consumer"
	"bitriver-live/internal/extraction"
	"bitriver-live/internal/health"
	"bitriver-live/internal/models"
	"bitriver-live/internal/observability/metrics"
	"bitriver-live/internal/sfu"
	"bitriver-live/internal/ssrc"
	"bitriver-live/internal/statemachine"
	"bitriver-live/internal/transcoder"
)

// SFUClient is the subset of the SFU Control Client the orchestrator
// depends on for plain-transport and producer lifecycle calls.
type SFUClient interface {
	CreatePlainTransport(ctx context.Context, params sfu.CreatePlainTransportParams) (sfu.PlainTransportInfo, error)
	ConnectPlainTransport(ctx context.Context, params sfu.ConnectPlainTransportParams) error
	CreateProducer(ctx context.Context, params sfu.CreateProducerParams) (sfu.ProducerInfo, error)
	CloseTransportsForRoom(ctx context.Context, roomID string) error
	GetProducerStats(ctx context.Context, producerID string) (sfu.ProducerStats, error)
}

type controlClientAdapter struct {
	client  *sfu.ControlClient
	metrics *metrics.Recorder
}

// NewSFUClient wraps a live control client for use by the orchestrator. A
// nil recorder falls back to metrics.Default().
func NewSFUClient(client *sfu.ControlClient, recorder *metrics.Recorder) SFUClient {
	if recorder == nil {
		recorder = metrics.Default()
	}
	return controlClientAdapter{client: client, metrics: recorder}
}

func (a controlClientAdapter) CreatePlainTransport(ctx context.Context, params sfu.CreatePlainTransportParams) (sfu.PlainTransportInfo, error) {
	var info sfu.PlainTransportInfo
	err := a.client.Call(ctx, sfu.MethodCreatePlainTransport, params, &info)
	a.metrics.ObserveSFUCall(sfu.MethodCreatePlainTransport, err)
	return info, err
}

func (a controlClientAdapter) ConnectPlainTransport(ctx context.Context, params sfu.ConnectPlainTransportParams) error {
	err := a.client.Call(ctx, sfu.MethodConnectPlainTransport, params, nil)
	a.metrics.ObserveSFUCall(sfu.MethodConnectPlainTransport, err)
	return err
}

func (a controlClientAdapter) CreateProducer(ctx context.Context, params sfu.CreateProducerParams) (sfu.ProducerInfo, error) {
	var info sfu.ProducerInfo
	err := a.client.Call(ctx, sfu.MethodCreateProducer, params, &info)
	a.metrics.ObserveSFUCall(sfu.MethodCreateProducer, err)
	return info, err
}

func (a controlClientAdapter) CloseTransportsForRoom(ctx context.Context, roomID string) error {
	err := a.client.Call(ctx, sfu.MethodCloseTransportsForRoom, struct {
		RoomID string `json:"roomId"`
	}{RoomID: roomID}, nil)
	a.metrics.ObserveSFUCall(sfu.MethodCloseTransportsForRoom, err)
	return err
}

func (a controlClientAdapter) GetProducerStats(ctx context.Context, producerID string) (sfu.ProducerStats, error) {
	var stats sfu.ProducerStats
	err := a.client.Call(ctx, sfu.MethodGetProducerStats, struct {
		ProducerID string `json:"producerId"`
	}{ProducerID: producerID}, &stats)
	a.metrics.ObserveSFUCall(sfu.MethodGetProducerStats, err)
	return stats, err
}

// PortBroker is the subset of *portbroker.Broker the orchestrator and
// health monitor depend on.
type PortBroker interface {
	Reserve(streamID string) (int, error)
	Release(streamID string)
	HeldBy(streamID string) (int, bool)
}

// Store is the persistence surface the orchestrator needs from the storage
// layer; narrowed to exactly what this package reads and writes.
type Store interface {
	GetDevice(deviceID string) (models.Device, bool, error)
	FindActiveStreamByDevice(deviceID string) (models.Stream, bool, error)
	SaveStream(stream models.Stream) error
	SaveProducer(producer models.Producer) error
	ClearProducer(streamID string) error
	CreateSnapshot(snapshot models.Snapshot) error
	CreateBookmark(bookmark models.Bookmark) error
}

// Config aggregates every collaborator the orchestrator wires together.
type Config struct {
	Store             Store
	SFU               SFUClient
	PortBroker        PortBroker
	ConsumerRegistry  *consumer.Registry
	ExtractionPool    *extraction.Pool
	Logger            *slog.Logger
	RecordingsRoot    string
	DestHost          string
	StartDeadline     time.Duration
	ReadinessWindow   time.Duration
	ReadinessInterval time.Duration
	SSRCCaptureConfig ssrc.Config
	HealthInterval    time.Duration
	Metrics           *metrics.Recorder
}

const (
	defaultStartDeadline     = 30 * time.Second
	defaultReadinessWindow   = 10 * time.Second
	defaultReadinessInterval = 500 * time.Millisecond
	defaultDestHost          = "127.0.0.1"
)

// StreamStarted is the result of start_stream.
type StreamStarted struct {
	StreamID   string
	ProducerID string
	Reconnect  bool
}

type streamSupervisor struct {
	machine *statemachine.Machine

	mu              sync.Mutex
	device          models.Device
	port            int
	producerID      string
	plainTransportID string
	transcoderProc  *transcoder.Process
	healthMonitor   *health.Monitor
	setupCancel     context.CancelFunc

	readyCh chan models.StreamState // closed/sent once per start_stream call
}

// Orchestrator owns every active stream supervisor.
type Orchestrator struct {
	cfg Config

	mu           sync.Mutex
	streams      map[string]*streamSupervisor
	deviceToLive map[string]string

	// startGroup collapses concurrent StartStream calls for the same
	// device into a single execution, closing the window between checking
	// deviceToLive and registering a newly created stream.
	startGroup singleflight.Group
}

// New constructs an Orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.StartDeadline <= 0 {
		cfg.StartDeadline = defaultStartDeadline
	}
	if cfg.ReadinessWindow <= 0 {
		cfg.ReadinessWindow = defaultReadinessWindow
	}
	if cfg.ReadinessInterval <= 0 {
		cfg.ReadinessInterval = defaultReadinessInterval
	}
	if cfg.DestHost == "" {
		cfg.DestHost = defaultDestHost
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Default()
	}
	return &Orchestrator{
		cfg:          cfg,
		streams:      make(map[string]*streamSupervisor),
		deviceToLive: make(map[string]string),
	}
}

// StartStream implements spec.md §4.9 start_stream: if the device already
// has a non-terminal stream, its identifiers are returned with
// reconnect=true rather than restarting it. Otherwise a new stream is
// driven INITIALIZING -> LIVE synchronously up to Config.StartDeadline.
func (o *Orchestrator) StartStream(ctx context.Context, deviceID string) (StreamStarted, error) {
	v, err, _ := o.startGroup.Do(deviceID, func() (interface{}, error) {
		return o.startStreamLocked(ctx, deviceID)
	})
	if err != nil {
		return StreamStarted{}, err
	}
	return v.(StreamStarted), nil
}

// startStreamLocked does the actual work of StartStream. It runs under
// o.startGroup keyed by deviceID, so at most one caller per device ever
// reaches the deviceToLive check-then-create sequence below — closing the
// race where two concurrent start_stream calls for a device with no
// existing stream could each observe "no existing stream" and create two.
func (o *Orchestrator) startStreamLocked(ctx context.Context, deviceID string) (StreamStarted, error) {
	o.mu.Lock()
	if existingID, ok := o.deviceToLive[deviceID]; ok {
		sup := o.streams[existingID]
		o.mu.Unlock()
		if sup != nil {
			state := sup.machine.State()
			if state.State.NonTerminal() {
				return StreamStarted{StreamID: state.ID, ProducerID: state.ProducerRef, Reconnect: true}, nil
			}
		}
	} else {
		o.mu.Unlock()
	}

	device, ok, err := o.cfg.Store.GetDevice(deviceID)
	if err != nil {
		return StreamStarted{}, fmt.Errorf("orchestrator: get device: %w", err)
	}
	if !ok {
		return StreamStarted{}, ErrDeviceNotFound
	}

	now := time.Now()
	stream := models.Stream{
		ID:        uuid.NewString(),
		DeviceID:  deviceID,
		State:     models.StreamInitializing,
		Codec:     models.DefaultCodecConfig(),
		StartedAt: now,
		UpdatedAt: now,
	}

	sup := &streamSupervisor{device: device, readyCh: make(chan models.StreamState, 1)}
	hooks := statemachine.Hooks{
		OnTransition:        o.onTransition(sup),
		OnRejected:          o.onRejected,
		OnRestartScheduled:  o.onRestartScheduled,
		OnRestartsExhausted: o.onRestartsExhausted,
	}
	sup.machine = statemachine.New(stream, hooks, o.cfg.Logger)

	o.mu.Lock()
	o.streams[stream.ID] = sup
	o.deviceToLive[deviceID] = stream.ID
	o.mu.Unlock()

	_ = o.cfg.Store.SaveStream(stream)

	go o.runSetup(sup, stream.ID)

	return o.awaitStart(ctx, sup)
}

// awaitStart races the INITIALIZING->READY->LIVE fan-out runSetup drives
// against o.cfg.StartDeadline, using errgroup to fan the two outcomes
// (readiness, deadline) into a single cancellation point: whichever
// happens first cancels the shared context so the other branch exits
// immediately instead of leaking until the deadline timer would have
// fired anyway.
func (o *Orchestrator) awaitStart(ctx context.Context, sup *streamSupervisor) (StreamStarted, error) {
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(raceCtx)

	var (
		result   StreamStarted
		setupErr error
	)

	g.Go(func() error {
		select {
		case final := <-sup.readyCh:
			cur := sup.machine.State()
			if final == models.StreamLive {
				result = StreamStarted{StreamID: cur.ID, ProducerID: cur.ProducerRef}
			} else {
				setupErr = fmt.Errorf("orchestrator: stream failed to start: %s", cur.LastError)
			}
			cancel()
			return nil
		case <-gctx.Done():
			return nil
		}
	})

	g.Go(func() error {
		timer := time.NewTimer(o.cfg.StartDeadline)
		defer timer.Stop()
		select {
		case <-timer.C:
			_ = sup.machine.Send(context.Background(), statemachine.Message{Kind: statemachine.KindEvent, Event: statemachine.EventSetupFailed, Reason: "start deadline exceeded"})
			setupErr = ErrSetupTimeout
			cancel()
			return nil
		case <-gctx.Done():
			return nil
		}
	})

	_ = g.Wait()

	if setupErr == nil && result.StreamID == "" {
		if err := ctx.Err(); err != nil {
			return StreamStarted{}, err
		}
	}
	if setupErr != nil {
		return StreamStarted{}, setupErr
	}
	return result, nil
}

// StopStream implements spec.md §4.9 stop_stream: idempotent, transitions
// LIVE|READY|INITIALIZING|ERROR -> STOPPED. A stop issued while start_stream
// is still in flight cancels the setup goroutine (spec.md §5).
func (o *Orchestrator) StopStream(ctx context.Context, streamID string) error {
	o.mu.Lock()
	sup, ok := o.streams[streamID]
	o.mu.Unlock()
	if !ok {
		return ErrStreamNotFound
	}

	state := sup.machine.State()
	if state.State == models.StreamStopped || state.State == models.StreamClosed {
		return nil
	}

	return sup.machine.Send(ctx, statemachine.Message{Kind: statemachine.KindCommand, Command: statemachine.CommandStop})
}

// AttachConsumer implements spec.md §4.9 attach_consumer.
func (o *Orchestrator) AttachConsumer(ctx context.Context, streamID, clientID string, capabilities sfu.CreateConsumerParams) (models.Consumer, sfu.WebRTCTransportInfo, error) {
	o.mu.Lock()
	sup, ok := o.streams[streamID]
	o.mu.Unlock()
	if !ok {
		return models.Consumer{}, sfu.WebRTCTransportInfo{}, ErrStreamNotFound
	}
	sup.mu.Lock()
	producerID := sup.producerID
	sup.mu.Unlock()
	return o.cfg.ConsumerRegistry.Attach(ctx, streamID, clientID, producerID, capabilities)
}

// ConnectConsumer implements spec.md §4.9 connect_consumer.
func (o *Orchestrator) ConnectConsumer(ctx context.Context, consumerID string, dtls sfu.ConnectWebRTCTransportParams) (models.Consumer, error) {
	return o.cfg.ConsumerRegistry.Connect(ctx, consumerID, dtls)
}

// DetachConsumer implements spec.md §4.9 detach_consumer; idempotent.
func (o *Orchestrator) DetachConsumer(ctx context.Context, consumerID string) error {
	return o.cfg.ConsumerRegistry.Detach(ctx, consumerID)
}

// ConsumerCount reports how many consumers are currently attached to
// streamID; used by the stream detail endpoint (spec.md §6).
func (o *Orchestrator) ConsumerCount(streamID string) int {
	return o.cfg.ConsumerRegistry.CountForStream(streamID)
}

// CreateSnapshot persists a PROCESSING Snapshot record and enqueues the
// extraction job, returning immediately (spec.md §4.9/§4.7).
func (o *Orchestrator) CreateSnapshot(streamID string, source models.ExtractionSource, at time.Time, metadata map[string]any) (models.Snapshot, error) {
	snap := models.Snapshot{
		ID:        uuid.NewString(),
		StreamID:  streamID,
		Timestamp: at,
		Source:    source,
		Status:    models.JobProcessing,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}
	if err := o.cfg.Store.CreateSnapshot(snap); err != nil {
		return models.Snapshot{}, fmt.Errorf("orchestrator: persist snapshot: %w", err)
	}
	err := o.cfg.ExtractionPool.Enqueue(extraction.Job{
		ID:        snap.ID,
		Kind:      extraction.JobSnapshot,
		StreamID:  streamID,
		Source:    source,
		Timestamp: at,
	})
	if err != nil {
		return models.Snapshot{}, err
	}
	return snap, nil
}

// BookmarkRequest carries the optional annotation fields spec.md §6's
// create_bookmark body accepts alongside the required timing window.
type BookmarkRequest struct {
	Label      string
	EventType  string
	Confidence *float64
	Tags       []string
}

// CreateBookmark persists a PROCESSING Bookmark record and enqueues the
// extraction job, returning immediately.
func (o *Orchestrator) CreateBookmark(streamID string, source models.ExtractionSource, center time.Time, before, after time.Duration, annotation BookmarkRequest) (models.Bookmark, error) {
	bm := models.Bookmark{
		ID:              uuid.NewString(),
		StreamID:        streamID,
		CenterTimestamp: center,
		StartTime:       center.Add(-before),
		EndTime:         center.Add(after),
		Source:          source,
		Label:           annotation.Label,
		EventType:       annotation.EventType,
		Confidence:      annotation.Confidence,
		Tags:            annotation.Tags,
		Status:          models.JobProcessing,
		CreatedAt:       time.Now(),
	}
	if err := o.cfg.Store.CreateBookmark(bm); err != nil {
		return models.Bookmark{}, fmt.Errorf("orchestrator: persist bookmark: %w", err)
	}
	err := o.cfg.ExtractionPool.Enqueue(extraction.Job{
		ID:        bm.ID,
		Kind:      extraction.JobBookmark,
		StreamID:  streamID,
		Source:    source,
		Timestamp: center,
		Before:    before,
		After:     after,
	})
	if err != nil {
		return models.Bookmark{}, err
	}
	return bm, nil
}

// runSetup drives a stream from INITIALIZING through the SSRC-capture /
// SFU-transport / Producer-creation pipeline of spec.md §4.4, then the
// READY -> LIVE readiness check of §4.3.
func (o *Orchestrator) runSetup(sup *streamSupervisor, streamID string) {
	ctx, cancel := context.WithCancel(context.Background())
	sup.mu.Lock()
	sup.setupCancel = cancel
	sup.mu.Unlock()
	defer cancel()

	port, err := o.cfg.PortBroker.Reserve(streamID)
	if err != nil {
		o.sendSetupFailed(sup, fmt.Sprintf("reserve port: %v", err))
		return
	}
	sup.mu.Lock()
	sup.port = port
	device := sup.device
	sup.mu.Unlock()

	var proc *transcoder.Process
	captureCfg := o.cfg.SSRCCaptureConfig
	captureCfg.OnBound = func() {
		p, startErr := transcoder.Start(ctx, transcoder.Config{
			StreamID:       streamID,
			RTSPURL:        device.RTSPURL,
			DestHost:       o.cfg.DestHost,
			DestPort:       port,
			RecordingsRoot: o.cfg.RecordingsRoot,
			Codec:          models.DefaultCodecConfig(),
			Logger:         o.cfg.Logger,
		}, o.transcoderSink(sup, streamID))
		if startErr != nil {
			o.cfg.Logger.Error("orchestrator: failed to start transcoder", "stream_id", streamID, "error", startErr)
			return
		}
		sup.mu.Lock()
		proc = p
		sup.transcoderProc = p
		sup.mu.Unlock()
	}

	result, err := ssrc.Capture(ctx, port, captureCfg)
	if err != nil {
		o.cfg.PortBroker.Release(streamID)
		if proc != nil {
			_ = proc.Stop(context.Background())
		}
		if errors.Is(err, ssrc.ErrCaptureTimeout) {
			o.sendEvent(sup, statemachine.EventSSRCTimeout, "ssrc capture timed out")
		} else {
			o.sendSetupFailed(sup, fmt.Sprintf("ssrc capture: %v", err))
		}
		return
	}

	transportInfo, err := o.cfg.SFU.CreatePlainTransport(ctx, sfu.CreatePlainTransportParams{RoomID: streamID, FixedPort: port})
	if err != nil {
		o.teardownFailedSetup(sup, streamID, proc)
		o.sendSetupFailed(sup, fmt.Sprintf("create plain transport: %v", err))
		return
	}

	remoteIP, remotePort := sourceHostPort(result.SourceAddr)
	if err := o.cfg.SFU.ConnectPlainTransport(ctx, sfu.ConnectPlainTransportParams{
		TransportID: transportInfo.TransportID,
		RemoteIP:    remoteIP,
		RemotePort:  remotePort,
	}); err != nil {
		o.teardownFailedSetup(sup, streamID, proc)
		o.sendSetupFailed(sup, fmt.Sprintf("connect plain transport: %v", err))
		return
	}

	producerInfo, err := o.cfg.SFU.CreateProducer(ctx, sfu.CreateProducerParams{
		TransportID: transportInfo.TransportID,
		Kind:        "video",
		Encodings:   []sfu.RTPEncodingParameters{{SSRC: result.SSRC}},
	})
	if err != nil {
		o.teardownFailedSetup(sup, streamID, proc)
		o.sendSetupFailed(sup, fmt.Sprintf("create producer: %v", err))
		return
	}

	sup.mu.Lock()
	sup.producerID = producerInfo.ProducerID
	sup.plainTransportID = transportInfo.TransportID
	sup.mu.Unlock()

	_ = o.cfg.Store.SaveProducer(models.Producer{
		ID:       producerInfo.ProducerID,
		StreamID: streamID,
		SSRC:     result.SSRC,
		State:    producerInfo.State,
	})

	o.sendEvent(sup, statemachine.EventSSRCCaptured, "")

	o.awaitReadiness(ctx, sup, streamID, producerInfo.ProducerID)
}

// awaitReadiness implements the READY -> LIVE guard: poll producer stats
// until bytes are received or the readiness window elapses.
func (o *Orchestrator) awaitReadiness(ctx context.Context, sup *streamSupervisor, streamID, producerID string) {
	deadline := time.Now().Add(o.cfg.ReadinessWindow)
	ticker := time.NewTicker(o.cfg.ReadinessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := o.cfg.SFU.GetProducerStats(ctx, producerID)
			if err == nil && (stats.RTPBytesReceived > 0 || stats.PacketsReceived > 0) {
				o.sendEvent(sup, statemachine.EventTranscoderReady, "")
				sup.machine.ResetRestartCount()
				o.startHealthMonitor(sup, streamID, producerID)
				return
			}
			if time.Now().After(deadline) {
				o.sendEvent(sup, statemachine.EventProduceFailed, "no media received within readiness window")
				return
			}
		}
	}
}

func (o *Orchestrator) startHealthMonitor(sup *streamSupervisor, streamID, producerID string) {
	sup.mu.Lock()
	port := sup.port
	sup.mu.Unlock()

	monitor := health.Start(context.Background(), health.Config{
		StreamID:   streamID,
		ProducerID: producerID,
		Port:       port,
		Stats:      o.cfg.SFU,
		PortBroker: o.cfg.PortBroker,
		Logger:     o.cfg.Logger,
		Interval:   o.cfg.HealthInterval,
		OnEvent:    o.onHealthEvent(sup),
	})
	sup.mu.Lock()
	sup.healthMonitor = monitor
	sup.mu.Unlock()
}

func (o *Orchestrator) onHealthEvent(sup *streamSupervisor) func(health.Event) {
	return func(evt health.Event) {
		switch evt.Kind {
		case health.EventStatsFlat:
			o.sendEvent(sup, statemachine.EventStatsFlat, evt.Reason)
		case health.EventSFULost:
			o.sendEvent(sup, statemachine.EventSFULost, evt.Reason)
		case health.EventPortLost:
			o.sendEvent(sup, statemachine.EventPortLost, evt.Reason)
		}
	}
}

func (o *Orchestrator) transcoderSink(sup *streamSupervisor, streamID string) transcoder.EventSink {
	return func(evt transcoder.Event) {
		if evt.Kind != transcoder.EventDied {
			return
		}
		state := sup.machine.State()
		reason := fmt.Sprintf("transcoder exited with code %d", evt.ExitCode)
		switch state.State {
		case models.StreamLive:
			o.sendEvent(sup, statemachine.EventTranscoderDied, reason)
		case models.StreamReady:
			o.sendEvent(sup, statemachine.EventProduceFailed, reason)
		case models.StreamInitializing:
			o.sendEvent(sup, statemachine.EventSetupFailed, reason)
		}
	}
}

func (o *Orchestrator) teardownFailedSetup(sup *streamSupervisor, streamID string, proc *transcoder.Process) {
	o.cfg.PortBroker.Release(streamID)
	if proc != nil {
		_ = proc.Stop(context.Background())
	}
}

func (o *Orchestrator) sendSetupFailed(sup *streamSupervisor, reason string) {
	o.sendEvent(sup, statemachine.EventSetupFailed, reason)
}

func (o *Orchestrator) sendEvent(sup *streamSupervisor, evt statemachine.Event, reason string) {
	_ = sup.machine.Send(context.Background(), statemachine.Message{Kind: statemachine.KindEvent, Event: evt, Reason: reason})
}

// onTransition is the statemachine hook wired into every stream's Machine.
// It persists the new state, fans setup-completion into the synchronous
// start_stream waiter, re-enters runSetup on automatic restarts, and tears
// down resources on STOPPED/CLOSED.
func (o *Orchestrator) onTransition(sup *streamSupervisor) func(models.Stream, models.StreamState, models.StreamState, statemachine.Message) {
	return func(stream models.Stream, from, to models.StreamState, msg statemachine.Message) {
		_ = o.cfg.Store.SaveStream(stream)

		switch to {
		case models.StreamLive, models.StreamError:
			if to == models.StreamLive {
				o.cfg.Metrics.StreamStarted()
			} else if from == models.StreamLive {
				o.cfg.Metrics.StreamStopped()
			}
			select {
			case sup.readyCh <- to:
			default:
			}
		case models.StreamInitializing:
			if from == models.StreamError {
				go o.runSetup(sup, stream.ID)
			}
		case models.StreamStopped, models.StreamClosed:
			if from == models.StreamLive {
				o.cfg.Metrics.StreamStopped()
			}
			o.teardownStream(sup, stream.ID)
			select {
			case sup.readyCh <- to:
			default:
			}
			if to == models.StreamClosed {
				o.mu.Lock()
				delete(o.streams, stream.ID)
				if o.deviceToLive[stream.DeviceID] == stream.ID {
					delete(o.deviceToLive, stream.DeviceID)
				}
				o.mu.Unlock()
			}
		}
	}
}

func (o *Orchestrator) onRejected(stream models.Stream, err *statemachine.InvalidState) {
	o.cfg.Logger.Warn("orchestrator: rejected transition", "stream_id", stream.ID, "error", err)
}

func (o *Orchestrator) onRestartScheduled(stream models.Stream, attempt int, delay time.Duration) {
	o.cfg.Logger.Info("orchestrator: scheduling restart", "stream_id", stream.ID, "attempt", attempt, "delay", delay)
}

func (o *Orchestrator) onRestartsExhausted(stream models.Stream) {
	o.cfg.Logger.Error("orchestrator: restarts exhausted, closing stream", "stream_id", stream.ID)
}

// teardownStream releases every resource a stream may be holding: its
// setup goroutine (if still running), the transcoder subprocess, the
// health monitor, the SFU transports/producer for its room, its consumers,
// and the assigned port.
func (o *Orchestrator) teardownStream(sup *streamSupervisor, streamID string) {
	sup.mu.Lock()
	cancel := sup.setupCancel
	proc := sup.transcoderProc
	monitor := sup.healthMonitor
	sup.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if proc != nil {
		_ = proc.Stop(context.Background())
	}
	if monitor != nil {
		monitor.Stop()
	}

	o.cfg.ConsumerRegistry.CloseForStream(context.Background(), streamID)
	if err := o.cfg.SFU.CloseTransportsForRoom(context.Background(), streamID); err != nil {
		o.cfg.Logger.Warn("orchestrator: failed to close sfu transports for room", "stream_id", streamID, "error", err)
	}
	_ = o.cfg.Store.ClearProducer(streamID)
	o.cfg.PortBroker.Release(streamID)
}

func sourceHostPort(addr *net.UDPAddr) (string, int) {
	if addr == nil {
		return "", 0
	}
	return addr.IP.String(), addr.Port
}
