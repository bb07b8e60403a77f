// Package statemachine implements the per-stream finite-state automaton of
// spec.md §4.3: a single-owner actor processes command and event messages in
// order, applying guarded transitions and rejecting anything that would
// violate them with InvalidState.
//
// The actor shape — one goroutine per stream, a buffered mailbox channel, a
// blocking select loop — follows the per-connection chat client
// (readLoop/writeLoop over a send channel) of a chat package this repository
// no longer contains, generalized from one connection to one stream.
package statemachine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"bitriver-live/internal/models"
)

// MessageKind distinguishes externally issued commands from internally
// observed events; both flow through the same mailbox and are processed in
// the order received.
type MessageKind string

const (
	KindCommand MessageKind = "command"
	KindEvent   MessageKind = "event"
)

// Command is an externally issued instruction (from the Stream Orchestrator,
// ultimately the API).
type Command string

const (
	CommandStart  Command = "start"
	CommandStop   Command = "stop"
	CommandDelete Command = "delete"
)

// Event is an internally observed occurrence driving a transition, emitted by
// the SSRC Capturer, Transcoder Supervisor, SFU Control Client, or Health
// Monitor.
type Event string

const (
	EventSSRCCaptured    Event = "ssrc-captured"
	EventSetupFailed     Event = "setup-failed"
	EventSSRCTimeout     Event = "ssrc-timeout"
	EventTranscoderReady Event = "transcoder-ready"
	EventProduceFailed   Event = "produce-failed"
	EventTranscoderDied  Event = "transcoder-died"
	EventSFULost         Event = "sfu-lost"
	EventPortLost        Event = "port-lost"
	EventStatsFlat       Event = "stats-flat"
	EventStopReq         Event = "stop-req"
	eventRestartTimer    Event = "restart-timer-fired"
	eventStoppedTTL      Event = "stopped-ttl-fired"
)

// Message is one mailbox entry.
type Message struct {
	Kind    MessageKind
	Command Command
	Event   Event
	Reason  string
}

// trigger is the portion of a Message that guards key off; Reason is
// free-form diagnostic data and must not affect transition lookup.
type trigger struct {
	Kind    MessageKind
	Command Command
	Event   Event
}

func (m Message) trigger() trigger {
	return trigger{Kind: m.Kind, Command: m.Command, Event: m.Event}
}

// InvalidState is returned when a message would violate the transition
// guards for the machine's current state.
type InvalidState struct {
	From    models.StreamState
	Message Message
}

func (e *InvalidState) Error() string {
	return fmt.Sprintf("statemachine: invalid transition from %s on %v", e.From, e.Message)
}

// MaxRestarts bounds automatic ERROR -> INITIALIZING retries before the
// stream moves to CLOSED (spec.md §4.3, N=3).
const MaxRestarts = 3

// RestartBackoff is the exponential backoff schedule applied between
// successive automatic restarts (spec.md's worked example in §8).
var RestartBackoff = []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}

// StoppedTTL is how long a STOPPED stream waits before the machine closes it
// automatically absent a restart command.
const StoppedTTL = 10 * time.Minute

// transitions maps (fromState, trigger) to the resulting state. A message not
// present here (for the current state) is rejected with InvalidState, except
// for CommandDelete which is always accepted from any non-terminal state.
var transitions = map[models.StreamState]map[trigger]models.StreamState{
	models.StreamInitializing: {
		{Kind: KindEvent, Event: EventSSRCCaptured}: models.StreamReady,
		{Kind: KindEvent, Event: EventSetupFailed}:  models.StreamError,
		{Kind: KindEvent, Event: EventSSRCTimeout}:  models.StreamError,
		{Kind: KindCommand, Command: CommandStop}:   models.StreamStopped,
	},
	models.StreamReady: {
		{Kind: KindEvent, Event: EventTranscoderReady}: models.StreamLive,
		{Kind: KindEvent, Event: EventProduceFailed}:   models.StreamError,
		{Kind: KindCommand, Command: CommandStop}:      models.StreamStopped,
	},
	models.StreamLive: {
		{Kind: KindEvent, Event: EventTranscoderDied}: models.StreamError,
		{Kind: KindEvent, Event: EventSFULost}:        models.StreamError,
		{Kind: KindEvent, Event: EventPortLost}:       models.StreamError,
		{Kind: KindEvent, Event: EventStatsFlat}:      models.StreamError,
		{Kind: KindCommand, Command: CommandStop}:     models.StreamStopped,
		{Kind: KindEvent, Event: EventStopReq}:         models.StreamStopped,
	},
	models.StreamStopped: {
		{Kind: KindCommand, Command: CommandStart}: models.StreamInitializing,
		{Kind: KindEvent, Event: eventStoppedTTL}:   models.StreamClosed,
	},
	models.StreamError: {
		{Kind: KindEvent, Event: eventRestartTimer}: models.StreamInitializing,
		{Kind: KindCommand, Command: CommandStop}:   models.StreamStopped,
	},
}

// Hooks lets the owning orchestrator react to state changes and message
// processing without the machine importing orchestrator-layer packages.
// Calls happen synchronously on the actor goroutine, in message order —
// callers that need to do blocking I/O should dispatch it asynchronously and
// feed the result back in as a new Event message.
type Hooks struct {
	// OnTransition fires after every accepted transition.
	OnTransition func(stream models.Stream, from, to models.StreamState, msg Message)
	// OnRejected fires when a message is rejected by the guards.
	OnRejected func(stream models.Stream, err *InvalidState)
	// OnRestartScheduled fires when an ERROR state schedules an automatic
	// retry, reporting the attempt number (1-based) and the chosen delay.
	OnRestartScheduled func(stream models.Stream, attempt int, delay time.Duration)
	// OnRestartsExhausted fires when MaxRestarts is reached and the stream is
	// about to be forced to CLOSED.
	OnRestartsExhausted func(stream models.Stream)
}

// Machine is the single-owner actor for one stream's lifecycle.
type Machine struct {
	logger *slog.Logger
	hooks  Hooks

	mailbox   chan Message
	done      chan struct{}
	closeOnce sync.Once

	mu           sync.Mutex
	stream       models.Stream
	restartCount int
	timers       []*time.Timer
}

// New starts the actor goroutine for stream and returns its handle. The
// caller owns feeding commands/events via Send; Close stops the actor and
// releases its timers.
func New(stream models.Stream, hooks Hooks, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Machine{
		logger:  logger,
		hooks:   hooks,
		mailbox: make(chan Message, 64),
		done:    make(chan struct{}),
		stream:  stream,
	}
	go m.run()
	return m
}

// Send enqueues a message for processing. It never blocks indefinitely: ctx
// cancellation or the actor having exited both unblock the call.
func (m *Machine) Send(ctx context.Context, msg Message) error {
	select {
	case m.mailbox <- msg:
		return nil
	case <-m.done:
		return fmt.Errorf("statemachine: actor for stream %s is closed", m.streamID())
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns a snapshot of the current Stream record.
func (m *Machine) State() models.Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream
}

// Close stops the actor loop and cancels any pending restart/TTL timers.
func (m *Machine) Close() {
	m.closeOnce.Do(func() { close(m.done) })
}

func (m *Machine) streamID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream.ID
}

func (m *Machine) run() {
	for {
		select {
		case msg := <-m.mailbox:
			m.process(msg)
			m.mu.Lock()
			terminal := m.stream.State.Terminal()
			m.mu.Unlock()
			if terminal {
				m.stopTimers()
				m.Close()
				return
			}
		case <-m.done:
			m.stopTimers()
			return
		}
	}
}

func (m *Machine) process(msg Message) {
	m.mu.Lock()
	current := m.stream.State
	m.mu.Unlock()

	// Delete is accepted from any non-terminal state, bypassing the table.
	if msg.Kind == KindCommand && msg.Command == CommandDelete && !current.Terminal() {
		m.apply(current, models.StreamClosed, msg)
		return
	}

	table, ok := transitions[current]
	if !ok {
		m.reject(current, msg)
		return
	}
	next, ok := table[msg.trigger()]
	if !ok {
		m.reject(current, msg)
		return
	}
	m.apply(current, next, msg)
}

func (m *Machine) apply(from, to models.StreamState, msg Message) {
	m.mu.Lock()
	m.stream.State = to
	m.stream.UpdatedAt = time.Now()
	if msg.Kind == KindEvent && (msg.Event == EventSetupFailed || msg.Event == EventSSRCTimeout ||
		msg.Event == EventProduceFailed || msg.Event == EventTranscoderDied ||
		msg.Event == EventSFULost || msg.Event == EventPortLost || msg.Event == EventStatsFlat) {
		m.stream.LastError = msg.Reason
	}
	if to == models.StreamInitializing {
		m.stream.LastError = ""
	}
	stream := m.stream
	m.mu.Unlock()

	// Any timer scheduled against the state we're leaving (a pending ERROR
	// restart, a STOPPED TTL) is obsolete the moment a new state is entered.
	m.stopTimers()

	if m.hooks.OnTransition != nil {
		m.hooks.OnTransition(stream, from, to, msg)
	}

	switch to {
	case models.StreamError:
		m.scheduleRestart(stream)
	case models.StreamStopped:
		m.scheduleStoppedTTL(stream)
	}
}

func (m *Machine) reject(from models.StreamState, msg Message) {
	err := &InvalidState{From: from, Message: msg}
	if m.hooks.OnRejected != nil {
		m.mu.Lock()
		stream := m.stream
		m.mu.Unlock()
		m.hooks.OnRejected(stream, err)
	}
	m.logger.Warn("statemachine: rejected message", "stream_id", m.streamID(), "from", from, "error", err)
}

func (m *Machine) scheduleRestart(stream models.Stream) {
	m.mu.Lock()
	m.restartCount++
	attempt := m.restartCount
	m.mu.Unlock()

	if attempt > MaxRestarts {
		if m.hooks.OnRestartsExhausted != nil {
			m.hooks.OnRestartsExhausted(stream)
		}
		// Force closure directly; retries are exhausted per spec.md §4.3.
		select {
		case m.mailbox <- Message{Kind: KindCommand, Command: CommandDelete}:
		case <-m.done:
		}
		return
	}

	delay := RestartBackoff[len(RestartBackoff)-1]
	if attempt-1 < len(RestartBackoff) {
		delay = RestartBackoff[attempt-1]
	}
	if m.hooks.OnRestartScheduled != nil {
		m.hooks.OnRestartScheduled(stream, attempt, delay)
	}

	timer := time.AfterFunc(delay, func() {
		select {
		case m.mailbox <- Message{Kind: KindEvent, Event: eventRestartTimer}:
		case <-m.done:
		}
	})
	m.mu.Lock()
	m.timers = append(m.timers, timer)
	m.mu.Unlock()
}

func (m *Machine) scheduleStoppedTTL(stream models.Stream) {
	timer := time.AfterFunc(StoppedTTL, func() {
		select {
		case m.mailbox <- Message{Kind: KindEvent, Event: eventStoppedTTL}:
		case <-m.done:
		}
	})
	m.mu.Lock()
	m.timers = append(m.timers, timer)
	m.mu.Unlock()
}

func (m *Machine) stopTimers() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.timers {
		t.Stop()
	}
	m.timers = nil
}

// ResetRestartCount is called by the orchestrator once a restarted stream
// reaches READY, so a later unrelated failure gets the full retry budget
// again rather than inheriting an exhausted counter.
func (m *Machine) ResetRestartCount() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restartCount = 0
}
