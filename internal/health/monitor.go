// Package health implements the Health Monitor described in spec.md §4.3's
// LIVE → ERROR guard: once a stream reaches LIVE, something has to keep
// watching the SFU's producer stats and the assigned port so a silently
// dead flow is caught instead of running forever.
//
// The ticker-worker shape is the same one cmd/server/session_purger.go uses
// for its background sweep: a ticker, a cancellable context, a
// sync.Once-guarded stop closure.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"bitriver-live/internal/sfu"
)

// EventKind is the condition the monitor observed.
type EventKind string

const (
	// EventStatsFlat fires when neither packets nor bytes moved across
	// consecutive polling windows (spec.md §4.3 "no media" condition).
	EventStatsFlat EventKind = "stats-flat"
	// EventSFULost fires when the producer stats call itself fails,
	// meaning the SFU has lost track of the producer.
	EventSFULost EventKind = "sfu-lost"
	// EventPortLost fires when the Port Broker no longer shows this stream
	// holding its assigned port.
	EventPortLost EventKind = "port-lost"
)

// Event is delivered to the orchestrator's callback; Reason is a
// human-readable diagnostic suitable for Stream.LastError.
type Event struct {
	Kind   EventKind
	Reason string
}

// StatsSource is the subset of the SFU Control Client the monitor polls.
type StatsSource interface {
	GetProducerStats(ctx context.Context, producerID string) (sfu.ProducerStats, error)
}

// PortHolder answers whether a stream still holds its assigned port,
// satisfied by *portbroker.Broker.
type PortHolder interface {
	HeldBy(streamID string) (int, bool)
}

// Config configures a Monitor for one stream's LIVE lifetime.
type Config struct {
	StreamID   string
	ProducerID string
	Port       int

	Stats      StatsSource
	PortBroker PortHolder
	Logger     *slog.Logger

	// Interval is the polling cadence. Defaults to 5s.
	Interval time.Duration
	// FlatPolls is how many consecutive unchanged polls constitute the "no
	// media" condition. Defaults to 3 (spec.md's health window).
	FlatPolls int

	OnEvent func(Event)

	newTicker tickerFactory // test hook
}

type ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

type tickerFactory func(time.Duration) ticker

const (
	defaultInterval  = 5 * time.Second
	defaultFlatPolls = 3
)

// Monitor polls one stream's producer stats and port ownership on a ticker
// and reports degraded conditions via Config.OnEvent.
type Monitor struct {
	cfg Config

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Start launches the monitor; call Stop to end it (e.g. when the stream
// leaves LIVE).
func Start(ctx context.Context, cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.FlatPolls <= 0 {
		cfg.FlatPolls = defaultFlatPolls
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.newTicker == nil {
		cfg.newTicker = func(d time.Duration) ticker { return timeTicker{t: time.NewTicker(d)} }
	}

	workerCtx, cancel := context.WithCancel(ctx)
	m := &Monitor{cfg: cfg, cancel: cancel, done: make(chan struct{})}

	go m.run(workerCtx)
	return m
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)
	tick := m.cfg.newTicker(m.cfg.Interval)
	defer tick.Stop()

	var lastPackets uint64
	var lastBytes uint64
	flatStreak := 0
	haveSample := false

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C():
			if holder, ok := m.cfg.PortBroker.HeldBy(m.cfg.StreamID); !ok || holder != m.cfg.Port {
				m.report(Event{Kind: EventPortLost, Reason: "assigned port no longer held by this stream"})
				return
			}

			stats, err := m.cfg.Stats.GetProducerStats(ctx, m.cfg.ProducerID)
			if err != nil {
				m.report(Event{Kind: EventSFULost, Reason: err.Error()})
				return
			}

			if haveSample && stats.PacketsReceived <= lastPackets && stats.RTPBytesReceived <= lastBytes {
				flatStreak++
			} else {
				flatStreak = 0
			}
			lastPackets = stats.PacketsReceived
			lastBytes = stats.RTPBytesReceived
			haveSample = true

			if flatStreak >= m.cfg.FlatPolls {
				m.report(Event{Kind: EventStatsFlat, Reason: "no packets or bytes received across health window"})
				return
			}
		}
	}
}

func (m *Monitor) report(evt Event) {
	if m.cfg.OnEvent != nil {
		m.cfg.OnEvent(evt)
	}
}

// Stop halts polling. Idempotent, safe to call multiple times.
func (m *Monitor) Stop() {
	m.once.Do(func() {
		m.cancel()
		<-m.done
	})
}
