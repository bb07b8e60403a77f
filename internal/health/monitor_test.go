package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bitriver-live/internal/sfu"
)

type fakeTicker struct{ c chan time.Time }

func (f *fakeTicker) C() <-chan time.Time { return f.c }
func (f *fakeTicker) Stop()               {}

type fakeStats struct {
	mu    sync.Mutex
	stats []sfu.ProducerStats
	err   error
	idx   int
}

func (f *fakeStats) GetProducerStats(ctx context.Context, producerID string) (sfu.ProducerStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return sfu.ProducerStats{}, f.err
	}
	if f.idx >= len(f.stats) {
		return f.stats[len(f.stats)-1], nil
	}
	s := f.stats[f.idx]
	f.idx++
	return s, nil
}

type fakePortHolder struct {
	streamID string
	port     int
	held     bool
}

func (f fakePortHolder) HeldBy(streamID string) (int, bool) {
	if streamID == f.streamID && f.held {
		return f.port, true
	}
	return 0, false
}

func waitForEvent(t *testing.T, events chan Event) Event {
	t.Helper()
	select {
	case evt := <-events:
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestMonitorReportsStatsFlatAfterConsecutiveUnchangedPolls(t *testing.T) {
	tick := &fakeTicker{c: make(chan time.Time, 8)}
	events := make(chan Event, 1)
	stats := &fakeStats{stats: []sfu.ProducerStats{
		{PacketsReceived: 10, RTPBytesReceived: 1000},
		{PacketsReceived: 10, RTPBytesReceived: 1000},
		{PacketsReceived: 10, RTPBytesReceived: 1000},
		{PacketsReceived: 10, RTPBytesReceived: 1000},
	}}
	m := Start(context.Background(), Config{
		StreamID:   "stream-1",
		ProducerID: "producer-1",
		Port:       5000,
		Stats:      stats,
		PortBroker: fakePortHolder{streamID: "stream-1", port: 5000, held: true},
		FlatPolls:  3,
		OnEvent:    func(e Event) { events <- e },
		newTicker:  func(time.Duration) ticker { return tick },
	})
	defer m.Stop()

	for i := 0; i < 4; i++ {
		tick.c <- time.Now()
	}

	evt := waitForEvent(t, events)
	if evt.Kind != EventStatsFlat {
		t.Fatalf("expected EventStatsFlat, got %v", evt.Kind)
	}
}

func TestMonitorReportsSFULostOnStatsError(t *testing.T) {
	tick := &fakeTicker{c: make(chan time.Time, 2)}
	events := make(chan Event, 1)
	m := Start(context.Background(), Config{
		StreamID:   "stream-1",
		ProducerID: "producer-1",
		Port:       5000,
		Stats:      &fakeStats{err: errors.New("producer not found")},
		PortBroker: fakePortHolder{streamID: "stream-1", port: 5000, held: true},
		OnEvent:    func(e Event) { events <- e },
		newTicker:  func(time.Duration) ticker { return tick },
	})
	defer m.Stop()

	tick.c <- time.Now()
	evt := waitForEvent(t, events)
	if evt.Kind != EventSFULost {
		t.Fatalf("expected EventSFULost, got %v", evt.Kind)
	}
}

func TestMonitorReportsPortLostWhenBrokerDisagrees(t *testing.T) {
	tick := &fakeTicker{c: make(chan time.Time, 2)}
	events := make(chan Event, 1)
	m := Start(context.Background(), Config{
		StreamID:   "stream-1",
		ProducerID: "producer-1",
		Port:       5000,
		Stats:      &fakeStats{},
		PortBroker: fakePortHolder{streamID: "stream-1", port: 5000, held: false},
		OnEvent:    func(e Event) { events <- e },
		newTicker:  func(time.Duration) ticker { return tick },
	})
	defer m.Stop()

	tick.c <- time.Now()
	evt := waitForEvent(t, events)
	if evt.Kind != EventPortLost {
		t.Fatalf("expected EventPortLost, got %v", evt.Kind)
	}
}

func TestMonitorNoEventWhenStatsAdvance(t *testing.T) {
	tick := &fakeTicker{c: make(chan time.Time, 4)}
	events := make(chan Event, 1)
	stats := &fakeStats{stats: []sfu.ProducerStats{
		{PacketsReceived: 10, RTPBytesReceived: 1000},
		{PacketsReceived: 20, RTPBytesReceived: 2000},
		{PacketsReceived: 30, RTPBytesReceived: 3000},
	}}
	m := Start(context.Background(), Config{
		StreamID:   "stream-1",
		ProducerID: "producer-1",
		Port:       5000,
		Stats:      stats,
		PortBroker: fakePortHolder{streamID: "stream-1", port: 5000, held: true},
		FlatPolls:  2,
		OnEvent:    func(e Event) { events <- e },
		newTicker:  func(time.Duration) ticker { return tick },
	})

	for i := 0; i < 3; i++ {
		tick.c <- time.Now()
	}
	select {
	case evt := <-events:
		t.Fatalf("expected no event, got %v", evt.Kind)
	case <-time.After(100 * time.Millisecond):
	}
	m.Stop()
}
