package statemachine

import (
	"context"
	"testing"
	"time"

	"bitriver-live/internal/models"
)

func newTestStream(id string) models.Stream {
	return models.Stream{ID: id, State: models.StreamInitializing, Codec: models.DefaultCodecConfig()}
}

func waitForState(t *testing.T, m *Machine, want models.StreamState, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if m.State().State == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s, last seen %s", want, m.State().State)
}

func TestHappyPathInitializingToLive(t *testing.T) {
	m := New(newTestStream("s1"), Hooks{}, nil)
	defer m.Close()
	ctx := context.Background()

	if err := m.Send(ctx, Message{Kind: KindEvent, Event: EventSSRCCaptured}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitForState(t, m, models.StreamReady, time.Second)

	if err := m.Send(ctx, Message{Kind: KindEvent, Event: EventTranscoderReady}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitForState(t, m, models.StreamLive, time.Second)
}

func TestInvalidTransitionIsRejected(t *testing.T) {
	var rejected *InvalidState
	done := make(chan struct{})
	m := New(newTestStream("s2"), Hooks{
		OnRejected: func(_ models.Stream, err *InvalidState) {
			rejected = err
			close(done)
		},
	}, nil)
	defer m.Close()

	// transcoder-ready is only valid from READY, not INITIALIZING.
	_ = m.Send(context.Background(), Message{Kind: KindEvent, Event: EventTranscoderReady})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected OnRejected to fire")
	}
	if rejected == nil || rejected.From != models.StreamInitializing {
		t.Fatalf("unexpected rejection: %+v", rejected)
	}
	if m.State().State != models.StreamInitializing {
		t.Fatalf("expected state to remain INITIALIZING, got %s", m.State().State)
	}
}

func TestDeleteAcceptedFromAnyNonTerminalState(t *testing.T) {
	m := New(newTestStream("s3"), Hooks{}, nil)
	if err := m.Send(context.Background(), Message{Kind: KindCommand, Command: CommandDelete}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitForState(t, m, models.StreamClosed, time.Second)
}

func TestErrorSchedulesRestartWithBackoff(t *testing.T) {
	origBackoff := RestartBackoff
	RestartBackoff = []time.Duration{5 * time.Millisecond, 10 * time.Millisecond, 20 * time.Millisecond}
	defer func() { RestartBackoff = origBackoff }()

	scheduled := make(chan int, 4)
	m := New(newTestStream("s4"), Hooks{
		OnRestartScheduled: func(_ models.Stream, attempt int, _ time.Duration) {
			scheduled <- attempt
		},
	}, nil)
	defer m.Close()

	if err := m.Send(context.Background(), Message{Kind: KindEvent, Event: EventSetupFailed, Reason: "boom"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case attempt := <-scheduled:
		if attempt != 1 {
			t.Fatalf("expected first restart attempt, got %d", attempt)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for restart to be scheduled")
	}

	waitForState(t, m, models.StreamInitializing, time.Second)
	if m.State().LastError != "" {
		t.Fatalf("expected last_error cleared on restart, got %q", m.State().LastError)
	}
}

func TestRestartsExhaustedForcesClose(t *testing.T) {
	origBackoff := RestartBackoff
	RestartBackoff = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}
	defer func() { RestartBackoff = origBackoff }()

	exhausted := make(chan struct{}, 1)
	restarted := make(chan struct{}, MaxRestarts)
	m := New(newTestStream("s5"), Hooks{
		OnTransition: func(_ models.Stream, _, to models.StreamState, _ Message) {
			if to == models.StreamInitializing {
				select {
				case restarted <- struct{}{}:
				default:
				}
			}
		},
		OnRestartsExhausted: func(models.Stream) {
			select {
			case exhausted <- struct{}{}:
			default:
			}
		},
	}, nil)
	defer m.Close()
	ctx := context.Background()

	// Each of the first MaxRestarts failures earns an automatic restart back
	// to INITIALIZING; the (MaxRestarts+1)th exhausts the budget and forces
	// the stream to CLOSED.
	for i := 0; i <= MaxRestarts; i++ {
		if err := m.Send(ctx, Message{Kind: KindEvent, Event: EventSetupFailed}); err != nil {
			t.Fatalf("Send attempt %d: %v", i, err)
		}
		if i < MaxRestarts {
			// The state reads INITIALIZING before this failure is processed
			// too, so wait for the restart transition itself.
			select {
			case <-restarted:
			case <-time.After(time.Second):
				t.Fatalf("timed out waiting for restart %d back to INITIALIZING", i+1)
			}
		}
	}

	select {
	case <-exhausted:
	case <-time.After(time.Second):
		t.Fatal("expected restarts-exhausted hook to fire")
	}
	waitForState(t, m, models.StreamClosed, time.Second)
}
