package consumer

import (
	"context"
	"time"
)

// PendingTracker mirrors PENDING-consumer bookkeeping somewhere visible to
// every gateway instance, not just the one that accepted the attach_consumer
// call. The Registry's own ttlTimer remains authoritative for actually
// closing a consumer that never completes its handshake; the tracker only
// needs to answer "how many consumers are pending on this stream right now,
// across the fleet" for operators and for admission decisions made on a
// different instance than the one holding the PENDING consumer.
type PendingTracker interface {
	TrackPending(ctx context.Context, streamID, consumerID string, ttl time.Duration) error
	Untrack(ctx context.Context, streamID, consumerID string) error
	PendingCount(ctx context.Context, streamID string) (int64, error)
}

// noopPendingTracker is the default when no PendingTracker is configured:
// a single-instance deployment has no need for cross-process visibility.
type noopPendingTracker struct{}

func (noopPendingTracker) TrackPending(context.Context, string, string, time.Duration) error {
	return nil
}
func (noopPendingTracker) Untrack(context.Context, string, string) error { return nil }
func (noopPendingTracker) PendingCount(context.Context, string) (int64, error) {
	return 0, nil
}
