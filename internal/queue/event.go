// Package queue defines message payloads exchanged over the message broker
// together with the publisher and the audit consumer.
package queue

import "context"

// Event types carried on the pool.events queue.
const (
    EventReservationCreated   = "reservation.created"
    EventReservationExpired   = "reservation.expired"
    EventReservationCancelled = "reservation.cancelled"
    EventSubmissionCreated    = "submission.created"
    EventSubmissionProcessing = "submission.processing"
    EventSubmissionVerified   = "submission.verified"
    EventSubmissionRejected   = "submission.rejected"
    EventPoolStatusChanged    = "pool.status_changed"
)

// PoolEvent is published after a pool, reservation or submission change
// commits.  It carries enough information for downstream consumers to log,
// notify or trigger analytics without querying the primary database.
// Zero IDs are omitted.
type PoolEvent struct {
    Type          string `json:"type"`
    PoolID        int64  `json:"pool_id"`
    UserID        int64  `json:"user_id,omitempty"`
    ReservationID int64  `json:"reservation_id,omitempty"`
    SubmissionID  int64  `json:"submission_id,omitempty"`
    Status        string `json:"status,omitempty"`
    Reason        string `json:"reason,omitempty"`
    Amount        string `json:"amount,omitempty"`
    CoinType      string `json:"coin_type,omitempty"`
    OccurredAt    string `json:"occurred_at"`
}

// PublisherFunc adapts a function to the Publish method, letting callers
// layer work such as cache invalidation in front of a Publisher.
type PublisherFunc func(ctx context.Context, ev PoolEvent) error

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, ev PoolEvent) error { return f(ctx, ev) }
