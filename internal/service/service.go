// Package service implements the pool lifecycle, seat reservations,
// payment submissions and their verification on top of the repositories.
//
// Every seat-capacity mutation runs in one transaction that first locks the
// pool row, then the reservation, then the submission.  Domain events are
// collected while the transaction runs and published only after it
// commits; object storage I/O never happens while a lock is held.
package service

import (
    "context"
    "database/sql"
    "fmt"
    "io"
    "log"
    "time"

    "github.com/iliyamo/vcpool/internal/database"
    "github.com/iliyamo/vcpool/internal/queue"
    "github.com/iliyamo/vcpool/internal/repository"
)

// Clock returns the current time.  Services truncate it to whole seconds
// in UTC before use.
type Clock func() time.Time

// EventPublisher receives domain events after commit.
type EventPublisher interface {
    Publish(ctx context.Context, ev queue.PoolEvent) error
}

// ObjectStore keeps payment evidence and hands back an opaque reference.
type ObjectStore interface {
    Upload(ctx context.Context, name, contentType string, r io.Reader) (string, error)
}

// Options configures New.  Nil fields fall back to no-op implementations
// and time.Now.
type Options struct {
    Clock       Clock
    Events      EventPublisher
    Evidence    ObjectStore
    ReaperBatch int
}

// Services bundles the pool components around one database.
type Services struct {
    Pools        *PoolRegistry
    Seats        *SeatReservationManager
    Submissions  *PaymentSubmissionService
    Verification *PaymentVerificationWorkflow
    Ledger       *MembershipLedger
    Reaper       *ExpiryReaper
    Status       *StatusReader
}

// New wires every component against db.
func New(db *sql.DB, d database.Dialect, opts Options) *Services {
    if opts.Clock == nil {
        opts.Clock = time.Now
    }
    if opts.Events == nil {
        opts.Events = nopPublisher{}
    }
    b := &base{
        db:           db,
        pools:        repository.NewPoolRepo(db, d),
        reservations: repository.NewReservationRepo(db, d),
        submissions:  repository.NewSubmissionRepo(db, d),
        memberships:  repository.NewMembershipRepo(db),
        events:       opts.Events,
        clock:        opts.Clock,
    }
    ledger := &MembershipLedger{base: b}
    registry := &PoolRegistry{base: b}
    seats := &SeatReservationManager{base: b, registry: registry}
    s := &Services{
        Pools:        registry,
        Seats:        seats,
        Submissions:  &PaymentSubmissionService{base: b, store: opts.Evidence},
        Verification: &PaymentVerificationWorkflow{base: b, seats: seats, ledger: ledger},
        Ledger:       ledger,
        Reaper:       &ExpiryReaper{base: b, seats: seats, batch: opts.ReaperBatch},
        Status:       &StatusReader{base: b},
    }
    if s.Reaper.batch <= 0 {
        s.Reaper.batch = 100
    }
    return s
}

type base struct {
    db           *sql.DB
    pools        *repository.PoolRepo
    reservations *repository.ReservationRepo
    submissions  *repository.SubmissionRepo
    memberships  *repository.MembershipRepo
    events       EventPublisher
    clock        Clock
}

func (b *base) now() time.Time {
    return b.clock().UTC().Truncate(time.Second)
}

// unit is the state of one running transaction.
type unit struct {
    tx     *sql.Tx
    now    time.Time
    events []queue.PoolEvent
}

func (u *unit) emit(ev queue.PoolEvent) {
    ev.OccurredAt = u.now.Format(time.RFC3339)
    u.events = append(u.events, ev)
}

// run executes fn in a transaction.  fn must only use u.tx for database
// access.  Events emitted by fn are published once the commit succeeds and
// dropped on rollback.
func (b *base) run(ctx context.Context, fn func(u *unit) error) error {
    tx, err := b.db.BeginTx(ctx, nil)
    if err != nil {
        return fmt.Errorf("begin tx: %w", err)
    }
    committed := false
    defer func() {
        if !committed {
            _ = tx.Rollback()
        }
    }()
    u := &unit{tx: tx, now: b.now()}
    if err := fn(u); err != nil {
        return err
    }
    if err := tx.Commit(); err != nil {
        return fmt.Errorf("commit: %w", err)
    }
    committed = true
    b.publish(ctx, u.events)
    return nil
}

func (b *base) publish(ctx context.Context, events []queue.PoolEvent) {
    for _, ev := range events {
        if err := b.events.Publish(ctx, ev); err != nil {
            log.Printf("[WARN] publish %s for pool %d: %v", ev.Type, ev.PoolID, err)
        }
    }
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, queue.PoolEvent) error { return nil }
