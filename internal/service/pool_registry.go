package service

import (
    "context"
    "fmt"
    "strings"

    "github.com/shopspring/decimal"

    "github.com/iliyamo/vcpool/internal/model"
    "github.com/iliyamo/vcpool/internal/queue"
)

// PoolRegistry owns pool metadata and the pool status machine.  It never
// changes seat counts itself; open/full flips follow the counts maintained
// by the SeatReservationManager.
type PoolRegistry struct {
    *base
}

// DraftInput carries the editable pool fields.
type DraftInput struct {
    Name                   string          `json:"name"`
    MaxMembers             int             `json:"max_members"`
    ContributionAmount     decimal.Decimal `json:"contribution_amount"`
    CoinType               string          `json:"coin_type"`
    PoolFeePercent         decimal.Decimal `json:"pool_fee_percent"`
    PaymentWindowMinutes   int             `json:"payment_window_minutes"`
    AdminSettlementAddress string          `json:"admin_settlement_address"`
}

func (in DraftInput) validate() error {
    switch {
    case strings.TrimSpace(in.Name) == "":
        return fmt.Errorf("%w: name is required", ErrIncompletePool)
    case in.MaxMembers < 0, in.PaymentWindowMinutes < 0:
        return fmt.Errorf("%w: negative capacity or window", ErrIncompletePool)
    case in.ContributionAmount.IsNegative(), in.PoolFeePercent.IsNegative():
        return fmt.Errorf("%w: negative amount", ErrIncompletePool)
    case in.PoolFeePercent.GreaterThan(decimal.NewFromInt(100)):
        return fmt.Errorf("%w: fee above 100 percent", ErrIncompletePool)
    }
    return nil
}

func (in DraftInput) apply(p *model.Pool) {
    p.Name = strings.TrimSpace(in.Name)
    p.MaxMembers = in.MaxMembers
    p.ContributionAmount = in.ContributionAmount
    p.CoinType = strings.ToUpper(strings.TrimSpace(in.CoinType))
    p.PoolFeePercent = in.PoolFeePercent
    p.PaymentWindowMinutes = in.PaymentWindowMinutes
    p.AdminSettlementAddress = strings.TrimSpace(in.AdminSettlementAddress)
}

// CreateDraft stores a new pool in draft status.  Fields may be left
// empty and filled in later with UpdateDraft.
func (r *PoolRegistry) CreateDraft(ctx context.Context, adminID int64, in DraftInput) (*model.Pool, error) {
    if err := in.validate(); err != nil {
        return nil, err
    }
    now := r.now()
    p := &model.Pool{Status: model.PoolDraft, CreatedBy: adminID, CreatedAt: now, UpdatedAt: now}
    in.apply(p)
    if err := r.pools.Create(ctx, p); err != nil {
        return nil, fmt.Errorf("create pool: %w", err)
    }
    return p, nil
}

// UpdateDraft replaces the editable fields of a draft pool.  Published
// pools are immutable and yield ErrConflict.
func (r *PoolRegistry) UpdateDraft(ctx context.Context, id int64, in DraftInput) (*model.Pool, error) {
    if err := in.validate(); err != nil {
        return nil, err
    }
    p, err := r.pools.GetByID(ctx, id)
    if err != nil {
        return nil, err
    }
    if p.Status != model.PoolDraft {
        return nil, fmt.Errorf("%w: pool %d is %s", ErrConflict, id, p.Status)
    }
    in.apply(p)
    p.UpdatedAt = r.now()
    if err := r.pools.UpdateDraft(ctx, p); err != nil {
        return nil, err
    }
    return p, nil
}

// Publish opens a draft pool for reservations once every capacity and fee
// field is set.
func (r *PoolRegistry) Publish(ctx context.Context, id int64) (*model.Pool, error) {
    return r.transition(ctx, id, func(u *unit, p *model.Pool) error {
        if p.Status == model.PoolDraft && !p.Publishable() {
            return ErrIncompletePool
        }
        return r.moveTx(ctx, u, p, model.PoolOpen)
    })
}

// MarkFull flips an open pool to full.  The pool must have no free seat
// left, otherwise ErrConflict is returned.
func (r *PoolRegistry) MarkFull(ctx context.Context, id int64) (*model.Pool, error) {
    return r.transition(ctx, id, func(u *unit, p *model.Pool) error {
        held, err := r.heldSeatsTx(ctx, u, p.ID)
        if err != nil {
            return err
        }
        if held < p.MaxMembers {
            return fmt.Errorf("%w: %d of %d seats held", ErrConflict, held, p.MaxMembers)
        }
        return r.moveTx(ctx, u, p, model.PoolFull)
    })
}

// Reopen flips a full pool back to open.  It fails with ErrPoolFull while
// every seat is still held.
func (r *PoolRegistry) Reopen(ctx context.Context, id int64) (*model.Pool, error) {
    return r.transition(ctx, id, func(u *unit, p *model.Pool) error {
        held, err := r.heldSeatsTx(ctx, u, p.ID)
        if err != nil {
            return err
        }
        if held >= p.MaxMembers {
            return ErrPoolFull
        }
        return r.moveTx(ctx, u, p, model.PoolOpen)
    })
}

// Start activates an open or full pool.  At least one member must be
// verified.  Start never touches seats: it is refused with
// ErrPendingReviews while a held seat has a payment awaiting review, and
// with ErrActiveReservations while any other seat is still held inside its
// payment window.
func (r *PoolRegistry) Start(ctx context.Context, id int64) (*model.Pool, error) {
    return r.transition(ctx, id, func(u *unit, p *model.Pool) error {
        if _, err := model.PoolMachine.Transition(p.Status, model.PoolActive); err != nil {
            return err
        }
        verified, err := r.reservations.CountByStatusTx(ctx, u.tx, p.ID, model.ReservationConverted)
        if err != nil {
            return fmt.Errorf("count members: %w", err)
        }
        if verified < 1 {
            return ErrNoVerifiedMembers
        }
        reviewing, err := r.submissions.CountReviewableTx(ctx, u.tx, p.ID)
        if err != nil {
            return fmt.Errorf("count submissions: %w", err)
        }
        if reviewing > 0 {
            return fmt.Errorf("%w: %d in processing", ErrPendingReviews, reviewing)
        }
        held, err := r.reservations.CountByStatusTx(ctx, u.tx, p.ID, model.ReservationReserved)
        if err != nil {
            return fmt.Errorf("count reservations: %w", err)
        }
        if held > 0 {
            return fmt.Errorf("%w: %d reserved", ErrActiveReservations, held)
        }
        return r.moveTx(ctx, u, p, model.PoolActive)
    })
}

// Complete closes an active pool.
func (r *PoolRegistry) Complete(ctx context.Context, id int64) (*model.Pool, error) {
    return r.transition(ctx, id, func(u *unit, p *model.Pool) error {
        return r.moveTx(ctx, u, p, model.PoolCompleted)
    })
}

// Cancel aborts an active pool.
func (r *PoolRegistry) Cancel(ctx context.Context, id int64) (*model.Pool, error) {
    return r.transition(ctx, id, func(u *unit, p *model.Pool) error {
        return r.moveTx(ctx, u, p, model.PoolCancelled)
    })
}

// Get returns the pool with its live seat counts.
func (r *PoolRegistry) Get(ctx context.Context, id int64) (*model.PoolView, error) {
    p, err := r.pools.GetByID(ctx, id)
    if err != nil {
        return nil, err
    }
    return r.view(ctx, p)
}

// List returns pools in the given statuses, newest first, with their seat
// counts.  No statuses means every pool.
func (r *PoolRegistry) List(ctx context.Context, statuses ...model.PoolStatus) ([]model.PoolView, error) {
    pools, err := r.pools.List(ctx, statuses...)
    if err != nil {
        return nil, err
    }
    out := make([]model.PoolView, 0, len(pools))
    for i := range pools {
        v, err := r.view(ctx, &pools[i])
        if err != nil {
            return nil, err
        }
        out = append(out, *v)
    }
    return out, nil
}

func (r *PoolRegistry) view(ctx context.Context, p *model.Pool) (*model.PoolView, error) {
    verified, err := r.reservations.CountByStatus(ctx, p.ID, model.ReservationConverted)
    if err != nil {
        return nil, err
    }
    active, err := r.reservations.CountByStatus(ctx, p.ID, model.ReservationReserved)
    if err != nil {
        return nil, err
    }
    members, err := r.memberships.ListByPool(ctx, p.ID)
    if err != nil {
        return nil, err
    }
    total := decimal.Zero
    for _, m := range members {
        total = total.Add(m.InvestmentAmount)
    }
    available := p.MaxMembers - verified - active
    if available < 0 {
        available = 0
    }
    return &model.PoolView{
        Pool:               *p,
        VerifiedMembers:    verified,
        ActiveReservations: active,
        AvailableSeats:     available,
        TotalInvested:      total,
    }, nil
}

// transition locks the pool, runs fn and returns the pool as fn left it.
func (r *PoolRegistry) transition(ctx context.Context, id int64, fn func(u *unit, p *model.Pool) error) (*model.Pool, error) {
    var out *model.Pool
    err := r.run(ctx, func(u *unit) error {
        p, err := r.pools.GetForUpdateTx(ctx, u.tx, id)
        if err != nil {
            return err
        }
        if err := fn(u, p); err != nil {
            return err
        }
        out = p
        return nil
    })
    if err != nil {
        return nil, err
    }
    return out, nil
}

// moveTx applies one status edge to a locked pool.
func (r *PoolRegistry) moveTx(ctx context.Context, u *unit, p *model.Pool, to model.PoolStatus) error {
    from := p.Status
    if _, err := model.PoolMachine.Transition(from, to); err != nil {
        return err
    }
    if err := r.pools.UpdateStatusTx(ctx, u.tx, p.ID, from, to, u.now); err != nil {
        return fmt.Errorf("update pool %d: %w", p.ID, err)
    }
    p.Status = to
    p.UpdatedAt = u.now
    switch to {
    case model.PoolActive:
        t := u.now
        p.StartedAt = &t
    case model.PoolCompleted, model.PoolCancelled:
        t := u.now
        p.ClosedAt = &t
    }
    u.emit(queue.PoolEvent{Type: queue.EventPoolStatusChanged, PoolID: p.ID, Status: string(to)})
    return nil
}

// syncCapacityTx keeps the open/full flag in line with the held seat
// count.  It only acts on open or full pools.
func (r *PoolRegistry) syncCapacityTx(ctx context.Context, u *unit, p *model.Pool) error {
    if p.Status != model.PoolOpen && p.Status != model.PoolFull {
        return nil
    }
    held, err := r.heldSeatsTx(ctx, u, p.ID)
    if err != nil {
        return err
    }
    switch {
    case p.Status == model.PoolOpen && held >= p.MaxMembers:
        return r.moveTx(ctx, u, p, model.PoolFull)
    case p.Status == model.PoolFull && held < p.MaxMembers:
        return r.moveTx(ctx, u, p, model.PoolOpen)
    }
    return nil
}

func (r *PoolRegistry) heldSeatsTx(ctx context.Context, u *unit, poolID int64) (int, error) {
    n, err := r.reservations.CountByStatusTx(ctx, u.tx, poolID, model.ReservationReserved, model.ReservationConverted)
    if err != nil {
        return 0, fmt.Errorf("count seats: %w", err)
    }
    return n, nil
}
