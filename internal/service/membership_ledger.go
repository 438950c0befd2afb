package service

import (
    "context"
    "fmt"

    "github.com/shopspring/decimal"

    "github.com/iliyamo/vcpool/internal/model"
)

// shareScale is the number of decimal places kept on share_percent.
const shareScale = 6

var hundred = decimal.NewFromInt(100)

// MembershipLedger is the durable record of finalized members.  Rows are
// written once by the verification workflow and only read afterwards.
type MembershipLedger struct {
    *base
}

// SharePercent returns the share one contribution buys in p.  The
// denominator is the fully subscribed pool, so shares already granted
// never change and their sum stays at or below 100.
func SharePercent(p *model.Pool, investment decimal.Decimal) decimal.Decimal {
    capacity := p.ContributionAmount.Mul(decimal.NewFromInt(int64(p.MaxMembers)))
    if !capacity.IsPositive() {
        return decimal.Zero
    }
    return investment.Div(capacity).Mul(hundred).Truncate(shareScale)
}

// recordTx inserts the membership for a converted reservation.  It runs
// under the pool lock, so the running share total it reads is current.
func (l *MembershipLedger) recordTx(ctx context.Context, u *unit, p *model.Pool, res *model.SeatReservation, sub *model.PaymentSubmission) (*model.Membership, error) {
    members, err := l.memberships.ListByPoolTx(ctx, u.tx, p.ID)
    if err != nil {
        return nil, fmt.Errorf("list members: %w", err)
    }
    allocated := decimal.Zero
    for _, m := range members {
        allocated = allocated.Add(m.SharePercent)
    }
    share := SharePercent(p, sub.InvestmentAmount)
    if allocated.Add(share).GreaterThan(hundred) {
        return nil, fmt.Errorf("%w: %s allocated, %s requested", ErrShareOverflow, allocated, share)
    }
    m := &model.Membership{
        PoolID:           p.ID,
        UserID:           res.UserID,
        ReservationID:    res.ID,
        SubmissionID:     sub.ID,
        InvestmentAmount: sub.InvestmentAmount,
        PoolFeeAmount:    sub.PoolFeeAmount,
        TotalAmount:      sub.TotalAmount,
        SharePercent:     share,
        JoinedAt:         u.now,
    }
    if err := l.memberships.CreateTx(ctx, u.tx, m); err != nil {
        return nil, fmt.Errorf("create membership: %w", err)
    }
    return m, nil
}

// ListMembers returns the members of a pool in join order.
func (l *MembershipLedger) ListMembers(ctx context.Context, poolID int64) ([]model.Membership, error) {
    if _, err := l.pools.GetByID(ctx, poolID); err != nil {
        return nil, err
    }
    return l.memberships.ListByPool(ctx, poolID)
}

// GetMembership returns userID's membership in a pool.
func (l *MembershipLedger) GetMembership(ctx context.Context, poolID, userID int64) (*model.Membership, error) {
    return l.memberships.GetByUser(ctx, poolID, userID)
}
