package service

import (
    "context"
    "errors"

    "github.com/iliyamo/vcpool/internal/model"
    "github.com/iliyamo/vcpool/internal/repository"
)

// PoolStatusView is an investor's standing in one pool.  SecondsRemaining
// is computed from the server clock and is only set while the latest
// reservation still holds its seat.
type PoolStatusView struct {
    PoolID           int64                    `json:"pool_id"`
    PoolStatus       model.PoolStatus         `json:"pool_status"`
    Reservation      *model.SeatReservation   `json:"reservation,omitempty"`
    Submission       *model.PaymentSubmission `json:"submission,omitempty"`
    Membership       *model.Membership        `json:"membership,omitempty"`
    SecondsRemaining *int64                   `json:"seconds_remaining,omitempty"`
}

// StatusReader answers getStatus for investors.
type StatusReader struct {
    *base
}

// GetStatus returns userID's latest reservation on the pool with its
// submission and, once verified, the membership.
func (s *StatusReader) GetStatus(ctx context.Context, poolID, userID int64) (*PoolStatusView, error) {
    p, err := s.pools.GetByID(ctx, poolID)
    if err != nil {
        return nil, err
    }
    view := &PoolStatusView{PoolID: p.ID, PoolStatus: p.Status}

    res, err := s.reservations.LatestForUser(ctx, poolID, userID)
    switch {
    case errors.Is(err, repository.ErrNotFound):
    case err != nil:
        return nil, err
    default:
        view.Reservation = res
        sub, err := s.submissions.GetByReservation(ctx, res.ID)
        if err != nil && !errors.Is(err, repository.ErrNotFound) {
            return nil, err
        }
        view.Submission = sub
        if res.Status == model.ReservationReserved {
            left := int64(res.ExpiresAt.Sub(s.now()).Seconds())
            if left < 0 {
                left = 0
            }
            view.SecondsRemaining = &left
        }
    }

    m, err := s.memberships.GetByUser(ctx, poolID, userID)
    if err != nil && !errors.Is(err, repository.ErrNotFound) {
        return nil, err
    }
    view.Membership = m
    return view, nil
}
