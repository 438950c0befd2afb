package service

import (
    "context"
    "errors"
    "fmt"
    "time"

    "github.com/iliyamo/vcpool/internal/model"
    "github.com/iliyamo/vcpool/internal/queue"
    "github.com/iliyamo/vcpool/internal/repository"
)

// SeatReservationManager grants and releases time-bounded seat holds
// against a pool's capacity.  Every mutation runs under the pool row lock,
// so the count of reserved plus converted reservations never exceeds
// max_members.
type SeatReservationManager struct {
    *base
    registry *PoolRegistry
}

// Reserve holds a seat on an open pool for userID.  Overdue holds on the
// pool are reclaimed first so the capacity check sees the server clock.
// The new hold expires payment_window_minutes from now.
func (m *SeatReservationManager) Reserve(ctx context.Context, poolID, userID int64, method model.PaymentMethod) (*model.SeatReservation, error) {
    if !method.Valid() {
        return nil, ErrInvalidPaymentMethod
    }
    var out *model.SeatReservation
    err := m.run(ctx, func(u *unit) error {
        p, err := m.pools.GetForUpdateTx(ctx, u.tx, poolID)
        if err != nil {
            return err
        }
        if err := m.reclaimOverdueTx(ctx, u, p); err != nil {
            return err
        }
        switch p.Status {
        case model.PoolOpen:
        case model.PoolFull:
            return ErrPoolFull
        default:
            return fmt.Errorf("%w: pool %d is %s", ErrPoolNotOpen, p.ID, p.Status)
        }

        existing, err := m.reservations.FindByUserTx(ctx, u.tx, p.ID, userID,
            model.ReservationReserved, model.ReservationConverted)
        switch {
        case err == nil && existing.Status == model.ReservationConverted:
            return ErrAlreadyMember
        case err == nil:
            return ErrAlreadyReserved
        case !errors.Is(err, repository.ErrNotFound):
            return fmt.Errorf("find reservation: %w", err)
        }

        held, err := m.registry.heldSeatsTx(ctx, u, p.ID)
        if err != nil {
            return err
        }
        if held >= p.MaxMembers {
            return ErrPoolFull
        }

        res := &model.SeatReservation{
            PoolID:        p.ID,
            UserID:        userID,
            Status:        model.ReservationReserved,
            PaymentMethod: method,
            CreatedAt:     u.now,
            ExpiresAt:     u.now.Add(time.Duration(p.PaymentWindowMinutes) * time.Minute),
            UpdatedAt:     u.now,
        }
        if err := m.reservations.CreateTx(ctx, u.tx, res); err != nil {
            return fmt.Errorf("create reservation: %w", err)
        }
        u.emit(queue.PoolEvent{
            Type: queue.EventReservationCreated, PoolID: p.ID, UserID: userID,
            ReservationID: res.ID, Status: string(res.Status),
        })
        if err := m.registry.syncCapacityTx(ctx, u, p); err != nil {
            return err
        }
        out = res
        return nil
    })
    if err != nil {
        return nil, err
    }
    return out, nil
}

// Release frees a reserved seat.  A reason of "expired" ends the hold as
// expired, anything else as cancelled.  Releasing a reservation that is no
// longer reserved is a no-op and returns its current state.
func (m *SeatReservationManager) Release(ctx context.Context, reservationID int64, reason string) (*model.SeatReservation, error) {
    res, err := m.reservations.GetByID(ctx, reservationID)
    if err != nil {
        return nil, err
    }
    var out *model.SeatReservation
    err = m.run(ctx, func(u *unit) error {
        p, err := m.pools.GetForUpdateTx(ctx, u.tx, res.PoolID)
        if err != nil {
            return err
        }
        if _, err := m.releaseTx(ctx, u, p, reservationID, reason); err != nil {
            return err
        }
        out, err = m.reservations.GetForUpdateTx(ctx, u.tx, reservationID)
        return err
    })
    if err != nil {
        return nil, err
    }
    return out, nil
}

// releaseTx ends a reserved hold under the already locked pool p.  It
// reports false without error when the reservation had already left the
// reserved state, which makes concurrent releases by the reaper and an
// admin rejection converge on the first writer.
func (m *SeatReservationManager) releaseTx(ctx context.Context, u *unit, p *model.Pool, reservationID int64, reason string) (bool, error) {
    res, err := m.reservations.GetForUpdateTx(ctx, u.tx, reservationID)
    if err != nil {
        return false, err
    }
    if res.PoolID != p.ID {
        return false, fmt.Errorf("%w: reservation %d is not in pool %d", ErrConflict, res.ID, p.ID)
    }
    if res.Status != model.ReservationReserved {
        return false, nil
    }
    to, evType := model.ReservationCancelled, queue.EventReservationCancelled
    if reason == model.ReasonExpired {
        to, evType = model.ReservationExpired, queue.EventReservationExpired
    }
    if _, err := model.ReservationMachine.Transition(res.Status, to); err != nil {
        return false, err
    }
    ok, err := m.reservations.TransitionTx(ctx, u.tx, res.ID, res.Status, to, &reason, u.now)
    if err != nil {
        return false, fmt.Errorf("release reservation %d: %w", res.ID, err)
    }
    if !ok {
        return false, nil
    }
    u.emit(queue.PoolEvent{
        Type: evType, PoolID: p.ID, UserID: res.UserID, ReservationID: res.ID,
        Status: string(to), Reason: reason,
    })
    return true, m.registry.syncCapacityTx(ctx, u, p)
}

// convertTx retires a reserved seat permanently.  The caller holds the
// pool and reservation locks and writes the membership in the same
// transaction.
func (m *SeatReservationManager) convertTx(ctx context.Context, u *unit, res *model.SeatReservation) error {
    if _, err := model.ReservationMachine.Transition(res.Status, model.ReservationConverted); err != nil {
        return err
    }
    ok, err := m.reservations.TransitionTx(ctx, u.tx, res.ID, model.ReservationReserved, model.ReservationConverted, nil, u.now)
    if err != nil {
        return fmt.Errorf("convert reservation %d: %w", res.ID, err)
    }
    if !ok {
        return fmt.Errorf("%w: reservation %d changed concurrently", ErrInvalidReservationTransition, res.ID)
    }
    res.Status = model.ReservationConverted
    res.UpdatedAt = u.now
    return nil
}

// reclaimOverdueTx expires every reserved hold of p whose deadline has
// passed.
func (m *SeatReservationManager) reclaimOverdueTx(ctx context.Context, u *unit, p *model.Pool) error {
    overdue, err := m.reservations.ListOverdueTx(ctx, u.tx, p.ID, u.now)
    if err != nil {
        return fmt.Errorf("list overdue: %w", err)
    }
    for _, res := range overdue {
        if _, err := m.releaseTx(ctx, u, p, res.ID, model.ReasonExpired); err != nil {
            return err
        }
    }
    return nil
}
