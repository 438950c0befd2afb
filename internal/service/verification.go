package service

import (
    "context"
    "fmt"
    "strings"

    "github.com/iliyamo/vcpool/internal/model"
    "github.com/iliyamo/vcpool/internal/queue"
)

// PaymentVerificationWorkflow is the admin review step.  Approval
// finalizes a reservation into a membership; rejection releases the seat.
// Both lock pool, reservation and submission in that order and decide on
// the submission status read under the lock, so repeated or concurrent
// calls apply their effects exactly once.
type PaymentVerificationWorkflow struct {
    *base
    seats  *SeatReservationManager
    ledger *MembershipLedger
}

// Approve verifies a processing submission, converts its reservation and
// records the membership in one transaction.  Approving an already
// verified submission returns the existing membership.
func (w *PaymentVerificationWorkflow) Approve(ctx context.Context, adminID, submissionID int64) (*model.Membership, error) {
    head, err := w.submissions.GetByID(ctx, submissionID)
    if err != nil {
        return nil, err
    }
    var out *model.Membership
    err = w.run(ctx, func(u *unit) error {
        p, res, sub, err := w.lockTx(ctx, u, head)
        if err != nil {
            return err
        }
        if sub.Status == model.SubmissionVerified {
            out, err = w.memberships.GetByReservationTx(ctx, u.tx, res.ID)
            return err
        }
        if _, err := model.SubmissionMachine.Transition(sub.Status, model.SubmissionVerified); err != nil {
            return err
        }
        if res.Status != model.ReservationReserved {
            return fmt.Errorf("%w: reservation %d is %s", ErrReservationExpired, res.ID, res.Status)
        }
        ok, err := w.submissions.ReviewTx(ctx, u.tx, sub.ID, sub.Status, model.SubmissionVerified, nil, adminID, u.now)
        if err != nil {
            return fmt.Errorf("verify submission: %w", err)
        }
        if !ok {
            return fmt.Errorf("%w: submission %d changed concurrently", ErrInvalidSubmissionTransition, sub.ID)
        }
        sub.Status = model.SubmissionVerified
        if err := w.seats.convertTx(ctx, u, res); err != nil {
            return err
        }
        m, err := w.ledger.recordTx(ctx, u, p, res, sub)
        if err != nil {
            return err
        }
        u.emit(queue.PoolEvent{
            Type: queue.EventSubmissionVerified, PoolID: p.ID, UserID: sub.UserID, ReservationID: res.ID,
            SubmissionID: sub.ID, Status: string(sub.Status), Amount: sub.TotalAmount.String(), CoinType: sub.CoinType,
        })
        out = m
        return nil
    })
    if err != nil {
        return nil, err
    }
    return out, nil
}

// Reject marks a pending or processing submission as rejected and
// releases its seat with reason "rejected".  reason must not be blank.
// Rejecting an already rejected submission returns it unchanged.
func (w *PaymentVerificationWorkflow) Reject(ctx context.Context, adminID, submissionID int64, reason string) (*model.PaymentSubmission, error) {
    reason = strings.TrimSpace(reason)
    if reason == "" {
        return nil, ErrRejectionWithoutReason
    }
    head, err := w.submissions.GetByID(ctx, submissionID)
    if err != nil {
        return nil, err
    }
    var out *model.PaymentSubmission
    err = w.run(ctx, func(u *unit) error {
        p, res, sub, err := w.lockTx(ctx, u, head)
        if err != nil {
            return err
        }
        if sub.Status == model.SubmissionRejected {
            out = sub
            return nil
        }
        if _, err := model.SubmissionMachine.Transition(sub.Status, model.SubmissionRejected); err != nil {
            return err
        }
        ok, err := w.submissions.ReviewTx(ctx, u.tx, sub.ID, sub.Status, model.SubmissionRejected, &reason, adminID, u.now)
        if err != nil {
            return fmt.Errorf("reject submission: %w", err)
        }
        if !ok {
            return fmt.Errorf("%w: submission %d changed concurrently", ErrInvalidSubmissionTransition, sub.ID)
        }
        u.emit(queue.PoolEvent{
            Type: queue.EventSubmissionRejected, PoolID: p.ID, UserID: sub.UserID, ReservationID: res.ID,
            SubmissionID: sub.ID, Status: string(model.SubmissionRejected), Reason: reason,
        })
        if _, err := w.seats.releaseTx(ctx, u, p, res.ID, model.ReasonRejected); err != nil {
            return err
        }
        out, err = w.submissions.GetForUpdateTx(ctx, u.tx, sub.ID)
        return err
    })
    if err != nil {
        return nil, err
    }
    return out, nil
}

// ListSubmissions returns a pool's submissions for review.  Without
// statuses every submission is listed.
func (w *PaymentVerificationWorkflow) ListSubmissions(ctx context.Context, poolID int64, statuses ...model.SubmissionStatus) ([]model.PaymentSubmission, error) {
    if _, err := w.pools.GetByID(ctx, poolID); err != nil {
        return nil, err
    }
    return w.submissions.ListByPool(ctx, poolID, statuses...)
}

// ListReservations returns a pool's reservations, optionally filtered by
// status.
func (w *PaymentVerificationWorkflow) ListReservations(ctx context.Context, poolID int64, status model.ReservationStatus) ([]model.SeatReservation, error) {
    if _, err := w.pools.GetByID(ctx, poolID); err != nil {
        return nil, err
    }
    return w.reservations.ListByPool(ctx, poolID, status)
}

// GetSubmission returns any submission; admins are not scoped to a user.
func (w *PaymentVerificationWorkflow) GetSubmission(ctx context.Context, submissionID int64) (*model.PaymentSubmission, error) {
    return w.submissions.GetByID(ctx, submissionID)
}

func (w *PaymentVerificationWorkflow) lockTx(ctx context.Context, u *unit, head *model.PaymentSubmission) (*model.Pool, *model.SeatReservation, *model.PaymentSubmission, error) {
    p, err := w.pools.GetForUpdateTx(ctx, u.tx, head.PoolID)
    if err != nil {
        return nil, nil, nil, err
    }
    res, err := w.reservations.GetForUpdateTx(ctx, u.tx, head.ReservationID)
    if err != nil {
        return nil, nil, nil, err
    }
    sub, err := w.submissions.GetForUpdateTx(ctx, u.tx, head.ID)
    if err != nil {
        return nil, nil, nil, err
    }
    return p, res, sub, nil
}
