package service

import (
    "context"
    "errors"
    "fmt"
    "io"

    "github.com/google/uuid"

    "github.com/iliyamo/vcpool/internal/model"
    "github.com/iliyamo/vcpool/internal/queue"
    "github.com/iliyamo/vcpool/internal/repository"
)

// Evidence is an uploaded proof of an off-platform transfer.
type Evidence struct {
    Name        string
    ContentType string
    Body        io.Reader
}

// PaymentSubmissionService records payment attempts against reservations.
// A reservation has at most one submission; submitting again returns the
// existing one.
type PaymentSubmissionService struct {
    *base
    store ObjectStore
}

// Submit records a payment for the caller's reservation.  Hosted-processor
// payments receive a processor reference and go straight to processing.
// Transfers stay pending until evidence is attached; when ev is given it
// is uploaded after the submission row commits and attached by reference.
// An upload failure returns ErrEvidenceUpload and leaves the submission
// pending.
func (s *PaymentSubmissionService) Submit(ctx context.Context, userID, reservationID int64, method model.PaymentMethod, ev *Evidence) (*model.PaymentSubmission, error) {
    res, err := s.reservations.GetByID(ctx, reservationID)
    if err != nil {
        return nil, err
    }
    if res.UserID != userID {
        return nil, ErrForbidden
    }
    if method == "" {
        method = res.PaymentMethod
    }
    if !method.Valid() || method != res.PaymentMethod {
        return nil, ErrInvalidPaymentMethod
    }

    var sub *model.PaymentSubmission
    err = s.run(ctx, func(u *unit) error {
        p, err := s.pools.GetForUpdateTx(ctx, u.tx, res.PoolID)
        if err != nil {
            return err
        }
        locked, err := s.lockActiveReservationTx(ctx, u, reservationID)
        if err != nil {
            return err
        }
        existing, err := s.submissions.GetByReservationTx(ctx, u.tx, locked.ID)
        if err == nil {
            sub = existing
            return nil
        }
        if !errors.Is(err, repository.ErrNotFound) {
            return fmt.Errorf("load submission: %w", err)
        }

        investment, fee, total := model.Amounts(p)
        sub = &model.PaymentSubmission{
            ReservationID:    locked.ID,
            PoolID:           p.ID,
            UserID:           userID,
            PaymentMethod:    method,
            InvestmentAmount: investment,
            PoolFeeAmount:    fee,
            TotalAmount:      total,
            CoinType:         p.CoinType,
            Status:           model.SubmissionPending,
            PaymentDeadline:  locked.ExpiresAt,
            CreatedAt:        u.now,
            UpdatedAt:        u.now,
        }
        if !method.RequiresEvidence() {
            ref := uuid.NewString()
            sub.ProcessorReference = &ref
            sub.Status = model.SubmissionProcessing
        }
        if err := s.submissions.CreateTx(ctx, u.tx, sub); err != nil {
            return fmt.Errorf("create submission: %w", err)
        }
        u.emit(queue.PoolEvent{
            Type: queue.EventSubmissionCreated, PoolID: p.ID, UserID: userID, ReservationID: locked.ID,
            SubmissionID: sub.ID, Status: string(sub.Status), Amount: total.String(), CoinType: p.CoinType,
        })
        return nil
    })
    if err != nil {
        return nil, err
    }

    if ev == nil || sub.Status != model.SubmissionPending {
        return sub, nil
    }
    return s.upload(ctx, sub, ev)
}

// AttachEvidence uploads proof for a pending transfer submission and moves
// it to processing.
func (s *PaymentSubmissionService) AttachEvidence(ctx context.Context, userID, submissionID int64, ev *Evidence) (*model.PaymentSubmission, error) {
    if ev == nil || ev.Body == nil {
        return nil, ErrEvidenceRequired
    }
    sub, err := s.submissions.GetByID(ctx, submissionID)
    if err != nil {
        return nil, err
    }
    if sub.UserID != userID {
        return nil, ErrForbidden
    }
    if !sub.PaymentMethod.RequiresEvidence() {
        return nil, fmt.Errorf("%w: %s payments carry no evidence", ErrInvalidPaymentMethod, sub.PaymentMethod)
    }
    if sub.Status != model.SubmissionPending {
        _, err := model.SubmissionMachine.Transition(sub.Status, model.SubmissionProcessing)
        return nil, err
    }
    return s.upload(ctx, sub, ev)
}

// Get returns a submission visible to userID.
func (s *PaymentSubmissionService) Get(ctx context.Context, userID, submissionID int64) (*model.PaymentSubmission, error) {
    sub, err := s.submissions.GetByID(ctx, submissionID)
    if err != nil {
        return nil, err
    }
    if sub.UserID != userID {
        return nil, ErrForbidden
    }
    return sub, nil
}

// upload stores the evidence outside any transaction, then attaches the
// reference under the pool, reservation and submission locks.
func (s *PaymentSubmissionService) upload(ctx context.Context, sub *model.PaymentSubmission, ev *Evidence) (*model.PaymentSubmission, error) {
    if s.store == nil {
        return nil, fmt.Errorf("%w: no evidence store configured", ErrEvidenceUpload)
    }
    ref, err := s.store.Upload(ctx, ev.Name, ev.ContentType, ev.Body)
    if err != nil {
        return nil, fmt.Errorf("%w: %w", ErrEvidenceUpload, err)
    }

    var out *model.PaymentSubmission
    err = s.run(ctx, func(u *unit) error {
        if _, err := s.pools.GetForUpdateTx(ctx, u.tx, sub.PoolID); err != nil {
            return err
        }
        if _, err := s.lockActiveReservationTx(ctx, u, sub.ReservationID); err != nil {
            return err
        }
        cur, err := s.submissions.GetForUpdateTx(ctx, u.tx, sub.ID)
        if err != nil {
            return err
        }
        if _, err := model.SubmissionMachine.Transition(cur.Status, model.SubmissionProcessing); err != nil {
            return err
        }
        ok, err := s.submissions.AttachEvidenceTx(ctx, u.tx, cur.ID, ref, u.now)
        if err != nil {
            return fmt.Errorf("attach evidence: %w", err)
        }
        if !ok {
            return fmt.Errorf("%w: submission %d changed concurrently", ErrInvalidSubmissionTransition, cur.ID)
        }
        cur.EvidenceReference = &ref
        cur.Status = model.SubmissionProcessing
        cur.UpdatedAt = u.now
        u.emit(queue.PoolEvent{
            Type: queue.EventSubmissionProcessing, PoolID: cur.PoolID, UserID: cur.UserID,
            ReservationID: cur.ReservationID, SubmissionID: cur.ID, Status: string(cur.Status),
        })
        out = cur
        return nil
    })
    if err != nil {
        return nil, err
    }
    return out, nil
}

// lockActiveReservationTx locks a reservation and checks that it still
// holds its seat with time left on the payment window.
func (s *PaymentSubmissionService) lockActiveReservationTx(ctx context.Context, u *unit, reservationID int64) (*model.SeatReservation, error) {
    res, err := s.reservations.GetForUpdateTx(ctx, u.tx, reservationID)
    if err != nil {
        return nil, err
    }
    switch {
    case res.Status == model.ReservationConverted:
        return nil, ErrAlreadyMember
    case res.Status != model.ReservationReserved:
        return nil, fmt.Errorf("%w: reservation %d is %s", ErrReservationExpired, res.ID, res.Status)
    case res.Overdue(u.now):
        return nil, fmt.Errorf("%w: deadline %s passed", ErrReservationExpired, res.ExpiresAt.Format("2006-01-02T15:04:05Z"))
    }
    return res, nil
}
