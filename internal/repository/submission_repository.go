package repository

import (
    "context"
    "database/sql"
    "time"

    "github.com/iliyamo/vcpool/internal/database"
    "github.com/iliyamo/vcpool/internal/model"
)

// SubmissionRepo provides persistence for vc_payment_submissions.  Each
// reservation has at most one submission (unique reservation_id).  Status
// changes are guarded by the expected current status.
type SubmissionRepo struct {
    db      *sql.DB
    dialect database.Dialect
}

// NewSubmissionRepo returns a SubmissionRepo bound to db.
func NewSubmissionRepo(db *sql.DB, d database.Dialect) *SubmissionRepo {
    return &SubmissionRepo{db: db, dialect: d}
}

const submissionColumns = `id, reservation_id, pool_id, user_id, payment_method, investment_amount, pool_fee_amount,
    total_amount, coin_type, evidence_reference, processor_reference, status, rejection_reason, reviewed_by,
    reviewed_at, payment_deadline, created_at, updated_at`

func scanSubmission(s rowScanner) (*model.PaymentSubmission, error) {
    var sub model.PaymentSubmission
    var evidence, processor, reason sql.NullString
    var reviewer sql.NullInt64
    var reviewedAt sql.NullTime
    if err := s.Scan(
        &sub.ID, &sub.ReservationID, &sub.PoolID, &sub.UserID, &sub.PaymentMethod, &sub.InvestmentAmount,
        &sub.PoolFeeAmount, &sub.TotalAmount, &sub.CoinType, &evidence, &processor, &sub.Status, &reason,
        &reviewer, &reviewedAt, &sub.PaymentDeadline, &sub.CreatedAt, &sub.UpdatedAt,
    ); err != nil {
        return nil, err
    }
    sub.EvidenceReference = stringPtr(evidence)
    sub.ProcessorReference = stringPtr(processor)
    sub.RejectionReason = stringPtr(reason)
    if reviewer.Valid {
        v := reviewer.Int64
        sub.ReviewedBy = &v
    }
    if reviewedAt.Valid {
        t := reviewedAt.Time.UTC()
        sub.ReviewedAt = &t
    }
    sub.PaymentDeadline = sub.PaymentDeadline.UTC()
    sub.CreatedAt = sub.CreatedAt.UTC()
    sub.UpdatedAt = sub.UpdatedAt.UTC()
    return &sub, nil
}

// CreateTx inserts a submission and populates its ID.
func (r *SubmissionRepo) CreateTx(ctx context.Context, tx *sql.Tx, sub *model.PaymentSubmission) error {
    const q = `INSERT INTO vc_payment_submissions (reservation_id, pool_id, user_id, payment_method, investment_amount,
        pool_fee_amount, total_amount, coin_type, evidence_reference, processor_reference, status, payment_deadline,
        created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
    res, err := tx.ExecContext(ctx, q,
        sub.ReservationID, sub.PoolID, sub.UserID, string(sub.PaymentMethod), sub.InvestmentAmount,
        sub.PoolFeeAmount, sub.TotalAmount, sub.CoinType, nullString(sub.EvidenceReference),
        nullString(sub.ProcessorReference), string(sub.Status), sub.PaymentDeadline, sub.CreatedAt, sub.UpdatedAt,
    )
    if err != nil {
        return err
    }
    id, err := res.LastInsertId()
    if err != nil {
        return err
    }
    sub.ID = id
    return nil
}

// GetByID fetches a submission without locking it.
func (r *SubmissionRepo) GetByID(ctx context.Context, id int64) (*model.PaymentSubmission, error) {
    sub, err := scanSubmission(r.db.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM vc_payment_submissions WHERE id = ?`, id))
    return sub, notFound(err)
}

// GetForUpdateTx fetches a submission and locks its row.  Callers hold the
// pool and reservation locks already.
func (r *SubmissionRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id int64) (*model.PaymentSubmission, error) {
    q := `SELECT ` + submissionColumns + ` FROM vc_payment_submissions WHERE id = ?` + r.dialect.ForUpdate
    sub, err := scanSubmission(tx.QueryRowContext(ctx, q, id))
    return sub, notFound(err)
}

// GetByReservationTx returns the submission tied to a reservation, or
// ErrNotFound when none has been made yet.
func (r *SubmissionRepo) GetByReservationTx(ctx context.Context, tx *sql.Tx, reservationID int64) (*model.PaymentSubmission, error) {
    q := `SELECT ` + submissionColumns + ` FROM vc_payment_submissions WHERE reservation_id = ?` + r.dialect.ForUpdate
    sub, err := scanSubmission(tx.QueryRowContext(ctx, q, reservationID))
    return sub, notFound(err)
}

// GetByReservation is the read-only variant of GetByReservationTx.
func (r *SubmissionRepo) GetByReservation(ctx context.Context, reservationID int64) (*model.PaymentSubmission, error) {
    sub, err := scanSubmission(r.db.QueryRowContext(ctx,
        `SELECT `+submissionColumns+` FROM vc_payment_submissions WHERE reservation_id = ?`, reservationID))
    return sub, notFound(err)
}

// AttachEvidenceTx stores the evidence reference on a pending submission
// and moves it to processing.  It reports false when the submission was
// no longer pending.
func (r *SubmissionRepo) AttachEvidenceTx(ctx context.Context, tx *sql.Tx, id int64, ref string, now time.Time) (bool, error) {
    const q = `UPDATE vc_payment_submissions SET evidence_reference = ?, status = ?, updated_at = ?
        WHERE id = ? AND status = ?`
    res, err := tx.ExecContext(ctx, q, ref, string(model.SubmissionProcessing), now, id, string(model.SubmissionPending))
    if err != nil {
        return false, err
    }
    return affected(res)
}

// ReviewTx records an admin decision, moving the submission from `from` to
// `to`.  reason is stored for rejections and may be nil otherwise.
func (r *SubmissionRepo) ReviewTx(ctx context.Context, tx *sql.Tx, id int64, from, to model.SubmissionStatus, reason *string, reviewer int64, now time.Time) (bool, error) {
    const q = `UPDATE vc_payment_submissions SET status = ?, rejection_reason = ?, reviewed_by = ?, reviewed_at = ?, updated_at = ?
        WHERE id = ? AND status = ?`
    res, err := tx.ExecContext(ctx, q, string(to), nullString(reason), reviewer, now, now, id, string(from))
    if err != nil {
        return false, err
    }
    return affected(res)
}

// CountReviewableTx counts a pool's processing submissions whose
// reservation still holds its seat.  A submission left in processing after
// the reaper expired its reservation can no longer be approved and is not
// counted.
func (r *SubmissionRepo) CountReviewableTx(ctx context.Context, tx *sql.Tx, poolID int64) (int, error) {
    var n int
    err := tx.QueryRowContext(ctx,
        `SELECT COUNT(*) FROM vc_payment_submissions s
         JOIN vc_seat_reservations r ON r.id = s.reservation_id
         WHERE s.pool_id = ? AND s.status = ? AND r.status = ?`,
        poolID, string(model.SubmissionProcessing), string(model.ReservationReserved)).Scan(&n)
    return n, err
}

// ListByPool returns a pool's submissions, oldest first so reviewers work
// through them in arrival order.  With no statuses every submission is
// returned.
func (r *SubmissionRepo) ListByPool(ctx context.Context, poolID int64, statuses ...model.SubmissionStatus) ([]model.PaymentSubmission, error) {
    q := `SELECT ` + submissionColumns + ` FROM vc_payment_submissions WHERE pool_id = ?`
    args := []any{poolID}
    if len(statuses) > 0 {
        q += ` AND status IN ` + inClause(len(statuses))
        for _, s := range statuses {
            args = append(args, string(s))
        }
    }
    q += ` ORDER BY created_at, id`
    rows, err := r.db.QueryContext(ctx, q, args...)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    out := make([]model.PaymentSubmission, 0)
    for rows.Next() {
        sub, err := scanSubmission(rows)
        if err != nil {
            return nil, err
        }
        out = append(out, *sub)
    }
    return out, rows.Err()
}
