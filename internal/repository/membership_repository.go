package repository

import (
    "context"
    "database/sql"

    "github.com/iliyamo/vcpool/internal/model"
)

// MembershipRepo persists vc_memberships.  Rows are insert-only; there is
// no update or delete path.
type MembershipRepo struct {
    db *sql.DB
}

// NewMembershipRepo returns a MembershipRepo bound to db.
func NewMembershipRepo(db *sql.DB) *MembershipRepo { return &MembershipRepo{db: db} }

const membershipColumns = `id, pool_id, user_id, reservation_id, submission_id, investment_amount, pool_fee_amount,
    total_amount, share_percent, joined_at`

func scanMembership(s rowScanner) (*model.Membership, error) {
    var m model.Membership
    if err := s.Scan(
        &m.ID, &m.PoolID, &m.UserID, &m.ReservationID, &m.SubmissionID, &m.InvestmentAmount,
        &m.PoolFeeAmount, &m.TotalAmount, &m.SharePercent, &m.JoinedAt,
    ); err != nil {
        return nil, err
    }
    m.JoinedAt = m.JoinedAt.UTC()
    return &m, nil
}

// CreateTx inserts a membership.  The unique key on reservation_id makes a
// second insert for the same reservation fail.
func (r *MembershipRepo) CreateTx(ctx context.Context, tx *sql.Tx, m *model.Membership) error {
    const q = `INSERT INTO vc_memberships (pool_id, user_id, reservation_id, submission_id, investment_amount,
        pool_fee_amount, total_amount, share_percent, joined_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
    res, err := tx.ExecContext(ctx, q,
        m.PoolID, m.UserID, m.ReservationID, m.SubmissionID, m.InvestmentAmount,
        m.PoolFeeAmount, m.TotalAmount, m.SharePercent, m.JoinedAt,
    )
    if err != nil {
        return err
    }
    id, err := res.LastInsertId()
    if err != nil {
        return err
    }
    m.ID = id
    return nil
}

// GetByReservationTx returns the membership created from a reservation.
func (r *MembershipRepo) GetByReservationTx(ctx context.Context, tx *sql.Tx, reservationID int64) (*model.Membership, error) {
    m, err := scanMembership(tx.QueryRowContext(ctx,
        `SELECT `+membershipColumns+` FROM vc_memberships WHERE reservation_id = ?`, reservationID))
    return m, notFound(err)
}

// GetByUser returns the user's membership in a pool.
func (r *MembershipRepo) GetByUser(ctx context.Context, poolID, userID int64) (*model.Membership, error) {
    m, err := scanMembership(r.db.QueryRowContext(ctx,
        `SELECT `+membershipColumns+` FROM vc_memberships WHERE pool_id = ? AND user_id = ? ORDER BY id LIMIT 1`,
        poolID, userID))
    return m, notFound(err)
}

// ListByPool returns a pool's members in join order.
func (r *MembershipRepo) ListByPool(ctx context.Context, poolID int64) ([]model.Membership, error) {
    return r.listByPool(ctx, r.db, poolID)
}

// ListByPoolTx is ListByPool inside a transaction, used when computing
// shares under the pool lock.
func (r *MembershipRepo) ListByPoolTx(ctx context.Context, tx *sql.Tx, poolID int64) ([]model.Membership, error) {
    return r.listByPool(ctx, tx, poolID)
}

func (r *MembershipRepo) listByPool(ctx context.Context, q querier, poolID int64) ([]model.Membership, error) {
    rows, err := q.QueryContext(ctx,
        `SELECT `+membershipColumns+` FROM vc_memberships WHERE pool_id = ? ORDER BY joined_at, id`, poolID)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    out := make([]model.Membership, 0)
    for rows.Next() {
        m, err := scanMembership(rows)
        if err != nil {
            return nil, err
        }
        out = append(out, *m)
    }
    return out, rows.Err()
}
