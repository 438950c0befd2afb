package repository

import (
    "context"
    "database/sql"
    "time"

    "github.com/iliyamo/vcpool/internal/database"
    "github.com/iliyamo/vcpool/internal/model"
)

// PoolRepo provides persistence for vc_pools.  Status writes are guarded by
// the expected current status so a stale caller can never overwrite a
// transition made by someone else.  All timestamps are UTC and supplied by
// the caller.
type PoolRepo struct {
    db      *sql.DB
    dialect database.Dialect
}

// NewPoolRepo returns a PoolRepo bound to db.
func NewPoolRepo(db *sql.DB, d database.Dialect) *PoolRepo {
    return &PoolRepo{db: db, dialect: d}
}

// DB exposes the underlying handle so services can open transactions.
func (r *PoolRepo) DB() *sql.DB { return r.db }

const poolColumns = `id, name, status, max_members, contribution_amount, coin_type, pool_fee_percent,
    payment_window_minutes, admin_settlement_address, created_by, started_at, closed_at, created_at, updated_at`

func scanPool(s rowScanner) (*model.Pool, error) {
    var p model.Pool
    var started, closed sql.NullTime
    if err := s.Scan(
        &p.ID, &p.Name, &p.Status, &p.MaxMembers, &p.ContributionAmount, &p.CoinType, &p.PoolFeePercent,
        &p.PaymentWindowMinutes, &p.AdminSettlementAddress, &p.CreatedBy, &started, &closed,
        &p.CreatedAt, &p.UpdatedAt,
    ); err != nil {
        return nil, err
    }
    if started.Valid {
        t := started.Time.UTC()
        p.StartedAt = &t
    }
    if closed.Valid {
        t := closed.Time.UTC()
        p.ClosedAt = &t
    }
    p.CreatedAt = p.CreatedAt.UTC()
    p.UpdatedAt = p.UpdatedAt.UTC()
    return &p, nil
}

// Create inserts a pool and populates its ID.
func (r *PoolRepo) Create(ctx context.Context, p *model.Pool) error {
    const q = `INSERT INTO vc_pools (name, status, max_members, contribution_amount, coin_type, pool_fee_percent,
        payment_window_minutes, admin_settlement_address, created_by, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
    res, err := r.db.ExecContext(ctx, q,
        p.Name, string(p.Status), p.MaxMembers, p.ContributionAmount, p.CoinType, p.PoolFeePercent,
        p.PaymentWindowMinutes, p.AdminSettlementAddress, p.CreatedBy, p.CreatedAt, p.UpdatedAt,
    )
    if err != nil {
        return err
    }
    id, err := res.LastInsertId()
    if err != nil {
        return err
    }
    p.ID = id
    return nil
}

// GetByID fetches a pool without locking it.
func (r *PoolRepo) GetByID(ctx context.Context, id int64) (*model.Pool, error) {
    p, err := scanPool(r.db.QueryRowContext(ctx, `SELECT `+poolColumns+` FROM vc_pools WHERE id = ?`, id))
    return p, notFound(err)
}

// GetForUpdateTx fetches a pool and takes its row lock for the rest of the
// transaction.  Every seat-capacity mutation starts here, which serializes
// them per pool.
func (r *PoolRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id int64) (*model.Pool, error) {
    q := `SELECT ` + poolColumns + ` FROM vc_pools WHERE id = ?` + r.dialect.ForUpdate
    p, err := scanPool(tx.QueryRowContext(ctx, q, id))
    return p, notFound(err)
}

// UpdateDraft overwrites the editable fields of a pool that is still a
// draft.  ErrConflict is returned once the pool has been published.
func (r *PoolRepo) UpdateDraft(ctx context.Context, p *model.Pool) error {
    const q = `UPDATE vc_pools SET name = ?, max_members = ?, contribution_amount = ?, coin_type = ?,
        pool_fee_percent = ?, payment_window_minutes = ?, admin_settlement_address = ?, updated_at = ?
        WHERE id = ? AND status = ?`
    res, err := r.db.ExecContext(ctx, q,
        p.Name, p.MaxMembers, p.ContributionAmount, p.CoinType, p.PoolFeePercent,
        p.PaymentWindowMinutes, p.AdminSettlementAddress, p.UpdatedAt, p.ID, string(model.PoolDraft),
    )
    if err != nil {
        return err
    }
    ok, err := affected(res)
    if err != nil {
        return err
    }
    if !ok {
        return ErrConflict
    }
    return nil
}

// UpdateStatusTx moves a pool from one status to another.  The row must
// still be in `from`; otherwise ErrConflict is returned.  started_at is
// stamped on activation and closed_at on completion or cancellation.
func (r *PoolRepo) UpdateStatusTx(ctx context.Context, tx *sql.Tx, id int64, from, to model.PoolStatus, now time.Time) error {
    q := `UPDATE vc_pools SET status = ?, updated_at = ?`
    args := []any{string(to), now}
    switch to {
    case model.PoolActive:
        q += `, started_at = ?`
        args = append(args, now)
    case model.PoolCompleted, model.PoolCancelled:
        q += `, closed_at = ?`
        args = append(args, now)
    }
    q += ` WHERE id = ? AND status = ?`
    args = append(args, id, string(from))
    res, err := tx.ExecContext(ctx, q, args...)
    if err != nil {
        return err
    }
    ok, err := affected(res)
    if err != nil {
        return err
    }
    if !ok {
        return ErrConflict
    }
    return nil
}

// List returns pools ordered by newest first.  When statuses is empty all
// pools are returned.
func (r *PoolRepo) List(ctx context.Context, statuses ...model.PoolStatus) ([]model.Pool, error) {
    q := `SELECT ` + poolColumns + ` FROM vc_pools`
    args := make([]any, 0, len(statuses))
    if len(statuses) > 0 {
        q += ` WHERE status IN ` + inClause(len(statuses))
        for _, s := range statuses {
            args = append(args, string(s))
        }
    }
    q += ` ORDER BY created_at DESC, id DESC`
    rows, err := r.db.QueryContext(ctx, q, args...)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    pools := make([]model.Pool, 0)
    for rows.Next() {
        p, err := scanPool(rows)
        if err != nil {
            return nil, err
        }
        pools = append(pools, *p)
    }
    return pools, rows.Err()
}
