package repository

import (
    "context"
    "database/sql"
    "time"

    "github.com/iliyamo/vcpool/internal/database"
    "github.com/iliyamo/vcpool/internal/model"
)

// ReservationRepo provides persistence for vc_seat_reservations.  Status
// changes go through TransitionTx, a compare-and-swap on the current
// status, so the reaper, an admin rejection and an approval racing on the
// same row resolve to exactly one winner.  All timestamp fields are UTC.
type ReservationRepo struct {
    db      *sql.DB
    dialect database.Dialect
}

// NewReservationRepo returns a new ReservationRepo bound to the given database.
func NewReservationRepo(db *sql.DB, d database.Dialect) *ReservationRepo {
    return &ReservationRepo{db: db, dialect: d}
}

const reservationColumns = `id, pool_id, user_id, status, payment_method, release_reason, created_at, expires_at, updated_at`

func scanReservation(s rowScanner) (*model.SeatReservation, error) {
    var res model.SeatReservation
    var reason sql.NullString
    if err := s.Scan(
        &res.ID, &res.PoolID, &res.UserID, &res.Status, &res.PaymentMethod, &reason,
        &res.CreatedAt, &res.ExpiresAt, &res.UpdatedAt,
    ); err != nil {
        return nil, err
    }
    res.ReleaseReason = stringPtr(reason)
    res.CreatedAt = res.CreatedAt.UTC()
    res.ExpiresAt = res.ExpiresAt.UTC()
    res.UpdatedAt = res.UpdatedAt.UTC()
    return &res, nil
}

func collectReservations(rows *sql.Rows, err error) ([]model.SeatReservation, error) {
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    out := make([]model.SeatReservation, 0)
    for rows.Next() {
        res, err := scanReservation(rows)
        if err != nil {
            return nil, err
        }
        out = append(out, *res)
    }
    return out, rows.Err()
}

// CreateTx inserts a new reservation within the scope of an existing
// transaction and populates the generated ID.  The caller must hold the
// pool lock and commit or roll back the transaction.
func (r *ReservationRepo) CreateTx(ctx context.Context, tx *sql.Tx, res *model.SeatReservation) error {
    const q = `INSERT INTO vc_seat_reservations (pool_id, user_id, status, payment_method, created_at, expires_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`
    result, err := tx.ExecContext(ctx, q,
        res.PoolID, res.UserID, string(res.Status), string(res.PaymentMethod), res.CreatedAt, res.ExpiresAt, res.UpdatedAt)
    if err != nil {
        return err
    }
    id, err := result.LastInsertId()
    if err != nil {
        return err
    }
    res.ID = id
    return nil
}

// GetByID fetches a reservation without locking it.
func (r *ReservationRepo) GetByID(ctx context.Context, id int64) (*model.SeatReservation, error) {
    res, err := scanReservation(r.db.QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM vc_seat_reservations WHERE id = ?`, id))
    return res, notFound(err)
}

// GetForUpdateTx fetches a reservation and locks its row.  Callers take
// the pool lock first.
func (r *ReservationRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id int64) (*model.SeatReservation, error) {
    q := `SELECT ` + reservationColumns + ` FROM vc_seat_reservations WHERE id = ?` + r.dialect.ForUpdate
    res, err := scanReservation(tx.QueryRowContext(ctx, q, id))
    return res, notFound(err)
}

// CountByStatusTx counts a pool's reservations in the given statuses.
func (r *ReservationRepo) CountByStatusTx(ctx context.Context, tx *sql.Tx, poolID int64, statuses ...model.ReservationStatus) (int, error) {
    return r.countByStatus(ctx, tx, poolID, statuses...)
}

// CountByStatus is the non-transactional variant of CountByStatusTx used
// for read-only views.
func (r *ReservationRepo) CountByStatus(ctx context.Context, poolID int64, statuses ...model.ReservationStatus) (int, error) {
    return r.countByStatus(ctx, r.db, poolID, statuses...)
}

func (r *ReservationRepo) countByStatus(ctx context.Context, q querier, poolID int64, statuses ...model.ReservationStatus) (int, error) {
    if len(statuses) == 0 {
        return 0, nil
    }
    args := []any{poolID}
    for _, s := range statuses {
        args = append(args, string(s))
    }
    var n int
    err := q.QueryRowContext(ctx,
        `SELECT COUNT(*) FROM vc_seat_reservations WHERE pool_id = ? AND status IN `+inClause(len(statuses)),
        args...).Scan(&n)
    return n, err
}

// FindByUserTx returns the user's most recent reservation on the pool in
// one of the given statuses, or ErrNotFound.
func (r *ReservationRepo) FindByUserTx(ctx context.Context, tx *sql.Tx, poolID, userID int64, statuses ...model.ReservationStatus) (*model.SeatReservation, error) {
    args := []any{poolID, userID}
    for _, s := range statuses {
        args = append(args, string(s))
    }
    q := `SELECT ` + reservationColumns + ` FROM vc_seat_reservations
        WHERE pool_id = ? AND user_id = ? AND status IN ` + inClause(len(statuses)) + `
        ORDER BY id DESC LIMIT 1`
    res, err := scanReservation(tx.QueryRowContext(ctx, q, args...))
    return res, notFound(err)
}

// LatestForUser returns the user's most recent reservation on the pool
// regardless of status.
func (r *ReservationRepo) LatestForUser(ctx context.Context, poolID, userID int64) (*model.SeatReservation, error) {
    q := `SELECT ` + reservationColumns + ` FROM vc_seat_reservations
        WHERE pool_id = ? AND user_id = ? ORDER BY id DESC LIMIT 1`
    res, err := scanReservation(r.db.QueryRowContext(ctx, q, poolID, userID))
    return res, notFound(err)
}

// TransitionTx moves a reservation from `from` to `to` only if its status
// still equals `from`.  It reports whether the row changed; false means
// another actor got there first and the caller should treat the call as a
// no-op.
func (r *ReservationRepo) TransitionTx(ctx context.Context, tx *sql.Tx, id int64, from, to model.ReservationStatus, reason *string, now time.Time) (bool, error) {
    const q = `UPDATE vc_seat_reservations SET status = ?, release_reason = ?, updated_at = ?
        WHERE id = ? AND status = ?`
    res, err := tx.ExecContext(ctx, q, string(to), nullString(reason), now, id, string(from))
    if err != nil {
        return false, err
    }
    return affected(res)
}

// ListOverdueTx lists a pool's reserved rows whose deadline is at or
// before now.  Used under the pool lock.
func (r *ReservationRepo) ListOverdueTx(ctx context.Context, tx *sql.Tx, poolID int64, now time.Time) ([]model.SeatReservation, error) {
    q := `SELECT ` + reservationColumns + ` FROM vc_seat_reservations
        WHERE pool_id = ? AND status = ? AND expires_at <= ? ORDER BY id`
    return collectReservations(tx.QueryContext(ctx, q, poolID, string(model.ReservationReserved), now))
}

// ListOverdue returns up to limit reserved rows across all pools whose
// deadline passed before now, oldest deadline first.  The rows are not
// locked; each one is re-checked under its own locks before release.
func (r *ReservationRepo) ListOverdue(ctx context.Context, now time.Time, limit int) ([]model.SeatReservation, error) {
    q := `SELECT ` + reservationColumns + ` FROM vc_seat_reservations
        WHERE status = ? AND expires_at < ? ORDER BY expires_at, id LIMIT ?`
    return collectReservations(r.db.QueryContext(ctx, q, string(model.ReservationReserved), now, limit))
}

// ListByPool returns a pool's reservations, newest first.  An empty
// status lists every reservation.
func (r *ReservationRepo) ListByPool(ctx context.Context, poolID int64, status model.ReservationStatus) ([]model.SeatReservation, error) {
    q := `SELECT ` + reservationColumns + ` FROM vc_seat_reservations WHERE pool_id = ?`
    args := []any{poolID}
    if status != "" {
        q += ` AND status = ?`
        args = append(args, string(status))
    }
    q += ` ORDER BY id DESC`
    return collectReservations(r.db.QueryContext(ctx, q, args...))
}
