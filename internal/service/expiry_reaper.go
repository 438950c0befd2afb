package service

import (
    "context"
    "fmt"
    "log"

    "github.com/iliyamo/vcpool/internal/model"
)

// SweepResult summarises one reaper pass.
type SweepResult struct {
    Scanned int `json:"scanned"`
    Expired int `json:"expired"`
    Skipped int `json:"skipped"`
    Failed  int `json:"failed"`
}

// ExpiryReaper reclaims reservations whose payment window elapsed without
// a verified payment.  It may run in several processes at once: every
// release re-checks the reservation under its locks and backs off when
// another actor changed it first.
type ExpiryReaper struct {
    *base
    seats *SeatReservationManager
    batch int
}

// Sweep expires every reserved reservation whose deadline is before now.
// Candidates are read in batches; each one is released in its own
// transaction so a single failure is logged and the sweep moves on.  The
// returned error is only set when candidates cannot be listed.
func (r *ExpiryReaper) Sweep(ctx context.Context) (SweepResult, error) {
    var total SweepResult
    now := r.now()
    for {
        rows, err := r.reservations.ListOverdue(ctx, now, r.batch)
        if err != nil {
            return total, fmt.Errorf("list overdue reservations: %w", err)
        }
        page := SweepResult{Scanned: len(rows)}
        for _, res := range rows {
            if err := ctx.Err(); err != nil {
                total = total.add(page)
                return total, err
            }
            released, err := r.reapOne(ctx, res)
            switch {
            case err != nil:
                page.Failed++
                log.Printf("[ERROR] reaper: release reservation %d (pool %d): %v", res.ID, res.PoolID, err)
            case released:
                page.Expired++
            default:
                page.Skipped++
            }
        }
        total = total.add(page)
        // A short page means the backlog is drained.  A page without a
        // single release would be read again unchanged.
        if len(rows) < r.batch || page.Expired+page.Skipped == 0 {
            break
        }
    }
    if total.Scanned > 0 {
        log.Printf("[INFO] reaper: scanned=%d expired=%d skipped=%d failed=%d",
            total.Scanned, total.Expired, total.Skipped, total.Failed)
    }
    return total, nil
}

func (r *ExpiryReaper) reapOne(ctx context.Context, res model.SeatReservation) (bool, error) {
    var released bool
    err := r.run(ctx, func(u *unit) error {
        p, err := r.pools.GetForUpdateTx(ctx, u.tx, res.PoolID)
        if err != nil {
            return err
        }
        released, err = r.seats.releaseTx(ctx, u, p, res.ID, model.ReasonExpired)
        return err
    })
    return released, err
}

func (s SweepResult) add(o SweepResult) SweepResult {
    return SweepResult{
        Scanned: s.Scanned + o.Scanned,
        Expired: s.Expired + o.Expired,
        Skipped: s.Skipped + o.Skipped,
        Failed:  s.Failed + o.Failed,
    }
}
