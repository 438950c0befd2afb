package model

import (
    "time"

    "github.com/shopspring/decimal"
)

// PoolStatus is the lifecycle state of a pool.
type PoolStatus string

const (
    PoolDraft     PoolStatus = "draft"
    PoolOpen      PoolStatus = "open"
    PoolFull      PoolStatus = "full"
    PoolActive    PoolStatus = "active"
    PoolCompleted PoolStatus = "completed"
    PoolCancelled PoolStatus = "cancelled"
)

// PoolMachine holds the legal pool status edges:
// draft→open, open⇄full, open/full→active, active→completed/cancelled.
var PoolMachine = NewMachine("pool", ErrInvalidPoolTransition, map[PoolStatus][]PoolStatus{
    PoolDraft:  {PoolOpen},
    PoolOpen:   {PoolFull, PoolActive},
    PoolFull:   {PoolOpen, PoolActive},
    PoolActive: {PoolCompleted, PoolCancelled},
})

// Pool is a capacity-constrained investment pool.  It corresponds to a
// row in the `vc_pools` table.
//
// Fields:
//  MaxMembers             – seat capacity; reservations in reserved or
//                           converted state never exceed it.
//  ContributionAmount     – amount each member invests.
//  PoolFeePercent         – fee charged on top of the contribution, in
//                           percent (5 means 5%).
//  PaymentWindowMinutes   – lifetime of a seat reservation.
//  AdminSettlementAddress – where off-platform transfers are sent.
type Pool struct {
    ID                     int64           `json:"id"`
    Name                   string          `json:"name"`
    Status                 PoolStatus      `json:"status"`
    MaxMembers             int             `json:"max_members"`
    ContributionAmount     decimal.Decimal `json:"contribution_amount"`
    CoinType               string          `json:"coin_type"`
    PoolFeePercent         decimal.Decimal `json:"pool_fee_percent"`
    PaymentWindowMinutes   int             `json:"payment_window_minutes"`
    AdminSettlementAddress string          `json:"admin_settlement_address"`
    CreatedBy              int64           `json:"created_by"`
    StartedAt              *time.Time      `json:"started_at,omitempty"`
    ClosedAt               *time.Time      `json:"closed_at,omitempty"`
    CreatedAt              time.Time       `json:"created_at"`
    UpdatedAt              time.Time       `json:"updated_at"`
}

// Publishable reports whether every field publish requires is set.
func (p *Pool) Publishable() bool {
    return p.MaxMembers > 0 &&
        p.ContributionAmount.IsPositive() &&
        !p.PoolFeePercent.IsNegative() &&
        p.PoolFeePercent.LessThan(decimal.NewFromInt(100)) &&
        p.PaymentWindowMinutes > 0 &&
        p.CoinType != "" &&
        p.AdminSettlementAddress != ""
}

// PoolView is a pool together with its seat accounting, computed in a
// single read.
type PoolView struct {
    Pool
    VerifiedMembers    int             `json:"verified_members_count"`
    ActiveReservations int             `json:"active_reservations_count"`
    AvailableSeats     int             `json:"available_seats"`
    TotalInvested      decimal.Decimal `json:"total_invested"`
}
