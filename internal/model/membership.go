package model

import (
    "time"

    "github.com/shopspring/decimal"
)

// Membership is a finalized seat in a pool.  It is written once, when a
// payment is verified, and never updated.  ReservationID is unique so a
// reservation can be consumed only once.
type Membership struct {
    ID               int64           `json:"id"`
    PoolID           int64           `json:"pool_id"`
    UserID           int64           `json:"user_id"`
    ReservationID    int64           `json:"reservation_id"`
    SubmissionID     int64           `json:"submission_id"`
    InvestmentAmount decimal.Decimal `json:"investment_amount"`
    PoolFeeAmount    decimal.Decimal `json:"pool_fee_amount"`
    TotalAmount      decimal.Decimal `json:"total_amount"`
    SharePercent     decimal.Decimal `json:"share_percent"`
    JoinedAt         time.Time       `json:"joined_at"`
}
