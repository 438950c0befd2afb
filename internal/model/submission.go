package model

import (
    "time"

    "github.com/shopspring/decimal"
)

// SubmissionStatus is the review state of a payment submission.
type SubmissionStatus string

const (
    SubmissionPending    SubmissionStatus = "pending"
    SubmissionProcessing SubmissionStatus = "processing"
    SubmissionVerified   SubmissionStatus = "verified"
    SubmissionRejected   SubmissionStatus = "rejected"
)

// SubmissionMachine: pending → processing → {verified, rejected}.  A pending
// submission may also be rejected outright.
var SubmissionMachine = NewMachine("submission", ErrInvalidSubmissionTransition, map[SubmissionStatus][]SubmissionStatus{
    SubmissionPending:    {SubmissionProcessing, SubmissionRejected},
    SubmissionProcessing: {SubmissionVerified, SubmissionRejected},
})

// PaymentSubmission records one payment attempt against a reservation
// (1:1).  TotalAmount is always InvestmentAmount + PoolFeeAmount and
// PaymentDeadline mirrors the reservation's ExpiresAt.
type PaymentSubmission struct {
    ID                 int64            `json:"id"`
    ReservationID      int64            `json:"reservation_id"`
    PoolID             int64            `json:"pool_id"`
    UserID             int64            `json:"user_id"`
    PaymentMethod      PaymentMethod    `json:"payment_method"`
    InvestmentAmount   decimal.Decimal  `json:"investment_amount"`
    PoolFeeAmount      decimal.Decimal  `json:"pool_fee_amount"`
    TotalAmount        decimal.Decimal  `json:"total_amount"`
    CoinType           string           `json:"coin_type"`
    EvidenceReference  *string          `json:"evidence_reference,omitempty"`
    ProcessorReference *string          `json:"processor_reference,omitempty"`
    Status             SubmissionStatus `json:"status"`
    RejectionReason    *string          `json:"rejection_reason,omitempty"`
    ReviewedBy         *int64           `json:"reviewed_by,omitempty"`
    ReviewedAt         *time.Time       `json:"reviewed_at,omitempty"`
    PaymentDeadline    time.Time        `json:"payment_deadline"`
    CreatedAt          time.Time        `json:"created_at"`
    UpdatedAt          time.Time        `json:"updated_at"`
}

// Amounts computes investment, fee and total for one seat of p.  The fee
// percent is expressed in percent units.
func Amounts(p *Pool) (investment, fee, total decimal.Decimal) {
    investment = p.ContributionAmount
    fee = investment.Mul(p.PoolFeePercent).Div(decimal.NewFromInt(100))
    total = investment.Add(fee)
    return investment, fee, total
}
