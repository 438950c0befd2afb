package model

import "time"

// ReservationStatus is the state of a seat reservation.
type ReservationStatus string

const (
    ReservationReserved  ReservationStatus = "reserved"
    ReservationConverted ReservationStatus = "converted"
    ReservationExpired   ReservationStatus = "expired"
    ReservationCancelled ReservationStatus = "cancelled"
)

// ReservationMachine only lets a seat leave the reserved state; every other
// state is terminal.
var ReservationMachine = NewMachine("reservation", ErrInvalidReservationTransition, map[ReservationStatus][]ReservationStatus{
    ReservationReserved: {ReservationConverted, ReservationExpired, ReservationCancelled},
})

// Release reasons recorded on reservations leaving the reserved state
// without conversion.
const (
    ReasonExpired  = "expired"
    ReasonRejected = "rejected"
)

// PaymentMethod selects how a seat is paid for.
type PaymentMethod string

const (
    // PaymentTransfer is an off-platform transfer to the pool's
    // settlement address; proof of payment must be uploaded.
    PaymentTransfer PaymentMethod = "transfer"
    // PaymentHosted goes through a hosted payment processor; no
    // evidence is uploaded.
    PaymentHosted PaymentMethod = "hosted"
)

// Valid reports whether m is a known payment method.
func (m PaymentMethod) Valid() bool {
    return m == PaymentTransfer || m == PaymentHosted
}

// RequiresEvidence reports whether submissions with this method need an
// evidence reference before they can be reviewed.
func (m PaymentMethod) RequiresEvidence() bool { return m == PaymentTransfer }

// SeatReservation is a time-bounded hold on one seat of a pool.  Rows
// live in `vc_seat_reservations`.  ExpiresAt is always CreatedAt plus
// the pool's payment window and is the only deadline the server honours.
type SeatReservation struct {
    ID            int64             `json:"id"`
    PoolID        int64             `json:"pool_id"`
    UserID        int64             `json:"user_id"`
    Status        ReservationStatus `json:"status"`
    PaymentMethod PaymentMethod     `json:"payment_method"`
    ReleaseReason *string           `json:"release_reason,omitempty"`
    CreatedAt     time.Time         `json:"created_at"`
    ExpiresAt     time.Time         `json:"expires_at"`
    UpdatedAt     time.Time         `json:"updated_at"`
}

// Overdue reports whether the reservation's payment window has closed at now.
func (r *SeatReservation) Overdue(now time.Time) bool {
    return !now.Before(r.ExpiresAt)
}
