package service

import (
    "errors"

    "github.com/iliyamo/vcpool/internal/model"
    "github.com/iliyamo/vcpool/internal/repository"
)

// Errors returned by the pool services.  Handlers map them to HTTP status
// codes; wrap with fmt.Errorf and compare with errors.Is.
var (
    ErrPoolFull               = errors.New("pool is full")
    ErrAlreadyReserved        = errors.New("user already holds a reservation for this pool")
    ErrAlreadyMember          = errors.New("user is already a member of this pool")
    ErrPoolNotOpen            = errors.New("pool is not open for reservations")
    ErrReservationExpired     = errors.New("reservation is no longer active")
    ErrEvidenceUpload         = errors.New("evidence upload failed")
    ErrEvidenceRequired       = errors.New("payment evidence is required")
    ErrRejectionWithoutReason = errors.New("rejection reason is required")
    ErrPendingReviews         = errors.New("pool has submissions awaiting review")
    ErrActiveReservations     = errors.New("pool has seats held inside their payment window")
    ErrNoVerifiedMembers      = errors.New("pool has no verified members")
    ErrInvalidPaymentMethod   = errors.New("invalid payment method")
    ErrIncompletePool         = errors.New("pool settings are incomplete")
    ErrShareOverflow          = errors.New("membership shares would exceed 100 percent")

    ErrInvalidPoolTransition        = model.ErrInvalidPoolTransition
    ErrInvalidReservationTransition = model.ErrInvalidReservationTransition
    ErrInvalidSubmissionTransition  = model.ErrInvalidSubmissionTransition

    ErrNotFound  = repository.ErrNotFound
    ErrForbidden = repository.ErrForbidden
    ErrConflict  = repository.ErrConflict
)
