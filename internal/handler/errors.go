package handler

import (
    "errors"
    "log"
    "net/http"
    "strconv"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/vcpool/internal/service"
    "github.com/iliyamo/vcpool/internal/storage"
)

// statusFor maps a service or storage error to an HTTP status code.
// Storage errors are checked first because an upload failure wraps both
// ErrEvidenceUpload and the storage cause.
func statusFor(err error) int {
    switch {
    case errors.Is(err, storage.ErrTooLarge):
        return http.StatusRequestEntityTooLarge
    case errors.Is(err, storage.ErrContentType):
        return http.StatusUnsupportedMediaType
    case errors.Is(err, storage.ErrEmpty), errors.Is(err, storage.ErrInvalidKey):
        return http.StatusBadRequest
    case errors.Is(err, storage.ErrObjectNotFound), errors.Is(err, service.ErrNotFound):
        return http.StatusNotFound
    case errors.Is(err, service.ErrForbidden):
        return http.StatusForbidden
    case errors.Is(err, service.ErrReservationExpired):
        return http.StatusGone
    case errors.Is(err, service.ErrEvidenceUpload):
        return http.StatusBadGateway
    case errors.Is(err, service.ErrInvalidPaymentMethod),
        errors.Is(err, service.ErrEvidenceRequired),
        errors.Is(err, service.ErrRejectionWithoutReason),
        errors.Is(err, service.ErrIncompletePool):
        return http.StatusBadRequest
    case errors.Is(err, service.ErrPoolFull),
        errors.Is(err, service.ErrAlreadyReserved),
        errors.Is(err, service.ErrAlreadyMember),
        errors.Is(err, service.ErrPoolNotOpen),
        errors.Is(err, service.ErrPendingReviews),
        errors.Is(err, service.ErrActiveReservations),
        errors.Is(err, service.ErrNoVerifiedMembers),
        errors.Is(err, service.ErrShareOverflow),
        errors.Is(err, service.ErrConflict),
        errors.Is(err, service.ErrInvalidPoolTransition),
        errors.Is(err, service.ErrInvalidReservationTransition),
        errors.Is(err, service.ErrInvalidSubmissionTransition):
        return http.StatusConflict
    }
    return http.StatusInternalServerError
}

// fail writes err as a JSON error body.  Internal errors are logged and
// hidden from the client.
func fail(c echo.Context, err error) error {
    code := statusFor(err)
    if code == http.StatusInternalServerError {
        log.Printf("[ERROR] %s %s: %v", c.Request().Method, c.Path(), err)
        return c.JSON(code, echo.Map{"error": "internal error"})
    }
    return c.JSON(code, echo.Map{"error": err.Error()})
}

func badRequest(c echo.Context, msg string) error {
    return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
}

// pathID parses a positive numeric path parameter.
func pathID(c echo.Context, name string) (int64, bool) {
    id, err := strconv.ParseInt(c.Param(name), 10, 64)
    if err != nil || id <= 0 {
        return 0, false
    }
    return id, true
}

func unauthorized(c echo.Context) error {
    return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
}
