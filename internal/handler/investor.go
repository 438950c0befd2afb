package handler

import (
    "errors"
    "mime/multipart"
    "net/http"
    "strings"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/vcpool/internal/middleware"
    "github.com/iliyamo/vcpool/internal/model"
    "github.com/iliyamo/vcpool/internal/service"
)

// InvestorHandler exposes seat reservation, payment submission and status
// to investors.  Routes are mounted behind JWTAuth and the INVESTOR role.
type InvestorHandler struct {
    Seats       *service.SeatReservationManager
    Submissions *service.PaymentSubmissionService
    Status      *service.StatusReader
}

// NewInvestorHandler builds the handler from the service bundle.
func NewInvestorHandler(s *service.Services) *InvestorHandler {
    if s == nil || s.Seats == nil || s.Submissions == nil || s.Status == nil {
        panic("nil service passed to NewInvestorHandler")
    }
    return &InvestorHandler{Seats: s.Seats, Submissions: s.Submissions, Status: s.Status}
}

// Reserve handles POST /v1/pools/:id/reservations with body
// {"payment_method": "transfer"|"hosted"}.  It returns 201 and the
// reservation including its expires_at deadline.
func (h *InvestorHandler) Reserve(c echo.Context) error {
    userID, err := middleware.UserID(c)
    if err != nil {
        return unauthorized(c)
    }
    poolID, ok := pathID(c, "id")
    if !ok {
        return badRequest(c, "invalid id")
    }
    var body struct {
        PaymentMethod string `json:"payment_method"`
    }
    if err := c.Bind(&body); err != nil {
        return badRequest(c, "invalid request body")
    }
    res, err := h.Seats.Reserve(c.Request().Context(), poolID, userID, paymentMethod(body.PaymentMethod))
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusCreated, res)
}

// Submit handles POST /v1/reservations/:id/submission.  The multipart form
// may carry payment_method and an evidence file.  A repeated call returns
// the existing submission.
func (h *InvestorHandler) Submit(c echo.Context) error {
    userID, err := middleware.UserID(c)
    if err != nil {
        return unauthorized(c)
    }
    resID, ok := pathID(c, "id")
    if !ok {
        return badRequest(c, "invalid id")
    }
    ev, closeFn, err := evidenceFrom(c, false)
    if err != nil {
        return badRequest(c, err.Error())
    }
    defer closeFn()
    sub, err := h.Submissions.Submit(c.Request().Context(), userID, resID, paymentMethod(c.FormValue("payment_method")), ev)
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusCreated, sub)
}

// AttachEvidence handles POST /v1/submissions/:id/evidence with a
// multipart evidence file.
func (h *InvestorHandler) AttachEvidence(c echo.Context) error {
    userID, err := middleware.UserID(c)
    if err != nil {
        return unauthorized(c)
    }
    subID, ok := pathID(c, "id")
    if !ok {
        return badRequest(c, "invalid id")
    }
    ev, closeFn, err := evidenceFrom(c, true)
    if err != nil {
        return badRequest(c, err.Error())
    }
    defer closeFn()
    sub, err := h.Submissions.AttachEvidence(c.Request().Context(), userID, subID, ev)
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, sub)
}

// GetSubmission handles GET /v1/submissions/:id for the owner.
func (h *InvestorHandler) GetSubmission(c echo.Context) error {
    userID, err := middleware.UserID(c)
    if err != nil {
        return unauthorized(c)
    }
    subID, ok := pathID(c, "id")
    if !ok {
        return badRequest(c, "invalid id")
    }
    sub, err := h.Submissions.Get(c.Request().Context(), userID, subID)
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, sub)
}

// GetStatus handles GET /v1/pools/:id/status.
func (h *InvestorHandler) GetStatus(c echo.Context) error {
    userID, err := middleware.UserID(c)
    if err != nil {
        return unauthorized(c)
    }
    poolID, ok := pathID(c, "id")
    if !ok {
        return badRequest(c, "invalid id")
    }
    v, err := h.Status.GetStatus(c.Request().Context(), poolID, userID)
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, v)
}

func paymentMethod(s string) model.PaymentMethod {
    return model.PaymentMethod(strings.ToLower(strings.TrimSpace(s)))
}

// evidenceFrom opens the "evidence" form file.  The returned close func is
// always safe to call.
func evidenceFrom(c echo.Context, required bool) (*service.Evidence, func(), error) {
    nop := func() {}
    fh, err := c.FormFile("evidence")
    switch {
    case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
        if required {
            return nil, nop, service.ErrEvidenceRequired
        }
        return nil, nop, nil
    case err != nil:
        return nil, nop, errors.New("invalid multipart form")
    }
    f, err := fh.Open()
    if err != nil {
        return nil, nop, errors.New("cannot read evidence file")
    }
    return &service.Evidence{
        Name:        fh.Filename,
        ContentType: contentType(fh),
        Body:        f,
    }, func() { f.Close() }, nil
}

func contentType(fh *multipart.FileHeader) string {
    if ct := fh.Header.Get("Content-Type"); ct != "" {
        return ct
    }
    return "application/octet-stream"
}
