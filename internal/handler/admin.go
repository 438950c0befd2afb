package handler

import (
    "context"
    "io"
    "net/http"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/vcpool/internal/middleware"
    "github.com/iliyamo/vcpool/internal/model"
    "github.com/iliyamo/vcpool/internal/service"
)

// EvidenceReader opens stored payment evidence by key.
type EvidenceReader interface {
    Open(key string) (io.ReadCloser, string, error)
}

// AdminHandler bundles the pool administration and review endpoints.  All
// routes require the ADMIN role.
type AdminHandler struct {
    Pools        *service.PoolRegistry
    Verification *service.PaymentVerificationWorkflow
    Ledger       *service.MembershipLedger
    Reaper       *service.ExpiryReaper
    Evidence     EvidenceReader
}

// NewAdminHandler builds the handler.  evidence may be nil, in which case
// evidence downloads answer 404.
func NewAdminHandler(s *service.Services, evidence EvidenceReader) *AdminHandler {
    if s == nil || s.Pools == nil || s.Verification == nil || s.Ledger == nil || s.Reaper == nil {
        panic("nil service passed to NewAdminHandler")
    }
    return &AdminHandler{
        Pools:        s.Pools,
        Verification: s.Verification,
        Ledger:       s.Ledger,
        Reaper:       s.Reaper,
        Evidence:     evidence,
    }
}

// ListPools handles GET /v1/admin/pools, drafts included.
func (h *AdminHandler) ListPools(c echo.Context) error {
    items, err := h.Pools.List(c.Request().Context(), splitList[model.PoolStatus](c.QueryParam("status"))...)
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// GetPool handles GET /v1/admin/pools/:id.
func (h *AdminHandler) GetPool(c echo.Context) error {
    id, ok := pathID(c, "id")
    if !ok {
        return badRequest(c, "invalid id")
    }
    v, err := h.Pools.Get(c.Request().Context(), id)
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, v)
}

// CreatePool handles POST /v1/admin/pools and stores a draft.
func (h *AdminHandler) CreatePool(c echo.Context) error {
    adminID, err := middleware.UserID(c)
    if err != nil {
        return unauthorized(c)
    }
    var in service.DraftInput
    if err := c.Bind(&in); err != nil {
        return badRequest(c, "invalid request body")
    }
    p, err := h.Pools.CreateDraft(c.Request().Context(), adminID, in)
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusCreated, p)
}

// UpdatePool handles PATCH /v1/admin/pools/:id.  Fields missing from the
// body keep their stored values.
func (h *AdminHandler) UpdatePool(c echo.Context) error {
    id, ok := pathID(c, "id")
    if !ok {
        return badRequest(c, "invalid id")
    }
    ctx := c.Request().Context()
    cur, err := h.Pools.Get(ctx, id)
    if err != nil {
        return fail(c, err)
    }
    in := service.DraftInput{
        Name:                   cur.Name,
        MaxMembers:             cur.MaxMembers,
        ContributionAmount:     cur.ContributionAmount,
        CoinType:               cur.CoinType,
        PoolFeePercent:         cur.PoolFeePercent,
        PaymentWindowMinutes:   cur.PaymentWindowMinutes,
        AdminSettlementAddress: cur.AdminSettlementAddress,
    }
    if err := c.Bind(&in); err != nil {
        return badRequest(c, "invalid request body")
    }
    p, err := h.Pools.UpdateDraft(ctx, id, in)
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, p)
}

// PublishPool handles POST /v1/admin/pools/:id/publish.
func (h *AdminHandler) PublishPool(c echo.Context) error { return h.poolAction(c, h.Pools.Publish) }

// StartPool handles POST /v1/admin/pools/:id/start.
func (h *AdminHandler) StartPool(c echo.Context) error { return h.poolAction(c, h.Pools.Start) }

// CompletePool handles POST /v1/admin/pools/:id/complete.
func (h *AdminHandler) CompletePool(c echo.Context) error { return h.poolAction(c, h.Pools.Complete) }

// CancelPool handles POST /v1/admin/pools/:id/cancel.
func (h *AdminHandler) CancelPool(c echo.Context) error { return h.poolAction(c, h.Pools.Cancel) }

// MarkFull handles POST /v1/admin/pools/:id/full.
func (h *AdminHandler) MarkFull(c echo.Context) error { return h.poolAction(c, h.Pools.MarkFull) }

// ReopenPool handles POST /v1/admin/pools/:id/reopen.
func (h *AdminHandler) ReopenPool(c echo.Context) error { return h.poolAction(c, h.Pools.Reopen) }

func (h *AdminHandler) poolAction(c echo.Context, fn func(context.Context, int64) (*model.Pool, error)) error {
    id, ok := pathID(c, "id")
    if !ok {
        return badRequest(c, "invalid id")
    }
    p, err := fn(c.Request().Context(), id)
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, p)
}

// ListSubmissions handles GET /v1/admin/pools/:id/submissions?status=processing.
func (h *AdminHandler) ListSubmissions(c echo.Context) error {
    id, ok := pathID(c, "id")
    if !ok {
        return badRequest(c, "invalid id")
    }
    items, err := h.Verification.ListSubmissions(c.Request().Context(), id,
        splitList[model.SubmissionStatus](c.QueryParam("status"))...)
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// ListReservations handles GET /v1/admin/pools/:id/reservations?status=reserved.
func (h *AdminHandler) ListReservations(c echo.Context) error {
    id, ok := pathID(c, "id")
    if !ok {
        return badRequest(c, "invalid id")
    }
    status := model.ReservationStatus(c.QueryParam("status"))
    items, err := h.Verification.ListReservations(c.Request().Context(), id, status)
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// ListMembers handles GET /v1/admin/pools/:id/members.
func (h *AdminHandler) ListMembers(c echo.Context) error {
    id, ok := pathID(c, "id")
    if !ok {
        return badRequest(c, "invalid id")
    }
    items, err := h.Ledger.ListMembers(c.Request().Context(), id)
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// GetSubmission handles GET /v1/admin/submissions/:id.
func (h *AdminHandler) GetSubmission(c echo.Context) error {
    id, ok := pathID(c, "id")
    if !ok {
        return badRequest(c, "invalid id")
    }
    sub, err := h.Verification.GetSubmission(c.Request().Context(), id)
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, sub)
}

// Approve handles POST /v1/admin/submissions/:id/approve and returns the
// membership it created.
func (h *AdminHandler) Approve(c echo.Context) error {
    adminID, err := middleware.UserID(c)
    if err != nil {
        return unauthorized(c)
    }
    id, ok := pathID(c, "id")
    if !ok {
        return badRequest(c, "invalid id")
    }
    m, err := h.Verification.Approve(c.Request().Context(), adminID, id)
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, m)
}

// Reject handles POST /v1/admin/submissions/:id/reject with {"reason": "..."}.
func (h *AdminHandler) Reject(c echo.Context) error {
    adminID, err := middleware.UserID(c)
    if err != nil {
        return unauthorized(c)
    }
    id, ok := pathID(c, "id")
    if !ok {
        return badRequest(c, "invalid id")
    }
    var body struct {
        Reason string `json:"reason"`
    }
    if err := c.Bind(&body); err != nil {
        return badRequest(c, "invalid request body")
    }
    sub, err := h.Verification.Reject(c.Request().Context(), adminID, id, body.Reason)
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, sub)
}

// GetEvidence handles GET /v1/admin/evidence/:key and streams the stored file.
func (h *AdminHandler) GetEvidence(c echo.Context) error {
    if h.Evidence == nil {
        return c.JSON(http.StatusNotFound, echo.Map{"error": "evidence store not configured"})
    }
    rc, ct, err := h.Evidence.Open(c.Param("key"))
    if err != nil {
        return fail(c, err)
    }
    defer rc.Close()
    return c.Stream(http.StatusOK, ct, rc)
}

// Sweep handles POST /v1/admin/reaper/sweep and runs one reaper pass.
func (h *AdminHandler) Sweep(c echo.Context) error {
    res, err := h.Reaper.Sweep(c.Request().Context())
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, res)
}
