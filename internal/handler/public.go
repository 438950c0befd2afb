package handler

import (
    "net/http"
    "strings"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/vcpool/internal/model"
    "github.com/iliyamo/vcpool/internal/service"
)

// PublicHandler serves the unauthenticated pool catalogue.  Draft pools
// are never visible here.
type PublicHandler struct {
    Pools *service.PoolRegistry
}

// NewPublicHandler panics when pools is nil.
func NewPublicHandler(pools *service.PoolRegistry) *PublicHandler {
    if pools == nil {
        panic("nil pool registry passed to NewPublicHandler")
    }
    return &PublicHandler{Pools: pools}
}

// publicStatuses is the default catalogue filter.
var publicStatuses = []model.PoolStatus{model.PoolOpen, model.PoolFull, model.PoolActive}

// ListPools handles GET /v1/pools.  ?status=open,full narrows the list;
// draft is silently dropped from the filter.
func (h *PublicHandler) ListPools(c echo.Context) error {
    statuses := publicStatuses
    if raw := c.QueryParam("status"); raw != "" {
        statuses = nil
        for _, s := range splitList[model.PoolStatus](raw) {
            if s != model.PoolDraft {
                statuses = append(statuses, s)
            }
        }
        if len(statuses) == 0 {
            return c.JSON(http.StatusOK, echo.Map{"items": []model.PoolView{}})
        }
    }
    items, err := h.Pools.List(c.Request().Context(), statuses...)
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// GetPool handles GET /v1/pools/:id.
func (h *PublicHandler) GetPool(c echo.Context) error {
    id, ok := pathID(c, "id")
    if !ok {
        return badRequest(c, "invalid id")
    }
    v, err := h.Pools.Get(c.Request().Context(), id)
    if err != nil {
        return fail(c, err)
    }
    if v.Status == model.PoolDraft {
        return c.JSON(http.StatusNotFound, echo.Map{"error": "pool not found"})
    }
    return c.JSON(http.StatusOK, v)
}

// splitList parses a comma separated query value into typed statuses.
func splitList[T ~string](raw string) []T {
    var out []T
    for _, p := range strings.Split(raw, ",") {
        if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
            out = append(out, T(p))
        }
    }
    return out
}
