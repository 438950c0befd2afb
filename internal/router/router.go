package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/vcpool/internal/handler"
	"github.com/iliyamo/vcpool/internal/middleware"
)

// RegisterRoutes registers routes that do not require authentication on the
// provided Echo instance.  Currently it exposes only a health check.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterPublic registers the guest pool catalogue.  extra middlewares
// (the Redis pool cache in production) wrap only these routes.
func RegisterPublic(e *echo.Echo, p *handler.PublicHandler, extra ...echo.MiddlewareFunc) {
	g := e.Group("/v1", extra...)
	g.GET("/pools", p.ListPools)
	g.GET("/pools/:id", p.GetPool)
}

// RegisterInvestor registers INVESTOR-scoped endpoints under /v1.  Seat
// holds, payment submission and the status view all require a valid JWT.
// extra middlewares run after authentication, so they see the caller.
func RegisterInvestor(e *echo.Echo, h *handler.InvestorHandler, jwtSecret string, extra ...echo.MiddlewareFunc) {
	mw := []echo.MiddlewareFunc{
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(middleware.RoleInvestor),
	}
	g := e.Group("/v1", append(mw, extra...)...)
	g.POST("/pools/:id/reservations", h.Reserve)
	g.GET("/pools/:id/status", h.GetStatus)
	g.POST("/reservations/:id/submission", h.Submit)
	g.GET("/submissions/:id", h.GetSubmission)
	g.POST("/submissions/:id/evidence", h.AttachEvidence)
}

// RegisterAdmin registers ADMIN-scoped endpoints under /v1/admin.  extra
// middlewares run after authentication.
func RegisterAdmin(e *echo.Echo, h *handler.AdminHandler, jwtSecret string, extra ...echo.MiddlewareFunc) {
	mw := []echo.MiddlewareFunc{
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(middleware.RoleAdmin),
	}
	g := e.Group("/v1/admin", append(mw, extra...)...)
	// Pool lifecycle
	g.GET("/pools", h.ListPools)
	g.POST("/pools", h.CreatePool)
	g.GET("/pools/:id", h.GetPool)
	g.PATCH("/pools/:id", h.UpdatePool)
	g.POST("/pools/:id/publish", h.PublishPool)
	g.POST("/pools/:id/full", h.MarkFull)
	g.POST("/pools/:id/reopen", h.ReopenPool)
	g.POST("/pools/:id/start", h.StartPool)
	g.POST("/pools/:id/complete", h.CompletePool)
	g.POST("/pools/:id/cancel", h.CancelPool)

	// Review queue
	g.GET("/pools/:id/submissions", h.ListSubmissions)
	g.GET("/pools/:id/reservations", h.ListReservations)
	g.GET("/pools/:id/members", h.ListMembers)
	g.GET("/submissions/:id", h.GetSubmission)
	g.POST("/submissions/:id/approve", h.Approve)
	g.POST("/submissions/:id/reject", h.Reject)
	g.GET("/evidence/:key", h.GetEvidence)

	g.POST("/reaper/sweep", h.Sweep)
}
