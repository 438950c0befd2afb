package main // Entry point package

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/iliyamo/vcpool/internal/app"
	"github.com/iliyamo/vcpool/internal/handler"
	"github.com/iliyamo/vcpool/internal/middleware"
	"github.com/iliyamo/vcpool/internal/router"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.Bootstrap(ctx)
	if err != nil {
		log.Fatalf("[FATAL] bootstrap: %v", err)
	}
	defer a.Close()

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Logger())
	e.Use(echomw.Recover())

	// The limiter keys on the caller, so it is mounted inside the
	// authenticated groups rather than with e.Use.
	var authed []echo.MiddlewareFunc
	if a.Redis != nil {
		authed = append(authed, middleware.RateLimit(a.Settings.RateLimit, a.Redis))
	}

	router.RegisterRoutes(e)
	router.RegisterPublic(e, handler.NewPublicHandler(a.Services.Pools), a.Cache.Middleware())
	router.RegisterInvestor(e, handler.NewInvestorHandler(a.Services), a.Config.JWTSecret, authed...)
	router.RegisterAdmin(e, handler.NewAdminHandler(a.Services, a.Evidence), a.Config.JWTSecret, authed...)

	a.StartAuditConsumer()

	if a.Config.ReaperEnabled {
		sched, err := a.Scheduler(ctx)
		if err != nil {
			log.Fatalf("[FATAL] reaper schedule: %v", err)
		}
		sched.Start()
		defer sched.Stop()
		log.Printf("[INFO] expiry reaper scheduled (%s)", a.Settings.Reaper.Cron)
	}

	addr := ":" + a.Config.Port
	go func() {
		log.Printf("listening on %s (env=%s, db=%s)", addr, a.Config.Env, a.Config.DBDriver)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("[INFO] shutdown signal received, stopping...")

	cancel()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("[WARN] http shutdown: %v", err)
	}
}
