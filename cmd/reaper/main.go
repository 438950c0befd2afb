// Command reaper runs the expiry reaper on its own, for deployments that
// keep it out of the API process.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/iliyamo/vcpool/internal/app"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("[INFO] vcpool reaper starting...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.Bootstrap(ctx)
	if err != nil {
		log.Fatalf("[FATAL] bootstrap: %v", err)
	}
	defer a.Close()

	sched, err := a.Scheduler(ctx)
	if err != nil {
		log.Fatalf("[FATAL] register reaper: %v", err)
	}
	sched.Start()
	defer sched.Stop()

	if os.Getenv("RUN_ON_START") == "true" {
		go sched.RunNow()
	}
	log.Printf("[INFO] reaper running (%s). Press Ctrl+C to stop.", a.Settings.Reaper.Cron)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[INFO] shutdown signal received, stopping...")
	cancel()
}
