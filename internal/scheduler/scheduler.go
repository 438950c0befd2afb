package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/iliyamo/vcpool/internal/service"
)

// Sweeper runs one reclamation pass.
type Sweeper interface {
	Sweep(ctx context.Context) (service.SweepResult, error)
}

// Locker guards a tick so that only one instance sweeps at a time.
// Acquire reports false when another holder owns the lock.
type Locker interface {
	Acquire(ctx context.Context) (release func(), ok bool, err error)
}

// Scheduler runs the expiry reaper on a cron schedule.
type Scheduler struct {
	Cron    *cron.Cron
	Sweeper Sweeper
	Locker  Locker
	Timeout time.Duration
	Ctx     context.Context
}

// NewScheduler creates a Scheduler.  locker may be nil.
func NewScheduler(ctx context.Context, sw Sweeper, locker Locker) *Scheduler {
	return &Scheduler{
		Cron:    cron.New(cron.WithSeconds()),
		Sweeper: sw,
		Locker:  locker,
		Timeout: 50 * time.Second,
		Ctx:     ctx,
	}
}

// Register adds the reaper task under spec, e.g. "@every 60s" or
// "0 * * * * *".
func (s *Scheduler) Register(spec string) error {
	if _, err := s.Cron.AddFunc(spec, s.tick); err != nil {
		return fmt.Errorf("register reaper task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	log.Println("[INFO] reaper scheduler started")
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	log.Println("[INFO] reaper scheduler stopped")
}

// RunNow executes one tick immediately.
func (s *Scheduler) RunNow() {
	s.tick()
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(s.Ctx, s.Timeout)
	defer cancel()

	if s.Locker != nil {
		release, ok, err := s.Locker.Acquire(ctx)
		if err != nil {
			// The row locks keep sweeps correct without the lock.
			log.Printf("[WARN] reaper lock: %v; sweeping anyway", err)
		} else if !ok {
			log.Println("[INFO] reaper tick skipped: another instance holds the lock")
			return
		} else {
			defer release()
		}
	}

	if _, err := s.Sweeper.Sweep(ctx); err != nil {
		log.Printf("[ERROR] reaper sweep: %v", err)
	}
}
