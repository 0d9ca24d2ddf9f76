// Package scheduler drives the background cadence this core runs on: the
// command registers a nightly full Reconciliation Pass and a 15-minute Plex
// show-token backfill, both on cron schedules. No Trakt pull is scheduled.
// Adapted from
// the teacher's internal/scheduler/scheduler.go ticker-loop shape, with the
// bare ticker swapped for robfig/cron/v3 wherever the schedule is
// calendar-shaped rather than a fixed interval.
package scheduler

import (
	"context"
	"log"

	"github.com/robfig/cron/v3"
)

// Scheduler runs named jobs on cron schedules.
type Scheduler struct {
	cron *cron.Cron
}

// New builds an empty Scheduler.
func New() *Scheduler {
	return &Scheduler{cron: cron.New()}
}

// AddJob registers fn to run on the standard 5-field cron spec, logging and
// swallowing any error fn returns so one bad run never kills the scheduler.
func (s *Scheduler) AddJob(name, spec string, fn func(ctx context.Context) error) error {
	_, err := s.cron.AddFunc(spec, func() {
		log.Printf("[scheduler] running %s", name)
		if err := fn(context.Background()); err != nil {
			log.Printf("[scheduler] %s failed: %v", name, err)
			return
		}
		log.Printf("[scheduler] %s finished", name)
	})
	return err
}

// Start begins running scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	log.Println("[scheduler] started")
}

// Stop blocks until any in-flight job finishes, then halts scheduling.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Println("[scheduler] stopped")
}
