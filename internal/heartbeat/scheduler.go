package heartbeat

import (
	"context"
	"log"

	"github.com/robfig/cron/v3"
)

// TickFunc supplies the inputs for one Evaluate call; the scheduler calls
// it fresh on every tick so callers can report the currently running step
// and artifact root without the scheduler needing to know about them.
type TickFunc func() RecordHeartbeat

// Scheduler drives an Evaluator on a fixed cron schedule, e.g. "@every 30s".
type Scheduler struct {
	cron *cron.Cron
	eval *Evaluator
}

// NewScheduler builds a Scheduler around eval. Call Start to begin ticking.
func NewScheduler(eval *Evaluator) *Scheduler {
	return &Scheduler{cron: cron.New(), eval: eval}
}

// Start registers tick as a cron job running on spec (e.g. "@every 30s")
// and starts the scheduler's background goroutine. ctx cancellation does
// not stop the scheduler; call Stop explicitly.
func (s *Scheduler) Start(ctx context.Context, spec string, tick TickFunc) error {
	_, err := s.cron.AddFunc(spec, func() {
		if _, err := s.eval.Evaluate(ctx, tick()); err != nil {
			log.Printf("heartbeat: evaluate tick failed: %v", err)
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for any in-flight tick to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
