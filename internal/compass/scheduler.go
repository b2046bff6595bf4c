package compass

import (
	"context"
	"time"

	"github.com/imadgeboyega/kiekky-compass/internal/logging"
)

type Scheduler struct {
	service    Service
	refillHour int
}

func NewScheduler(service Service, refillHour int) *Scheduler {
	if refillHour < 0 || refillHour > 23 {
		refillHour = 4
	}
	return &Scheduler{service: service, refillHour: refillHour}
}

func (s *Scheduler) Start(ctx context.Context) {
	// Daily token refill
	go s.runDaily(ctx, "token_refill", s.refillHour, 0, s.service.RefillTokens)
}

func (s *Scheduler) runDaily(ctx context.Context, name string, hour, minute int, task func(context.Context) error) {
	for {
		now := time.Now()
		timer := time.NewTimer(nextRun(now, hour, minute).Sub(now))

		select {
		case <-timer.C:
			start := time.Now()
			if err := task(ctx); err != nil {
				logging.Error().Err(err).Str("task", name).Msg("scheduled task failed")
			}
			RecordResponseTime(name, time.Since(start))
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// nextRun is the first hour:minute strictly after now
func nextRun(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
