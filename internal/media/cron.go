package media

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSweepCron runs a sweep every 15 minutes.
const DefaultSweepCron = "*/15 * * * *"

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// nextCronDuration parses a 5-field cron expression and returns the duration
// until the next fire time after now. Returns 0 on parse error.
func nextCronDuration(expr string, now time.Time) time.Duration {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return 0
	}
	d := sched.Next(now).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Scheduler sweeps the scratch directory on a cron schedule so that files
// left behind by a crash are removed even when no new attachment arrives.
type Scheduler struct {
	cache *Cache
	expr  string
}

// NewScheduler validates expr and creates a Scheduler. An empty expr uses
// DefaultSweepCron.
func NewScheduler(cache *Cache, expr string) (*Scheduler, error) {
	if cache == nil {
		return nil, fmt.Errorf("media: scheduler: cache is required")
	}
	if expr == "" {
		expr = DefaultSweepCron
	}
	if _, err := cronParser.Parse(expr); err != nil {
		return nil, fmt.Errorf("media: scheduler: parse %q: %w", expr, err)
	}
	return &Scheduler{cache: cache, expr: expr}, nil
}

// Run blocks until ctx is cancelled, sweeping at every fire time.
func (s *Scheduler) Run(ctx context.Context) {
	d := nextCronDuration(s.expr, time.Now())
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-timer.C:
			s.cache.Sweep(now)
			if d := nextCronDuration(s.expr, time.Now()); d > 0 {
				timer.Reset(d)
			}
		}
	}
}
