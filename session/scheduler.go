package session

import (
	"fmt"
	"time"

	cron "github.com/robfig/cron/v3"
)

// Scheduler runs a function repeatedly until the returned cancel func is called. The
// first run is one interval after Every is called.
type Scheduler interface {
	Every(interval time.Duration, fn func()) (cancel func(), err error)
}

// anchoredSchedule fires at whole multiples of interval after start. cron's "@every"
// rounds to the second, so the first run could come up to a second early.
type anchoredSchedule struct {
	start    time.Time
	interval time.Duration
}

func (s anchoredSchedule) Next(t time.Time) time.Time {
	if t.Before(s.start) {
		return s.start.Add(s.interval)
	}
	n := t.Sub(s.start)/s.interval + 1
	return s.start.Add(n * s.interval)
}

// CronScheduler schedules on a cron.Cron. Runs of the same function never overlap;
// a run that would start while the previous one is still going waits for it.
type CronScheduler struct {
	Cron   *cron.Cron
	Logger cron.Logger
}

func (s CronScheduler) Every(interval time.Duration, fn func()) (func(), error) {
	if interval < time.Second {
		return nil, fmt.Errorf("session: cron can't schedule intervals under a second, got %v", interval)
	}

	logger := s.Logger
	if logger == nil {
		logger = cron.DiscardLogger
	}

	job := cron.NewChain(cron.DelayIfStillRunning(logger)).Then(cron.FuncJob(fn))
	id := s.Cron.Schedule(anchoredSchedule{start: time.Now(), interval: interval}, job)

	return func() { s.Cron.Remove(id) }, nil
}
