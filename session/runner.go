package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mtraver/rc-thermometer/measurement"
)

var (
	ErrSessionActive = errors.New("session: a session is already running")
	ErrNoSession     = errors.New("session: no session is running")
)

// Sampler takes one temperature reading.
type Sampler func(ctx context.Context) (measurement.Reading, error)

// Result is a finished session.
type Result struct {
	// ID identifies the session across sinks.
	ID       string
	Total    time.Duration
	Started  time.Time
	Finished time.Time
	Points   []measurement.Point
	Summary  measurement.Summary
}

// Status is a snapshot of the runner for display.
type Status struct {
	Active bool   `json:"active"`
	ID     string `json:"id,omitempty"`
	// Whole seconds.
	Total           int    `json:"total"`
	Remaining       int    `json:"remaining"`
	UntilNextSample int    `json:"until_next_sample"`
	Countdown       string `json:"countdown"`
	Samples         int    `json:"samples"`
}

// Runner drives at most one Session at a time: it takes the initial sample, ticks the
// session on a Scheduler, samples when a sample is due, and stops ticking when the
// session is done.
type Runner struct {
	// OnComplete, if set, is called with each finished session. It must be set before
	// the first Start.
	OnComplete func(Result)

	ctx     context.Context
	sched   Scheduler
	sample  Sampler
	logger  *slog.Logger
	mu      sync.Mutex
	current *Session
	id      string
	cancel  func()
	last    *Result
}

// NewRunner returns a Runner. All samples are taken with ctx.
func NewRunner(ctx context.Context, sched Scheduler, sample Sampler, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		ctx:    ctx,
		sched:  sched,
		sample: sample,
		logger: logger,
	}
}

// Start begins a session of the given length and records the sample at elapsed time
// zero before returning. Samples are taken with the Runner's context, so the session
// outlives whatever asked for it.
func (r *Runner) Start(total time.Duration) error {
	s, err := New(total)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.current != nil {
		r.mu.Unlock()
		return ErrSessionActive
	}
	// Ticks are timed from the session start, not from the end of the first sample.
	cancel, err := r.sched.Every(TickInterval, func() { r.tick(s) })
	if err != nil {
		r.mu.Unlock()
		return err
	}
	id := uuid.NewString()
	r.current = s
	r.id = id
	r.cancel = cancel
	r.mu.Unlock()

	r.logger.Info("session started", "duration", total, "id", id)
	r.record(s, 0)
	return nil
}

// Stop abandons the running session without calling OnComplete.
func (r *Runner) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil {
		return ErrNoSession
	}

	if r.cancel != nil {
		r.cancel()
	}
	r.logger.Info("session stopped", "remaining", r.current.Remaining())
	r.current = nil
	r.cancel = nil
	return nil
}

// Status returns the state of the running session, if any.
func (r *Runner) Status() Status {
	r.mu.Lock()
	s, id := r.current, r.id
	r.mu.Unlock()

	if s == nil {
		return Status{Countdown: FormatCountdown(0)}
	}

	remaining := s.Remaining()
	return Status{
		Active:          true,
		ID:              id,
		Total:           int(s.Total() / time.Second),
		Remaining:       int(remaining / time.Second),
		UntilNextSample: int(s.UntilNextSample() / time.Second),
		Countdown:       FormatCountdown(remaining),
		Samples:         len(s.Points()),
	}
}

// Last returns the most recently finished session.
func (r *Runner) Last() (Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.last == nil {
		return Result{}, false
	}
	return *r.last, true
}

func (r *Runner) tick(s *Session) {
	step := s.Tick()
	if step.Sample {
		r.record(s, step.Elapsed)
	}
	if step.Done {
		r.finish(s)
	}
}

// record takes a sample and appends it to the session. A failed sample is skipped
// rather than ending the session.
func (r *Runner) record(s *Session, elapsed time.Duration) {
	reading, err := r.sample(r.ctx)
	if err != nil {
		r.logger.Warn("session sample failed, skipping", "elapsed", elapsed, "err", err)
		return
	}

	s.Record(measurement.Point{Elapsed: elapsed, Celsius: reading.Celsius})
	r.logger.Debug("session sample", "elapsed", elapsed, "temp_c", reading.Celsius)
}

func (r *Runner) finish(s *Session) {
	r.mu.Lock()
	if r.current != s {
		// Stopped, or a late tick for a session that already finished.
		r.mu.Unlock()
		return
	}

	if r.cancel != nil {
		r.cancel()
	}

	points := s.Points()
	res := Result{
		ID:       r.id,
		Total:    s.Total(),
		Started:  s.Started(),
		Finished: time.Now(),
		Points:   points,
		Summary:  measurement.Summarize(points),
	}
	r.last = &res
	r.current = nil
	r.cancel = nil
	onComplete := r.OnComplete
	r.mu.Unlock()

	r.logger.Info("session finished", "duration", res.Total, "samples", len(points),
		"mean_c", res.Summary.Mean, "min_c", res.Summary.Min, "max_c", res.Summary.Max)

	if onComplete != nil {
		onComplete(res)
	}
}
