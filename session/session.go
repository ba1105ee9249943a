// Package session implements the timed sampling session: a countdown of one of a few
// fixed lengths, ticking once per second, that records a temperature every ten
// seconds and hands the samples off for plotting when the countdown reaches zero.
package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mtraver/rc-thermometer/measurement"
)

const (
	// TickInterval is how often the countdown advances.
	TickInterval = time.Second
	// SampleInterval is how often a temperature is recorded.
	SampleInterval = 10 * time.Second
)

// Durations are the session lengths that may be chosen.
var Durations = []time.Duration{
	1 * time.Minute,
	2 * time.Minute,
	5 * time.Minute,
	10 * time.Minute,
}

var ErrInvalidDuration = errors.New("session: invalid duration")

// ValidDuration reports whether d is one of Durations.
func ValidDuration(d time.Duration) bool {
	for _, v := range Durations {
		if d == v {
			return true
		}
	}
	return false
}

// Step is the outcome of one Tick.
type Step struct {
	// Elapsed is the session time at this tick.
	Elapsed time.Duration
	// Sample is true if a temperature should be recorded at Elapsed.
	Sample bool
	// Done is true once the countdown has reached zero.
	Done bool
}

// Session is the countdown state of a single timed session. It knows nothing about
// how ticks are scheduled or how temperatures are measured.
type Session struct {
	mu          sync.Mutex
	total       time.Duration
	remaining   time.Duration
	untilSample time.Duration
	points      []measurement.Point
	started     time.Time
}

// New returns a Session of the given length, which must be one of Durations.
func New(total time.Duration) (*Session, error) {
	if !ValidDuration(total) {
		return nil, fmt.Errorf("%w: %v (allowed: %v)", ErrInvalidDuration, total, Durations)
	}

	return &Session{
		total:       total,
		remaining:   total,
		untilSample: SampleInterval,
		started:     time.Now(),
	}, nil
}

// Tick advances the countdown by TickInterval. Ticks after the session is done are
// no-ops that report Done.
func (s *Session) Tick() Step {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.remaining <= 0 {
		return Step{Elapsed: s.total, Done: true}
	}

	// UntilNextSample reads zero for the tick on which a sample is taken and the
	// interval restarts on the following tick.
	if s.untilSample <= 0 {
		s.untilSample = SampleInterval
	}
	s.remaining -= TickInterval
	s.untilSample -= TickInterval

	step := Step{Elapsed: s.total - s.remaining}
	if s.untilSample <= 0 {
		step.Sample = true
	}
	if s.remaining <= 0 {
		step.Done = true
	}

	return step
}

// Record adds a sample, keeping the samples ordered by elapsed time.
func (s *Session) Record(p measurement.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := sort.Search(len(s.points), func(i int) bool { return s.points[i].Elapsed > p.Elapsed })
	s.points = append(s.points, measurement.Point{})
	copy(s.points[i+1:], s.points[i:])
	s.points[i] = p
}

// Points returns a copy of the samples recorded so far.
func (s *Session) Points() []measurement.Point {
	s.mu.Lock()
	defer s.mu.Unlock()

	points := make([]measurement.Point, len(s.points))
	copy(points, s.points)
	return points
}

func (s *Session) Total() time.Duration {
	return s.total
}

func (s *Session) Started() time.Time {
	return s.started
}

func (s *Session) Remaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining
}

// UntilNextSample is the time left before the next sample is due. It's zero right
// after the tick that took a sample.
func (s *Session) UntilNextSample() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.untilSample
}

func (s *Session) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining <= 0
}

// FormatCountdown formats d as minutes and zero-padded seconds, e.g. 62s is "1:02".
// Fractional seconds are truncated and negative durations format as "0:00".
func FormatCountdown(d time.Duration) string {
	secs := int(d / time.Second)
	if secs < 0 {
		secs = 0
	}
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}
