// Package rc times how long a capacitor takes to charge through an unknown resistance,
// using two GPIO lines as a poor man's analog input.
//
// The charge line drives the capacitor through the fixed resistor and the thermistor in
// series. The discharge line drains the capacitor through a fixed resistor and, once
// switched to an input, reports HIGH when the capacitor passes the digital threshold
// (~1.65V on a 3.3V Raspberry Pi).
package rc

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// ErrTimeout is returned when the discharge line never reads HIGH within the timeout,
// which usually means the thermistor is disconnected.
var ErrTimeout = errors.New("rc: timed out waiting for capacitor to charge")

// Mode selects how the end of a charge cycle is detected.
type Mode int

const (
	// Poll busy-reads the discharge line. It's the most accurate option on a Pi since
	// edge notifications from the kernel arrive with tens of µs of jitter.
	Poll Mode = iota
	// Edge waits for a rising edge interrupt on the discharge line.
	Edge
)

func (m Mode) String() string {
	switch m {
	case Poll:
		return "poll"
	case Edge:
		return "edge"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode parses "poll" or "edge".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "poll":
		return Poll, nil
	case "edge":
		return Edge, nil
	default:
		return Poll, fmt.Errorf("rc: unknown mode %q (allowed: poll, edge)", s)
	}
}

// State is the circuit's most recent phase.
type State int32

const (
	Idle State = iota
	Discharging
	Charging
	TimedOut
	Fault
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Discharging:
		return "DISCHARGING"
	case Charging:
		return "CHARGING"
	case TimedOut:
		return "TIMED_OUT"
	case Fault:
		return "FAULT"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Opts configures a Circuit.
type Opts struct {
	// DischargeDelay is how long the discharge line is held low to drain the capacitor.
	DischargeDelay time.Duration
	// Timeout bounds a single charge cycle.
	Timeout time.Duration
	// Samples is the number of charge cycles averaged by AverageChargeTime.
	Samples int
	Mode    Mode
}

// DefaultOpts works for a 0.38µF capacitor and a 1kΩ thermistor, whose charge time is
// well under 2ms even at -20°C.
var DefaultOpts = Opts{
	DischargeDelay: 10 * time.Millisecond,
	Timeout:        100 * time.Millisecond,
	Samples:        10,
	Mode:           Poll,
}

// Circuit is an exclusive handle on the two lines of the RC timing circuit.
type Circuit struct {
	mu        sync.Mutex
	charge    gpio.PinIO
	discharge gpio.PinIO
	opts      Opts
	state     atomic.Int32
}

// New returns a Circuit that owns the given lines. The caller must not use the pins
// for anything else until Halt is called.
func New(charge, discharge gpio.PinIO, opts Opts) (*Circuit, error) {
	if charge == nil || discharge == nil {
		return nil, errors.New("rc: charge and discharge pins are required")
	}
	if opts.Samples <= 0 {
		return nil, fmt.Errorf("rc: samples must be > 0, got %d", opts.Samples)
	}
	if opts.Timeout <= 0 {
		return nil, fmt.Errorf("rc: timeout must be > 0, got %v", opts.Timeout)
	}
	if opts.DischargeDelay < 0 {
		return nil, fmt.Errorf("rc: discharge delay must be >= 0, got %v", opts.DischargeDelay)
	}

	return &Circuit{
		charge:    charge,
		discharge: discharge,
		opts:      opts,
	}, nil
}

// State returns the phase of the last operation. It doesn't block on a measurement
// in progress.
func (c *Circuit) State() State {
	return State(c.state.Load())
}

func (c *Circuit) setState(s State) {
	c.state.Store(int32(s))
}

func (c *Circuit) fault(format string, a ...any) error {
	c.setState(Fault)
	return fmt.Errorf("rc: "+format, a...)
}

// Discharge drains the capacitor: the charge line floats and the discharge line is
// driven low for DischargeDelay.
func (c *Circuit) Discharge() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drain()
}

func (c *Circuit) drain() error {
	c.setState(Discharging)
	if err := c.charge.In(gpio.Float, gpio.NoEdge); err != nil {
		return c.fault("failed to float charge line %s: %w", c.charge, err)
	}
	if err := c.discharge.Out(gpio.Low); err != nil {
		return c.fault("failed to drive discharge line %s low: %w", c.discharge, err)
	}
	time.Sleep(c.opts.DischargeDelay)
	return nil
}

// ChargeTime charges the capacitor and returns how long it took for the discharge line
// to read HIGH. The capacitor should be drained first.
func (c *Circuit) ChargeTime(ctx context.Context) (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chargeTime(ctx)
}

func (c *Circuit) chargeTime(ctx context.Context) (time.Duration, error) {
	edge := gpio.NoEdge
	if c.opts.Mode == Edge {
		edge = gpio.RisingEdge
	}
	if err := c.discharge.In(gpio.Float, edge); err != nil {
		return 0, c.fault("failed to set discharge line %s as input: %w", c.discharge, err)
	}

	c.setState(Charging)
	if err := c.charge.Out(gpio.High); err != nil {
		return 0, c.fault("failed to drive charge line %s high: %w", c.charge, err)
	}
	start := time.Now()

	var charged bool
	if c.opts.Mode == Edge {
		charged = c.waitEdge(ctx, start)
	} else {
		charged = c.poll(ctx, start)
	}
	elapsed := time.Since(start)

	if !charged {
		if err := ctx.Err(); err != nil {
			c.setState(Idle)
			return 0, err
		}
		c.setState(TimedOut)
		return elapsed, fmt.Errorf("%w after %v on %s", ErrTimeout, c.opts.Timeout, c.discharge)
	}

	return elapsed, nil
}

// poll busy-reads the discharge line until it's high, the timeout passes, or ctx is
// done. Garbage collection is disabled for the duration so a pause doesn't land
// inside the measurement.
func (c *Circuit) poll(ctx context.Context, start time.Time) bool {
	gcPercent := debug.SetGCPercent(-1)
	defer debug.SetGCPercent(gcPercent)

	done := ctx.Done()
	for i := 0; ; i++ {
		if c.discharge.Read() == gpio.High {
			return true
		}
		if time.Since(start) >= c.opts.Timeout {
			return false
		}
		// Checking ctx on every iteration would dominate the loop.
		if i&0x3ff == 0 {
			select {
			case <-done:
				return false
			default:
			}
		}
	}
}

// waitEdge waits for a rising edge in slices so that ctx cancellation is noticed.
func (c *Circuit) waitEdge(ctx context.Context, start time.Time) bool {
	const slice = 10 * time.Millisecond

	for {
		remaining := c.opts.Timeout - time.Since(start)
		if remaining <= 0 {
			return c.discharge.Read() == gpio.High
		}
		if remaining > slice {
			remaining = slice
		}

		if c.discharge.WaitForEdge(remaining) && c.discharge.Read() == gpio.High {
			return true
		}

		if ctx.Err() != nil {
			return false
		}
	}
}

// AnalogRead drains the capacitor, times one charge cycle, and drains it again.
func (c *Circuit) AnalogRead(ctx context.Context) (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.analogRead(ctx)
}

func (c *Circuit) analogRead(ctx context.Context) (time.Duration, error) {
	if err := c.drain(); err != nil {
		return 0, err
	}

	t, chargeErr := c.chargeTime(ctx)

	// Always leave the capacitor empty, even after a timeout.
	state := c.State()
	if err := c.drain(); err != nil {
		return 0, errors.Join(chargeErr, err)
	}
	if chargeErr != nil {
		c.setState(state)
		return 0, chargeErr
	}

	c.setState(Idle)
	return t, nil
}

// AverageChargeTime returns the mean of Opts.Samples analog reads. Averaging smooths
// out scheduling jitter from the OS.
func (c *Circuit) AverageChargeTime(ctx context.Context) (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var total time.Duration
	for i := 0; i < c.opts.Samples; i++ {
		t, err := c.analogRead(ctx)
		if err != nil {
			return 0, fmt.Errorf("rc: sample %d of %d: %w", i+1, c.opts.Samples, err)
		}
		total += t
	}

	return total / time.Duration(c.opts.Samples), nil
}

// Halt floats both lines, leaving the pins as they were before the program started.
func (c *Circuit) Halt() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for _, p := range []gpio.PinIO{c.charge, c.discharge} {
		if err := p.In(gpio.Float, gpio.NoEdge); err != nil {
			errs = append(errs, fmt.Errorf("rc: failed to reset %s: %w", p, err))
		}
	}

	c.setState(Idle)
	return errors.Join(errs...)
}
