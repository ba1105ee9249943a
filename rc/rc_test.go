package rc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

// fakeCapacitor models the capacitor: it reaches the digital threshold chargeDelay
// after the charge line goes high. A negative chargeDelay means it never does.
type fakeCapacitor struct {
	mu          sync.Mutex
	chargeDelay time.Duration
	charging    bool
	since       time.Time
	cycles      int
}

func (f *fakeCapacitor) setCharging(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if on && !f.charging {
		f.since = time.Now()
		f.cycles++
	}
	f.charging = on
}

// untilCharged returns how long until the threshold is crossed and whether it ever will be.
func (f *fakeCapacitor) untilCharged() (time.Duration, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.charging || f.chargeDelay < 0 {
		return 0, false
	}
	return f.chargeDelay - time.Since(f.since), true
}

type chargeLine struct {
	*gpiotest.Pin
	capacitor *fakeCapacitor
	outErr    error
}

func (p *chargeLine) Out(l gpio.Level) error {
	if p.outErr != nil {
		return p.outErr
	}
	p.capacitor.setCharging(l == gpio.High)
	return p.Pin.Out(l)
}

func (p *chargeLine) In(pull gpio.Pull, edge gpio.Edge) error {
	p.capacitor.setCharging(false)
	return p.Pin.In(pull, edge)
}

type dischargeLine struct {
	*gpiotest.Pin
	capacitor *fakeCapacitor
	edge      gpio.Edge
}

func (p *dischargeLine) In(pull gpio.Pull, edge gpio.Edge) error {
	p.edge = edge
	return p.Pin.In(pull, gpio.NoEdge)
}

func (p *dischargeLine) Read() gpio.Level {
	if d, ok := p.capacitor.untilCharged(); ok && d <= 0 {
		return gpio.High
	}
	return gpio.Low
}

func (p *dischargeLine) WaitForEdge(timeout time.Duration) bool {
	d, ok := p.capacitor.untilCharged()
	if !ok || p.edge != gpio.RisingEdge || d > timeout {
		time.Sleep(timeout)
		return false
	}
	if d > 0 {
		time.Sleep(d)
	}
	return true
}

func newFakeCircuit(t *testing.T, chargeDelay time.Duration, opts Opts) (*Circuit, *fakeCapacitor, *chargeLine, *dischargeLine) {
	t.Helper()
	fc := &fakeCapacitor{chargeDelay: chargeDelay}
	charge := &chargeLine{Pin: &gpiotest.Pin{N: "GPIO18", Num: 18}, capacitor: fc}
	discharge := &dischargeLine{Pin: &gpiotest.Pin{N: "GPIO25", Num: 25}, capacitor: fc}

	c, err := New(charge, discharge, opts)
	if err != nil {
		t.Fatalf("Failed to make circuit: %v", err)
	}
	return c, fc, charge, discharge
}

func testOpts(mode Mode) Opts {
	return Opts{
		DischargeDelay: time.Microsecond,
		Timeout:        50 * time.Millisecond,
		Samples:        3,
		Mode:           mode,
	}
}

func TestChargeTime(t *testing.T) {
	for _, mode := range []Mode{Poll, Edge} {
		t.Run(mode.String(), func(t *testing.T) {
			c, _, _, _ := newFakeCircuit(t, 2*time.Millisecond, testOpts(mode))

			got, err := c.AnalogRead(context.Background())
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got < 2*time.Millisecond || got > 40*time.Millisecond {
				t.Errorf("Charge time %v out of expected range", got)
			}
			if s := c.State(); s != Idle {
				t.Errorf("State is %v, want %v", s, Idle)
			}
		})
	}
}

func TestAnalogReadLeavesCapacitorDrained(t *testing.T) {
	c, fc, charge, discharge := newFakeCircuit(t, time.Millisecond, testOpts(Poll))

	if _, err := c.AnalogRead(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if _, ok := fc.untilCharged(); ok {
		t.Errorf("Capacitor still charging after AnalogRead")
	}
	if charge.Pin.P != gpio.Float {
		t.Errorf("Charge line pull is %v, want %v", charge.Pin.P, gpio.Float)
	}
	if discharge.Pin.L != gpio.Low {
		t.Errorf("Discharge line is %v, want %v", discharge.Pin.L, gpio.Low)
	}
}

func TestTimeout(t *testing.T) {
	for _, mode := range []Mode{Poll, Edge} {
		t.Run(mode.String(), func(t *testing.T) {
			opts := testOpts(mode)
			opts.Timeout = 5 * time.Millisecond
			c, _, _, _ := newFakeCircuit(t, -1, opts)

			_, err := c.AnalogRead(context.Background())
			if !errors.Is(err, ErrTimeout) {
				t.Fatalf("Want ErrTimeout, got %v", err)
			}
			if s := c.State(); s != TimedOut {
				t.Errorf("State is %v, want %v", s, TimedOut)
			}
		})
	}
}

func TestContextCanceled(t *testing.T) {
	opts := testOpts(Poll)
	opts.Timeout = time.Minute
	c, _, _, _ := newFakeCircuit(t, -1, opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.AnalogRead(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Want context.DeadlineExceeded, got %v", err)
	}
	if time.Since(start) > 10*time.Second {
		t.Errorf("AnalogRead did not return promptly after cancellation")
	}
}

func TestFault(t *testing.T) {
	c, _, charge, _ := newFakeCircuit(t, time.Millisecond, testOpts(Poll))
	charge.outErr = errors.New("pin is busted")

	if _, err := c.AverageChargeTime(context.Background()); err == nil {
		t.Fatalf("Expected error, got nil")
	}
	if s := c.State(); s != Fault {
		t.Errorf("State is %v, want %v", s, Fault)
	}
}

func TestAverageChargeTime(t *testing.T) {
	opts := testOpts(Poll)
	opts.Samples = 4
	c, fc, _, _ := newFakeCircuit(t, time.Millisecond, opts)

	got, err := c.AverageChargeTime(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got < time.Millisecond {
		t.Errorf("Average charge time %v shorter than the capacitor allows", got)
	}
	if fc.cycles != opts.Samples {
		t.Errorf("Got %d charge cycles, want %d", fc.cycles, opts.Samples)
	}
}

func TestHalt(t *testing.T) {
	c, _, charge, discharge := newFakeCircuit(t, time.Millisecond, testOpts(Poll))

	if err := c.Halt(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if charge.Pin.P != gpio.Float || discharge.Pin.P != gpio.Float {
		t.Errorf("Lines not floating after Halt: %v, %v", charge.Pin.P, discharge.Pin.P)
	}
	if s := c.State(); s != Idle {
		t.Errorf("State is %v, want %v", s, Idle)
	}
}

func TestNewInvalid(t *testing.T) {
	p := &gpiotest.Pin{N: "GPIO1"}
	cases := []struct {
		name string
		opts Opts
	}{
		{"zero_samples", Opts{Timeout: time.Second}},
		{"zero_timeout", Opts{Samples: 1}},
		{"negative_delay", Opts{Samples: 1, Timeout: time.Second, DischargeDelay: -1}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if _, err := New(p, p, c.opts); err == nil {
				t.Errorf("Expected error, got nil")
			}
		})
	}

	if _, err := New(nil, p, DefaultOpts); err == nil {
		t.Errorf("Expected error for nil pin, got nil")
	}
}

func TestParseMode(t *testing.T) {
	cases := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"poll", Poll, false},
		{" Edge ", Edge, false},
		{"interrupt", Poll, true},
	}

	for _, c := range cases {
		got, err := ParseMode(c.in)
		if (err != nil) != c.wantErr {
			t.Errorf("ParseMode(%q) error = %v, wantErr %v", c.in, err, c.wantErr)
		}
		if got != c.want {
			t.Errorf("ParseMode(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}
