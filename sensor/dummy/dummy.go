// Package dummy is a simulated thermistor for running the program off-device. Its
// temperature drifts slowly around a set point so the UI and sinks have something
// to show.
package dummy

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/mtraver/rc-thermometer/measurement"
	"github.com/mtraver/rc-thermometer/thermistor"
)

type Dummy struct {
	// SetPoint is the temperature the simulation oscillates around, in °C.
	SetPoint float64
	// Amplitude of the oscillation in °C.
	Amplitude float64
	// Period of one full oscillation.
	Period time.Duration
	Params thermistor.Params
	// Logger defaults to slog.Default().
	Logger *slog.Logger

	mu    sync.Mutex
	start time.Time
	now   func() time.Time
}

// New returns a Dummy oscillating ±6°C around 20°C every 10 minutes, which walks
// through all three LED bands.
func New() *Dummy {
	return &Dummy{
		SetPoint:  20,
		Amplitude: 6,
		Period:    10 * time.Minute,
		Params:    thermistor.DefaultParams,
		now:       time.Now,
	}
}

func (d *Dummy) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.start = d.now()
	d.logger().Info("dummy sensor init", "set_point", d.SetPoint, "amplitude", d.Amplitude, "period", d.Period)
	return nil
}

// Sense computes the simulated temperature and runs it back through the same
// conversions the real circuit uses, so charge time and resistance are consistent.
func (d *Dummy) Sense(ctx context.Context, r *measurement.Reading) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	elapsed := d.now().Sub(d.start)
	d.mu.Unlock()

	phase := 2 * math.Pi * elapsed.Seconds() / d.Period.Seconds()
	c := d.SetPoint + d.Amplitude*math.Sin(phase)

	resistance := d.Params.ResistanceAt(c)
	micros := d.Params.ChargeMicros(resistance)

	r.ChargeTime = time.Duration(micros * float64(time.Microsecond))
	r.Resistance = resistance
	r.Celsius = c
	return nil
}

func (d *Dummy) Shutdown() error {
	d.logger().Info("dummy sensor shutdown")
	return nil
}

func (d *Dummy) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}
