// Package station runs the live display: on every tick it reads the thermometer,
// lights the LED for the temperature band, caches the reading for the web UI, and
// hands it to any configured sinks.
package station

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mtraver/rc-thermometer/cache"
	"github.com/mtraver/rc-thermometer/led"
	"github.com/mtraver/rc-thermometer/measurement"
	"github.com/mtraver/rc-thermometer/sensor"
)

// ErrSensor marks a failure to take a measurement, as opposed to a failure to show or
// publish one.
var ErrSensor = errors.New("station: sensor failure")

// Indicator shows a temperature band, e.g. on a bank of LEDs.
type Indicator interface {
	ShowTemp(c float64) (led.Band, error)
}

// Sink records live readings somewhere other than the cache.
type Sink interface {
	Name() string
	PublishReading(ctx context.Context, r measurement.Reading) error
}

func logger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

type SetupJob struct {
	Sensor string
	Logger *slog.Logger
}

func (j SetupJob) Run() {
	s, err := sensor.Get(j.Sensor)
	if err != nil {
		logger(j.Logger).Error("error getting sensor", "sensor", j.Sensor, "err", err)
		return
	}
	if err := s.Init(); err != nil {
		logger(j.Logger).Error("failed to init sensor", "sensor", j.Sensor, "err", err)
	}
}

type SenseJob struct {
	DeviceID string
	Sensor   string

	// Indicator may be nil, in which case no band is shown.
	Indicator Indicator

	// Cache receives the latest reading under measurement.CacheKeyLatest(DeviceID),
	// valid for CacheTTL.
	Cache    *cache.Cache[measurement.Reading]
	CacheTTL time.Duration

	Sinks []Sink

	// Timeout bounds one run of the job: the measurement and all publishes.
	Timeout time.Duration

	// Dryrun logs readings instead of publishing them to sinks.
	Dryrun bool

	Logger *slog.Logger
	Now    func() time.Time
}

func (j SenseJob) Run() {
	ctx := context.Background()
	if j.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}

	if _, err := j.Sense(ctx); err != nil {
		logger(j.Logger).Error("live reading failed", "err", err)
	}
}

// Read takes one reading from the job's sensor without updating the display or
// publishing it.
func (j SenseJob) Read(ctx context.Context) (measurement.Reading, error) {
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}

	r := measurement.Reading{
		DeviceID:  j.DeviceID,
		Timestamp: now().UTC(),
	}

	s, err := sensor.Get(j.Sensor)
	if err != nil {
		return r, fmt.Errorf("%w: %w", ErrSensor, err)
	}
	if err := s.Sense(ctx, &r); err != nil {
		return r, fmt.Errorf("%w: %q: %w", ErrSensor, j.Sensor, err)
	}
	return r, nil
}

// Sense takes a reading and distributes it. The reading is returned even if showing
// it on the indicator or publishing it failed.
func (j SenseJob) Sense(ctx context.Context) (measurement.Reading, error) {
	l := logger(j.Logger)

	r, err := j.Read(ctx)
	if err != nil {
		return r, err
	}

	var errs []error
	if j.Indicator != nil {
		if _, err := j.Indicator.ShowTemp(r.Celsius); err != nil {
			errs = append(errs, fmt.Errorf("station: failed to show band: %w", err))
		}
	}

	if j.Cache != nil {
		j.Cache.Set(measurement.CacheKeyLatest(j.DeviceID), r, j.CacheTTL)
	}

	l.Debug("reading", "temp_c", r.Celsius, "temp_f", r.Fahrenheit(), "band", r.Band(),
		"resistance", r.Resistance, "charge_time", r.ChargeTime)

	if j.Dryrun {
		l.Info(r.String())
	} else if err := j.publish(ctx, r); err != nil {
		errs = append(errs, err)
	}

	return r, errors.Join(errs...)
}

func (j SenseJob) publish(ctx context.Context, r measurement.Reading) error {
	var wg sync.WaitGroup

	errs := make(chan error, len(j.Sinks))

	for _, sink := range j.Sinks {
		wg.Add(1)
		go func(sink Sink) {
			defer wg.Done()

			if err := sink.PublishReading(ctx, r); err != nil {
				errs <- fmt.Errorf("[%s] %w", sink.Name(), err)
				return
			}
			logger(j.Logger).Debug("successful publish", "sink", sink.Name())
		}(sink)
	}

	wg.Wait()
	close(errs)

	errSlice := []error{}
	for e := range errs {
		errSlice = append(errSlice, e)
	}

	return errors.Join(errSlice...)
}

type ShutdownJob struct {
	Sensor string
	Logger *slog.Logger
}

func (j ShutdownJob) Run() {
	s, err := sensor.Get(j.Sensor)
	if err != nil {
		logger(j.Logger).Error("error getting sensor", "sensor", j.Sensor, "err", err)
		return
	}
	if err := s.Shutdown(); err != nil {
		logger(j.Logger).Error("failed to shut down sensor", "sensor", j.Sensor, "err", err)
	}
}
