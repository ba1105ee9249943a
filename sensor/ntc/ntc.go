// Package ntc is a Sensor backed by an NTC thermistor in an RC timing circuit.
package ntc

import (
	"context"
	"fmt"
	"time"

	"github.com/mtraver/rc-thermometer/measurement"
	"github.com/mtraver/rc-thermometer/rc"
	"github.com/mtraver/rc-thermometer/thermistor"
)

// Circuit is the part of *rc.Circuit the sensor needs.
type Circuit interface {
	Discharge() error
	AverageChargeTime(ctx context.Context) (time.Duration, error)
	State() rc.State
	Halt() error
}

type NTC struct {
	circuit Circuit
	params  thermistor.Params
}

func New(c Circuit, p thermistor.Params) (*NTC, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	return &NTC{
		circuit: c,
		params:  p,
	}, nil
}

// Init drains the capacitor so the first measurement starts from empty.
func (s *NTC) Init() error {
	return s.circuit.Discharge()
}

func (s *NTC) Sense(ctx context.Context, r *measurement.Reading) error {
	avg, err := s.circuit.AverageChargeTime(ctx)
	if err != nil {
		return err
	}

	micros := float64(avg) / float64(time.Microsecond)
	resistance, err := s.params.Resistance(micros)
	if err != nil {
		return fmt.Errorf("ntc: circuit state %v: %w", s.circuit.State(), err)
	}

	c, err := s.params.Celsius(resistance)
	if err != nil {
		return err
	}

	r.ChargeTime = avg
	r.Resistance = resistance
	r.Celsius = c
	return nil
}

// State reports the underlying circuit's state.
func (s *NTC) State() rc.State {
	return s.circuit.State()
}

func (s *NTC) Shutdown() error {
	return s.circuit.Halt()
}
