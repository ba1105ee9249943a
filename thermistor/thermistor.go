// Package thermistor converts RC charge times into NTC thermistor resistance and
// temperature using the single-coefficient (beta) form of the Steinhart-Hart equation.
package thermistor

import (
	"errors"
	"fmt"
	"math"
)

const (
	// ZeroCelsius is 0 °C in Kelvin.
	ZeroCelsius = 273.15

	// The capacitor reads as digital HIGH at roughly 63.2% of the supply voltage
	// (one RC time constant).
	thresholdFraction = 0.632
)

// ErrNonPositiveResistance is returned when a charge time or resistance would put the
// Steinhart-Hart logarithm outside its domain, which in practice means the circuit is
// shorted, disconnected, or the constants don't match the hardware.
var ErrNonPositiveResistance = errors.New("thermistor: resistance must be positive")

// Params describes the fixed parts of the circuit and the thermistor's characteristics.
type Params struct {
	// Capacitance of the timing capacitor in µF.
	Capacitance float64
	// SeriesResistance is the fixed resistor in series with the thermistor, in Ω.
	SeriesResistance float64
	// Beta is the thermistor's B constant.
	Beta float64
	// NominalResistance is the thermistor's resistance at 25 °C, in Ω.
	NominalResistance float64
	// SupplyVoltage is the voltage on the charging line, in V.
	SupplyVoltage float64
}

// DefaultParams matches the Monk Makes starter kit: a 0.33 µF capacitor (tuned to 0.38
// to correct for component tolerance), a 1 kΩ resistor, and a 1 kΩ, B=3800 thermistor.
var DefaultParams = Params{
	Capacitance:       0.38,
	SeriesResistance:  1000,
	Beta:              3800,
	NominalResistance: 1000,
	SupplyVoltage:     3.3,
}

// Validate returns an error if any parameter is not strictly positive.
func (p Params) Validate() error {
	fields := []struct {
		name string
		v    float64
	}{
		{"capacitance", p.Capacitance},
		{"series resistance", p.SeriesResistance},
		{"beta", p.Beta},
		{"nominal resistance", p.NominalResistance},
		{"supply voltage", p.SupplyVoltage},
	}
	for _, f := range fields {
		if !(f.v > 0) || math.IsInf(f.v, 0) {
			return fmt.Errorf("thermistor: %s must be positive and finite, got %v", f.name, f.v)
		}
	}

	return nil
}

// Resistance converts an average charge time in microseconds into the thermistor's
// resistance in Ω by subtracting the series resistor from the total RC resistance.
func (p Params) Resistance(avgChargeMicros float64) (float64, error) {
	t := avgChargeMicros * thresholdFraction * p.SupplyVoltage
	r := t/p.Capacitance - p.SeriesResistance
	if !(r > 0) {
		return r, fmt.Errorf("%w: %.3f Ω from %.3f µs charge time", ErrNonPositiveResistance, r, avgChargeMicros)
	}

	return r, nil
}

// Celsius returns the temperature in °C for the given thermistor resistance in Ω.
func (p Params) Celsius(r float64) (float64, error) {
	if !(r > 0) {
		return 0, fmt.Errorf("%w: got %v Ω", ErrNonPositiveResistance, r)
	}

	t25 := ZeroCelsius + 25.0
	invT := 1/t25 + math.Log(r/p.NominalResistance)/p.Beta
	return 1/invT - ZeroCelsius, nil
}

// Fahrenheit converts °C to °F.
func Fahrenheit(c float64) float64 {
	return c*1.8 + 32
}

// ResistanceAt is the inverse of Celsius: the thermistor's resistance in Ω at the
// given temperature in °C.
func (p Params) ResistanceAt(c float64) float64 {
	t := c + ZeroCelsius
	t25 := ZeroCelsius + 25.0
	return p.NominalResistance * math.Exp(p.Beta*(1/t-1/t25))
}

// ChargeMicros is the inverse of Resistance: the charge time in µs expected for the
// given thermistor resistance in Ω.
func (p Params) ChargeMicros(r float64) float64 {
	return (r + p.SeriesResistance) * p.Capacitance / (thresholdFraction * p.SupplyVoltage)
}
