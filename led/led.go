// Package led drives a red/yellow/green bank of status LEDs from a temperature.
package led

import (
	"errors"
	"fmt"
	"math"

	"periph.io/x/conn/v3/gpio"
)

// Band is one of the three mutually exclusive indicator states.
type Band int

const (
	Red Band = iota
	Yellow
	Green
)

func (b Band) String() string {
	switch b {
	case Red:
		return "red"
	case Yellow:
		return "yellow"
	case Green:
		return "green"
	default:
		return fmt.Sprintf("Band(%d)", int(b))
	}
}

// Comfort band limits in °C.
const (
	lowerRed    = 15.0
	lowerYellow = 18.0
	upperYellow = 22.0
	upperRed    = 25.0
)

// BandFor maps a temperature in °C to a band:
//
//	red     c < 15 or c > 25
//	yellow  15 <= c < 18 or 22 < c <= 25
//	green   18 <= c <= 22
//
// NaN maps to red.
func BandFor(c float64) Band {
	switch {
	case math.IsNaN(c), c < lowerRed, c > upperRed:
		return Red
	case c < lowerYellow, c > upperYellow:
		return Yellow
	default:
		return Green
	}
}

// Bank is an exclusive handle on the three LED lines.
type Bank struct {
	red    gpio.PinOut
	yellow gpio.PinOut
	green  gpio.PinOut
}

// NewBank returns a Bank with all LEDs off.
func NewBank(red, yellow, green gpio.PinOut) (*Bank, error) {
	if red == nil || yellow == nil || green == nil {
		return nil, errors.New("led: red, yellow, and green pins are required")
	}

	b := &Bank{red: red, yellow: yellow, green: green}
	if err := b.Halt(); err != nil {
		return nil, err
	}
	return b, nil
}

// Show lights exactly the LED for the given band.
func (b *Bank) Show(band Band) error {
	if band < Red || band > Green {
		return fmt.Errorf("led: unknown band %v", band)
	}

	lines := []struct {
		band Band
		pin  gpio.PinOut
	}{
		{Red, b.red},
		{Yellow, b.yellow},
		{Green, b.green},
	}

	// Turn the others off before turning the new one on so two are never lit at once.
	for _, l := range lines {
		if l.band == band {
			continue
		}
		if err := l.pin.Out(gpio.Low); err != nil {
			return fmt.Errorf("led: failed to turn off %v: %w", l.band, err)
		}
	}

	for _, l := range lines {
		if l.band == band {
			if err := l.pin.Out(gpio.High); err != nil {
				return fmt.Errorf("led: failed to turn on %v: %w", l.band, err)
			}
		}
	}

	return nil
}

// ShowTemp lights the LED for the band containing the given temperature in °C.
func (b *Bank) ShowTemp(c float64) (Band, error) {
	band := BandFor(c)
	return band, b.Show(band)
}

// Halt turns all LEDs off.
func (b *Bank) Halt() error {
	var errs []error
	for _, p := range []gpio.PinOut{b.red, b.yellow, b.green} {
		if err := p.Out(gpio.Low); err != nil {
			errs = append(errs, fmt.Errorf("led: failed to turn off %s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}
