// Package device wires the thermometer's hardware together from command-line
// configuration: it looks up GPIO lines by name and builds the RC circuit, the
// thermistor sensor, and the LED bank.
package device

import (
	"flag"
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"

	"github.com/mtraver/rc-thermometer/led"
	"github.com/mtraver/rc-thermometer/rc"
	"github.com/mtraver/rc-thermometer/sensor/ntc"
	"github.com/mtraver/rc-thermometer/thermistor"
)

// Names of the sensors the programs can use.
const (
	SensorNTC   = "ntc"
	SensorDummy = "dummy"
)

// Pins holds GPIO line names as understood by gpioreg, e.g. "GPIO18".
type Pins struct {
	Charge    string
	Discharge string
	Red       string
	Yellow    string
	Green     string
}

var DefaultPins = Pins{
	Charge:    "GPIO18",
	Discharge: "GPIO25",
	Red:       "GPIO17",
	Yellow:    "GPIO27",
	Green:     "GPIO22",
}

// Config is the hardware configuration shared by the programs.
type Config struct {
	Sensor string
	Pins   Pins
	Params thermistor.Params
	RC     rc.Opts

	mode string
}

// DefaultConfig matches the circuit the program was built for.
func DefaultConfig() Config {
	return Config{
		Sensor: SensorNTC,
		Pins:   DefaultPins,
		Params: thermistor.DefaultParams,
		RC:     rc.DefaultOpts,
		mode:   rc.DefaultOpts.Mode.String(),
	}
}

// RegisterFlags adds flags for every field of c to fs, using c's values as defaults.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Sensor, "sensor", c.Sensor, fmt.Sprintf("temperature source: %q for the RC circuit or %q to simulate one", SensorNTC, SensorDummy))

	fs.StringVar(&c.Pins.Charge, "charge-pin", c.Pins.Charge, "GPIO line that charges the capacitor")
	fs.StringVar(&c.Pins.Discharge, "discharge-pin", c.Pins.Discharge, "GPIO line that discharges the capacitor and senses its voltage")
	fs.StringVar(&c.Pins.Red, "red-pin", c.Pins.Red, "GPIO line driving the red LED")
	fs.StringVar(&c.Pins.Yellow, "yellow-pin", c.Pins.Yellow, "GPIO line driving the yellow LED")
	fs.StringVar(&c.Pins.Green, "green-pin", c.Pins.Green, "GPIO line driving the green LED")

	fs.Float64Var(&c.Params.Capacitance, "capacitance", c.Params.Capacitance, "capacitance of the timing capacitor in µF")
	fs.Float64Var(&c.Params.SeriesResistance, "series-resistance", c.Params.SeriesResistance, "resistance of the series resistor in Ω")
	fs.Float64Var(&c.Params.Beta, "beta", c.Params.Beta, "thermistor beta coefficient")
	fs.Float64Var(&c.Params.NominalResistance, "r0", c.Params.NominalResistance, "thermistor resistance at 25°C in Ω")
	fs.Float64Var(&c.Params.SupplyVoltage, "vdd", c.Params.SupplyVoltage, "supply voltage in V")

	fs.DurationVar(&c.RC.DischargeDelay, "discharge-delay", c.RC.DischargeDelay, "how long to drain the capacitor before and after each charge")
	fs.DurationVar(&c.RC.Timeout, "charge-timeout", c.RC.Timeout, "give up on a charge cycle after this long")
	fs.IntVar(&c.RC.Samples, "samples", c.RC.Samples, "charge cycles averaged per reading")
	fs.StringVar(&c.mode, "charge-mode", c.mode, `how to detect the end of a charge cycle: "poll" or "edge"`)
}

// Validate checks the configuration and resolves values that flags hold as strings.
func (c *Config) Validate() error {
	switch c.Sensor {
	case SensorNTC, SensorDummy:
	default:
		return fmt.Errorf("device: unknown sensor %q", c.Sensor)
	}

	if c.mode != "" {
		m, err := rc.ParseMode(c.mode)
		if err != nil {
			return err
		}
		c.RC.Mode = m
	}

	return c.Params.Validate()
}

func lookup(name string) (gpio.PinIO, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("device: no GPIO line named %q", name)
	}
	return p, nil
}

// OpenCircuit returns the RC circuit on the configured lines.
func (c Config) OpenCircuit() (*rc.Circuit, error) {
	charge, err := lookup(c.Pins.Charge)
	if err != nil {
		return nil, err
	}
	discharge, err := lookup(c.Pins.Discharge)
	if err != nil {
		return nil, err
	}
	if charge.Number() == discharge.Number() {
		return nil, fmt.Errorf("device: charge and discharge lines are both %s", charge)
	}

	return rc.New(charge, discharge, c.RC)
}

// OpenSensor returns the thermistor sensor on the configured RC circuit.
func (c Config) OpenSensor() (*ntc.NTC, error) {
	circuit, err := c.OpenCircuit()
	if err != nil {
		return nil, err
	}
	return ntc.New(circuit, c.Params)
}

// OpenLEDs returns the LED bank on the configured lines, all off.
func (c Config) OpenLEDs() (*led.Bank, error) {
	var pins [3]gpio.PinIO
	for i, name := range []string{c.Pins.Red, c.Pins.Yellow, c.Pins.Green} {
		p, err := lookup(name)
		if err != nil {
			return nil, err
		}
		pins[i] = p
	}

	return led.NewBank(pins[0], pins[1], pins[2])
}
