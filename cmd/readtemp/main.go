// Program readtemp takes one reading from the thermistor and prints it.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"periph.io/x/host/v3"

	"github.com/mtraver/rc-thermometer/device"
	"github.com/mtraver/rc-thermometer/measurement"
	"github.com/mtraver/rc-thermometer/sensor"
	"github.com/mtraver/rc-thermometer/sensor/dummy"
)

var (
	hw = device.DefaultConfig()

	deviceID string
	asJSON   bool
	timeout  time.Duration
)

func init() {
	hw.RegisterFlags(flag.CommandLine)

	flag.StringVar(&deviceID, "device", "none", "device ID attached to the reading")
	flag.BoolVar(&asJSON, "json", false, "print the reading as JSON")
	flag.DurationVar(&timeout, "timeout", 5*time.Second, "give up after this long")
}

func fatal(format string, a ...interface{}) {
	fmt.Printf(format+"\n", a...)
	os.Exit(1)
}

func toJSON(r measurement.Reading) (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func toText(r measurement.Reading) string {
	return fmt.Sprintf("%.2f°C %.2f°F (%s)", r.Celsius, r.Fahrenheit(), r.Band())
}

func openSensor() (sensor.Sensor, error) {
	if hw.Sensor == device.SensorDummy {
		return dummy.New(), nil
	}

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph: %w", err)
	}
	return hw.OpenSensor()
}

func main() {
	flag.Parse()
	if err := hw.Validate(); err != nil {
		fmt.Printf("argument error: %v\n", err)
		os.Exit(2)
	}

	// Interrupting a read still shuts the sensor down, leaving the pins floating.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSensor()
	if err != nil {
		fatal("Error connecting to sensor: %v", err)
	}

	r, err := read(ctx, s)
	stop()
	if err != nil {
		fatal("Failed to read temp: %v", err)
	}

	if asJSON {
		out, err := toJSON(r)
		if err != nil {
			fatal("Failed to marshal reading: %v", err)
		}
		fmt.Println(out)
	} else {
		fmt.Println(toText(r))
	}
}

// read takes one reading, shutting the sensor down afterwards whether or not it
// succeeded.
func read(ctx context.Context, s sensor.Sensor) (measurement.Reading, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.Init(); err != nil {
		s.Shutdown()
		return measurement.Reading{}, err
	}
	defer s.Shutdown()

	r := measurement.Reading{
		DeviceID:  deviceID,
		Timestamp: time.Now().UTC(),
	}
	err := s.Sense(ctx, &r)
	return r, err
}
