// Package sensor defines the interface temperature sources implement and a registry
// so that the program can pick one by name at startup.
package sensor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mtraver/rc-thermometer/measurement"
)

var (
	sensorsMu sync.Mutex
	sensors   map[string]Sensor
)

type Sensor interface {
	// Init performs any sensor-specific initialization.
	Init() error
	// Sense takes a measurement and sets the temperature fields of the given Reading.
	// The caller owns the Reading's identifying fields (device ID, timestamp).
	Sense(ctx context.Context, r *measurement.Reading) error
	// Shutdown performs any sensor-specific shutdown or cleanup operations, like
	// returning GPIO lines to their default state.
	Shutdown() error
}

// Register adds a Sensor to the set of available sensors.
func Register(name string, s Sensor) {
	sensorsMu.Lock()
	defer sensorsMu.Unlock()

	if sensors == nil {
		sensors = make(map[string]Sensor)
	}
	sensors[name] = s
}

// Get looks up a sensor by name. It returns an error if no sensor with
// the given name is found.
func Get(name string) (Sensor, error) {
	sensorsMu.Lock()
	defer sensorsMu.Unlock()

	s, ok := sensors[name]
	if !ok {
		return nil, fmt.Errorf("unknown sensor %q", name)
	}
	return s, nil
}

// Names returns the names of all registered sensors in sorted order.
func Names() []string {
	sensorsMu.Lock()
	defer sensorsMu.Unlock()

	names := make([]string, 0, len(sensors))
	for name := range sensors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
