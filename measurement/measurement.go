// Package measurement holds thermistor readings and the samples taken during a
// timed session.
package measurement

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mtraver/rc-thermometer/led"
	"github.com/mtraver/rc-thermometer/thermistor"
)

// Used for separating substrings in database and cache keys. The octothorpe is
// fine for this because device IDs and timestamps can't contain it.
const keySep = "#"

// Reading is one averaged measurement of the RC circuit.
type Reading struct {
	DeviceID  string    `json:"device_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	// ChargeTime is the average time the capacitor took to reach the digital threshold.
	ChargeTime time.Duration `json:"charge_time_ns"`
	// Resistance of the thermistor in Ω.
	Resistance float64 `json:"resistance_ohms"`
	Celsius    float64 `json:"temp_c"`
}

// Fahrenheit returns the reading's temperature in °F.
func (r Reading) Fahrenheit() float64 {
	return thermistor.Fahrenheit(r.Celsius)
}

// Band returns the LED band for the reading's temperature.
func (r Reading) Band() led.Band {
	return led.BandFor(r.Celsius)
}

// DBKey returns a string key that promotes device ID and timestamp into the key.
func (r Reading) DBKey() string {
	return strings.Join([]string{r.DeviceID, r.Timestamp.Format(time.RFC3339)}, keySep)
}

func (r Reading) String() string {
	return fmt.Sprintf("%s %.3f°C %s", r.DeviceID, r.Celsius, r.Timestamp.Format(time.RFC3339))
}

// MarshalJSON adds the derived Fahrenheit and band fields.
func (r Reading) MarshalJSON() ([]byte, error) {
	type plain Reading
	return json.Marshal(struct {
		plain
		Fahrenheit float64 `json:"temp_f"`
		Band       string  `json:"band"`
	}{plain(r), r.Fahrenheit(), r.Band().String()})
}

// CacheKeyLatest returns the cache key of the latest reading for the given device ID.
func CacheKeyLatest(deviceID string) string {
	return strings.Join([]string{deviceID, "latest"}, keySep)
}

// Point is one sample of a timed session. Keeping elapsed time and temperature in one
// struct keeps the two plotted series the same length.
type Point struct {
	Elapsed time.Duration
	Celsius float64
}

// serializablePoint is what plotting clients get: elapsed whole seconds and °C.
type serializablePoint struct {
	Elapsed float64 `json:"elapsed"`
	Temp    float64 `json:"temp"`
}

// PointsToJSON marshals session points as an array of {"elapsed": s, "temp": c}.
func PointsToJSON(points []Point) ([]byte, error) {
	data := make([]serializablePoint, len(points))
	for i, p := range points {
		data[i] = serializablePoint{p.Elapsed.Seconds(), p.Celsius}
	}
	return json.Marshal(data)
}
