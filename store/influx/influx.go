// Package influx writes readings and session samples to InfluxDB.
package influx

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/mtraver/rc-thermometer/measurement"
	"github.com/mtraver/rc-thermometer/session"
)

const (
	readingMeasurement = "thermistor"
	sessionMeasurement = "session"
)

func newReadingPoint(r measurement.Reading) *write.Point {
	return influxdb2.NewPointWithMeasurement(readingMeasurement).
		AddTag("device", r.DeviceID).
		AddTag("band", r.Band().String()).
		AddField("temp", r.Celsius).
		AddField("temp_f", r.Fahrenheit()).
		AddField("resistance", r.Resistance).
		AddField("charge_us", float64(r.ChargeTime)/float64(time.Microsecond)).
		SetTime(r.Timestamp)
}

// newSessionPoints returns one point per sample, timestamped at the moment it was
// taken and tagged with the session ID.
func newSessionPoints(deviceID string, res session.Result) []*write.Point {
	points := make([]*write.Point, 0, len(res.Points))
	for _, p := range res.Points {
		points = append(points, influxdb2.NewPointWithMeasurement(sessionMeasurement).
			AddTag("device", deviceID).
			AddTag("session", res.ID).
			AddField("elapsed", p.Elapsed.Seconds()).
			AddField("temp", p.Celsius).
			SetTime(res.Started.Add(p.Elapsed)))
	}

	return points
}

type InfluxDB struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
}

func NewInfluxDB(serverURL, token, org, bucket string) *InfluxDB {
	client := influxdb2.NewClient(serverURL, token)
	return &InfluxDB{
		client: client,
		write:  client.WriteAPIBlocking(org, bucket),
	}
}

func (db *InfluxDB) Name() string {
	return "influxdb"
}

func (db *InfluxDB) PublishReading(ctx context.Context, r measurement.Reading) error {
	if err := db.write.WritePoint(ctx, newReadingPoint(r)); err != nil {
		return fmt.Errorf("influx: failed to write reading: %w", err)
	}
	return nil
}

func (db *InfluxDB) SaveSession(ctx context.Context, deviceID string, res session.Result) error {
	points := newSessionPoints(deviceID, res)
	if len(points) == 0 {
		return nil
	}
	if err := db.write.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("influx: failed to write session: %w", err)
	}
	return nil
}

func (db *InfluxDB) Close() {
	db.client.Close()
}
