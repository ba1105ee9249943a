package influx

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/mtraver/rc-thermometer/measurement"
	"github.com/mtraver/rc-thermometer/session"
)

var testTimestamp = time.Date(2018, time.March, 25, 0, 0, 0, 0, time.UTC)

func TestNewReadingPoint(t *testing.T) {
	cases := []struct {
		name string
		r    measurement.Reading
		want *write.Point
	}{
		{
			name: "green",
			r: measurement.Reading{
				DeviceID:   "foo",
				Timestamp:  testTimestamp,
				ChargeTime: 1500 * time.Microsecond,
				Resistance: 1200,
				Celsius:    20,
			},
			want: influxdb2.NewPointWithMeasurement("thermistor").
				AddTag("device", "foo").AddTag("band", "green").
				AddField("temp", 20.0).AddField("temp_f", 68.0).
				AddField("resistance", 1200.0).AddField("charge_us", 1500.0).
				SetTime(testTimestamp),
		},
		{
			name: "red",
			r: measurement.Reading{
				DeviceID:   "foo",
				Timestamp:  testTimestamp,
				ChargeTime: 3 * time.Millisecond,
				Resistance: 3000,
				Celsius:    5,
			},
			want: influxdb2.NewPointWithMeasurement("thermistor").
				AddTag("device", "foo").AddTag("band", "red").
				AddField("temp", 5.0).AddField("temp_f", 41.0).
				AddField("resistance", 3000.0).AddField("charge_us", 3000.0).
				SetTime(testTimestamp),
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := newReadingPoint(c.r)
			if diff := cmp.Diff(got, c.want, cmp.AllowUnexported(write.Point{})); diff != "" {
				t.Errorf("Unexpected result (-got +want):\n%s", diff)
			}
		})
	}
}

func TestNewSessionPoints(t *testing.T) {
	res := session.Result{
		ID:      "s1",
		Total:   time.Minute,
		Started: testTimestamp,
		Points: []measurement.Point{
			{Elapsed: 0, Celsius: 18.5},
			{Elapsed: 10 * time.Second, Celsius: 19},
		},
	}

	want := []*write.Point{
		influxdb2.NewPointWithMeasurement("session").
			AddTag("device", "foo").AddTag("session", "s1").
			AddField("elapsed", 0.0).AddField("temp", 18.5).
			SetTime(testTimestamp),
		influxdb2.NewPointWithMeasurement("session").
			AddTag("device", "foo").AddTag("session", "s1").
			AddField("elapsed", 10.0).AddField("temp", 19.0).
			SetTime(testTimestamp.Add(10 * time.Second)),
	}

	got := newSessionPoints("foo", res)
	if diff := cmp.Diff(got, want, cmp.AllowUnexported(write.Point{})); diff != "" {
		t.Errorf("Unexpected result (-got +want):\n%s", diff)
	}
}
