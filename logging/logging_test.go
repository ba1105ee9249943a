package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{" warn ", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}

	for _, c := range cases {
		t.Run(c.in, func(t *testing.T) {
			got, err := ParseLevel(c.in)
			if (err != nil) != c.wantErr {
				t.Fatalf("Got error %v, want error: %v", err, c.wantErr)
			}
			if got != c.want {
				t.Errorf("Got %v, want %v", got, c.want)
			}
		})
	}
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&buf, FormatJSON, slog.LevelInfo, "thermometer")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	l.Debug("hidden")
	l.Info("reading", "temp_c", 18.5)

	var got map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("Expected exactly one JSON line, got %q: %v", buf.String(), err)
	}
	delete(got, "time")

	want := map[string]interface{}{
		"level":  "INFO",
		"msg":    "reading",
		"app":    "thermometer",
		"temp_c": 18.5,
	}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("Unexpected log line (-got +want):\n%s", diff)
	}
}

func TestNewText(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&buf, FormatText, slog.LevelWarn, "thermometer")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	l.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("Info logged at warn level: %q", buf.String())
	}
	l.Warn("charge timed out")
	if !bytes.Contains(buf.Bytes(), []byte("charge timed out")) {
		t.Errorf("Warning missing from output: %q", buf.String())
	}
}

func TestNewInvalidFormat(t *testing.T) {
	if _, err := New(&bytes.Buffer{}, "xml", slog.LevelInfo, "thermometer"); err == nil {
		t.Errorf("Expected error for invalid format, got nil")
	}
}

func TestCronLogger(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cl := CronLogger(l)
	cl.Info("wake", "now", "x")
	if buf.Len() != 0 {
		t.Errorf("cron info should log at debug level, got %q", buf.String())
	}

	cl.Error(errors.New("boom"), "panic", "job", "sense")

	var got map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("Bad log line %q: %v", buf.String(), err)
	}
	delete(got, "time")

	want := map[string]interface{}{
		"level":     "ERROR",
		"msg":       "panic",
		"component": "cron",
		"job":       "sense",
		"err":       "boom",
	}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("Unexpected log line (-got +want):\n%s", diff)
	}
}
