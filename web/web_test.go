package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/mtraver/rc-thermometer/cache"
	"github.com/mtraver/rc-thermometer/measurement"
	"github.com/mtraver/rc-thermometer/session"
)

var (
	quiet         = slog.New(slog.NewTextHandler(io.Discard, nil))
	testTimestamp = time.Date(2018, 3, 25, 0, 0, 0, 0, time.UTC)

	testResult = session.Result{
		Total:    time.Minute,
		Started:  testTimestamp,
		Finished: testTimestamp.Add(time.Minute),
		Points: []measurement.Point{
			{Elapsed: 0, Celsius: 18},
			{Elapsed: 10 * time.Second, Celsius: 20},
		},
		Summary: measurement.Summary{Count: 2, Mean: 19, StdDev: 1, Min: 18, Max: 20},
	}
)

type fakeRunner struct {
	startErr error
	started  []time.Duration
	status   session.Status
	last     *session.Result
}

func (f *fakeRunner) Start(total time.Duration) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, total)
	f.status = session.Status{Active: true, Total: int(total / time.Second), Remaining: int(total / time.Second),
		UntilNextSample: 10, Countdown: session.FormatCountdown(total), Samples: 1}
	return nil
}

func (f *fakeRunner) Status() session.Status { return f.status }

func (f *fakeRunner) Last() (session.Result, bool) {
	if f.last == nil {
		return session.Result{}, false
	}
	return *f.last, true
}

type fakeArchive struct {
	sessions []session.Archived
}

func (f fakeArchive) Sessions(ctx context.Context, limit int) ([]session.Archived, error) {
	return f.sessions, nil
}

func (f fakeArchive) Session(ctx context.Context, id int64) (session.Archived, error) {
	for _, a := range f.sessions {
		if a.ID == id {
			return a, nil
		}
	}
	return session.Archived{}, session.ErrNotFound
}

func newTestServer(runner *fakeRunner, archive Archive) (Server, *cache.Cache[measurement.Reading]) {
	c := cache.New[measurement.Reading]()
	return Server{
		DeviceID: "rpi",
		Latest:   c,
		Sessions: runner,
		Archive:  archive,
		Logger:   quiet,
	}, c
}

func do(t *testing.T, h http.Handler, method, target string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, target, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIndex(t *testing.T) {
	s, _ := newTestServer(&fakeRunner{}, nil)
	rec := do(t, s.Handler(), "GET", "/", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("Got status %d, want %d", rec.Code, http.StatusOK)
	}

	body := rec.Body.String()
	for _, want := range []string{
		"Temperature reader and plotter",
		"Temperatures are recorded at 10 second intervals",
		"Select an option",
		`data-seconds="60">1 minute<`,
		`data-seconds="120">2 minutes<`,
		`data-seconds="300">5 minutes<`,
		`data-seconds="600">10 minutes<`,
		"Temp C",
		"Temp F",
		"Timer",
		"Time till next reading",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("Page is missing %q", want)
		}
	}
}

func TestLatest(t *testing.T) {
	s, c := newTestServer(&fakeRunner{}, nil)
	h := s.Handler()

	if rec := do(t, h, "GET", "/api/latest", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Got status %d before any reading, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	c.Set(measurement.CacheKeyLatest("rpi"), measurement.Reading{
		DeviceID:  "rpi",
		Timestamp: testTimestamp,
		Celsius:   20,
	}, time.Hour)

	rec := do(t, h, "GET", "/api/latest", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Got status %d, want %d", rec.Code, http.StatusOK)
	}

	var got map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("Bad JSON: %v", err)
	}
	if got["temp_c"] != 20.0 || got["temp_f"] != 68.0 || got["band"] != "green" {
		t.Errorf("Unexpected reading: %v", got)
	}
}

func TestStartSession(t *testing.T) {
	cases := []struct {
		name       string
		startErr   error
		duration   string
		wantStatus int
	}{
		{"ok", nil, "60", http.StatusAccepted},
		{"not_a_number", nil, "soon", http.StatusBadRequest},
		{"invalid", session.ErrInvalidDuration, "45", http.StatusBadRequest},
		{"active", session.ErrSessionActive, "60", http.StatusConflict},
		{"other", errors.New("scheduler down"), "60", http.StatusInternalServerError},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			runner := &fakeRunner{startErr: c.startErr}
			s, _ := newTestServer(runner, nil)

			rec := do(t, s.Handler(), "POST", "/api/session", url.Values{"duration": {c.duration}})
			if rec.Code != c.wantStatus {
				t.Errorf("Got status %d, want %d: %s", rec.Code, c.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestSessionStatus(t *testing.T) {
	runner := &fakeRunner{}
	s, _ := newTestServer(runner, nil)
	h := s.Handler()

	rec := do(t, h, "POST", "/api/session", url.Values{"duration": {"120"}})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("Got status %d, want %d", rec.Code, http.StatusAccepted)
	}
	if diff := cmp.Diff(runner.started, []time.Duration{2 * time.Minute}); diff != "" {
		t.Errorf("Unexpected starts (-got +want):\n%s", diff)
	}

	res := testResult
	runner.last = &res

	rec = do(t, h, "GET", "/api/session", nil)
	var got struct {
		Active    bool   `json:"active"`
		Countdown string `json:"countdown"`
		Next      int    `json:"until_next_sample"`
		Last      struct {
			Total  int `json:"total"`
			Points []struct {
				Elapsed float64 `json:"elapsed"`
				Temp    float64 `json:"temp"`
			} `json:"points"`
			Summary measurement.Summary `json:"summary"`
		} `json:"last"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("Bad JSON: %v", err)
	}

	if !got.Active || got.Countdown != "2:00" || got.Next != 10 {
		t.Errorf("Unexpected status: %+v", got)
	}
	if got.Last.Total != 60 || len(got.Last.Points) != 2 || got.Last.Points[1].Elapsed != 10 {
		t.Errorf("Unexpected last session: %+v", got.Last)
	}
	if diff := cmp.Diff(got.Last.Summary, testResult.Summary); diff != "" {
		t.Errorf("Unexpected summary (-got +want):\n%s", diff)
	}
}

func TestPlot(t *testing.T) {
	runner := &fakeRunner{}
	s, _ := newTestServer(runner, nil)
	h := s.Handler()

	if rec := do(t, h, "GET", "/session/plot.svg", nil); rec.Code != http.StatusNotFound {
		t.Errorf("Got status %d with no finished session, want %d", rec.Code, http.StatusNotFound)
	}

	res := testResult
	runner.last = &res

	rec := do(t, h, "GET", "/session/plot.svg", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Got status %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/svg+xml" {
		t.Errorf("Got content type %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "Temperature Readings Graph") {
		t.Errorf("Plot is missing its title")
	}
}

func TestArchive(t *testing.T) {
	archive := fakeArchive{sessions: []session.Archived{
		{ID: 7, DeviceID: "rpi", Result: testResult},
	}}
	s, _ := newTestServer(&fakeRunner{}, archive)
	h := s.Handler()

	rec := do(t, h, "GET", "/api/sessions", nil)
	var got []struct {
		ID       int64  `json:"id"`
		DeviceID string `json:"device_id"`
		Total    int    `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("Bad JSON: %v", err)
	}
	want := []struct {
		ID       int64  `json:"id"`
		DeviceID string `json:"device_id"`
		Total    int    `json:"total"`
	}{{7, "rpi", 60}}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("Unexpected archive (-got +want):\n%s", diff)
	}

	if rec := do(t, h, "GET", "/sessions/7/plot.svg", nil); rec.Code != http.StatusOK {
		t.Errorf("Got status %d for archived plot, want %d", rec.Code, http.StatusOK)
	}
	if rec := do(t, h, "GET", "/sessions/8/plot.svg", nil); rec.Code != http.StatusNotFound {
		t.Errorf("Got status %d for unknown session, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestArchiveDisabled(t *testing.T) {
	s, _ := newTestServer(&fakeRunner{}, nil)
	rec := do(t, s.Handler(), "GET", "/api/sessions", nil)
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("Got %d %q, want 200 []", rec.Code, rec.Body.String())
	}
}

func TestHealthzAndMethods(t *testing.T) {
	s, _ := newTestServer(&fakeRunner{}, nil)
	h := s.Handler()

	if rec := do(t, h, "GET", "/healthz", nil); rec.Code != http.StatusOK {
		t.Errorf("Got status %d for /healthz", rec.Code)
	}
	if rec := do(t, h, "DELETE", "/api/session", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Got status %d for DELETE, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}
