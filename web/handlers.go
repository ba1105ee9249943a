package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/mtraver/rc-thermometer/cache"
	"github.com/mtraver/rc-thermometer/measurement"
	"github.com/mtraver/rc-thermometer/plot"
	"github.com/mtraver/rc-thermometer/session"
)

// Number of archived sessions listed by /api/sessions.
const archiveListLimit = 50

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type durationButton struct {
	Label   string
	Seconds int
}

type indexHandler struct {
	Template *template.Template
}

func (h indexHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data := struct {
		SampleSeconds int
		Durations     []durationButton
	}{
		SampleSeconds: int(session.SampleInterval / time.Second),
	}
	for _, d := range session.Durations {
		m := int(d / time.Minute)
		label := fmt.Sprintf("%d minutes", m)
		if m == 1 {
			label = "1 minute"
		}
		data.Durations = append(data.Durations, durationButton{Label: label, Seconds: int(d / time.Second)})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.Template.ExecuteTemplate(w, "index", data); err != nil {
		http.Error(w, fmt.Sprintf("Could not execute template: %v", err), http.StatusInternalServerError)
	}
}

type latestHandler struct {
	DeviceID string
	Cache    *cache.Cache[measurement.Reading]
}

func (h latestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reading, err := h.Cache.Get(measurement.CacheKeyLatest(h.DeviceID))
	if errors.Is(err, cache.ErrCacheMiss) {
		http.Error(w, "No recent reading", http.StatusServiceUnavailable)
		return
	} else if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, reading)
}

// resultJSON is a finished session as served to the page.
type resultJSON struct {
	ID       string              `json:"session_id"`
	Total    int                 `json:"total"`
	Started  time.Time           `json:"started"`
	Finished time.Time           `json:"finished"`
	Points   json.RawMessage     `json:"points"`
	Summary  measurement.Summary `json:"summary"`
}

func newResultJSON(res session.Result) (resultJSON, error) {
	points, err := measurement.PointsToJSON(res.Points)
	if err != nil {
		return resultJSON{}, err
	}

	return resultJSON{
		ID:       res.ID,
		Total:    int(res.Total / time.Second),
		Started:  res.Started,
		Finished: res.Finished,
		Points:   points,
		Summary:  res.Summary,
	}, nil
}

type sessionResponse struct {
	session.Status
	Last *resultJSON `json:"last,omitempty"`
}

func sessionState(sessions SessionRunner) (sessionResponse, error) {
	resp := sessionResponse{Status: sessions.Status()}
	if res, ok := sessions.Last(); ok {
		last, err := newResultJSON(res)
		if err != nil {
			return resp, err
		}
		resp.Last = &last
	}
	return resp, nil
}

type sessionStatusHandler struct {
	Sessions SessionRunner
}

func (h sessionStatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp, err := sessionState(h.Sessions)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type sessionStartHandler struct {
	Sessions SessionRunner
	Logger   *slog.Logger
}

func (h sessionStartHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	seconds, err := strconv.Atoi(r.FormValue("duration"))
	if err != nil {
		http.Error(w, fmt.Sprintf("Bad duration: %v", err), http.StatusBadRequest)
		return
	}

	err = h.Sessions.Start(time.Duration(seconds) * time.Second)
	switch {
	case errors.Is(err, session.ErrInvalidDuration):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, session.ErrSessionActive):
		http.Error(w, "A session is already running", http.StatusConflict)
		return
	case err != nil:
		h.Logger.Error("failed to start session", "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp, err := sessionState(h.Sessions)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func writeSVG(w http.ResponseWriter, points []measurement.Point) {
	b, err := plot.SVG(points, plot.DefaultOpts)
	if errors.Is(err, plot.ErrNoPoints) {
		http.Error(w, "Session has no readings", http.StatusNotFound)
		return
	} else if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(b)
}

// plotHandler plots the most recently finished session.
type plotHandler struct {
	Sessions SessionRunner
}

func (h plotHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	res, ok := h.Sessions.Last()
	if !ok {
		http.Error(w, "No finished session", http.StatusNotFound)
		return
	}
	writeSVG(w, res.Points)
}

type archivedJSON struct {
	ID       int64  `json:"id"`
	DeviceID string `json:"device_id"`
	resultJSON
}

type archiveListHandler struct {
	Archive Archive
	Logger  *slog.Logger
}

func (h archiveListHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	out := []archivedJSON{}
	if h.Archive == nil {
		writeJSON(w, http.StatusOK, out)
		return
	}

	archived, err := h.Archive.Sessions(r.Context(), archiveListLimit)
	if err != nil {
		h.Logger.Error("failed to list sessions", "err", err)
		http.Error(w, "Failed to list sessions", http.StatusInternalServerError)
		return
	}

	for _, a := range archived {
		res, err := newResultJSON(a.Result)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		out = append(out, archivedJSON{ID: a.ID, DeviceID: a.DeviceID, resultJSON: res})
	}
	writeJSON(w, http.StatusOK, out)
}

type archivePlotHandler struct {
	Archive Archive
	Logger  *slog.Logger
}

func (h archivePlotHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Archive == nil {
		http.NotFound(w, r)
		return
	}

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, fmt.Sprintf("Bad session ID: %v", err), http.StatusBadRequest)
		return
	}

	a, err := h.Archive.Session(r.Context(), id)
	if errors.Is(err, session.ErrNotFound) {
		http.NotFound(w, r)
		return
	} else if err != nil {
		h.Logger.Error("failed to get session", "id", id, "err", err)
		http.Error(w, "Failed to get session", http.StatusInternalServerError)
		return
	}

	writeSVG(w, a.Points)
}
