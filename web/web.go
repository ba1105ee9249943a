// Package web serves the thermometer's browser UI and its JSON API.
package web

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/mtraver/rc-thermometer/cache"
	"github.com/mtraver/rc-thermometer/measurement"
	"github.com/mtraver/rc-thermometer/session"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// SessionRunner starts timed sessions and reports on them.
type SessionRunner interface {
	Start(total time.Duration) error
	Status() session.Status
	Last() (session.Result, bool)
}

// Archive lists finished sessions.
type Archive interface {
	Sessions(ctx context.Context, limit int) ([]session.Archived, error)
	Session(ctx context.Context, id int64) (session.Archived, error)
}

type Server struct {
	DeviceID string
	Latest   *cache.Cache[measurement.Reading]
	Sessions SessionRunner
	// Archive may be nil, in which case the archive endpoints report no sessions.
	Archive Archive
	Logger  *slog.Logger
}

func (s Server) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// Router returns the routes without logging or panic recovery.
func (s Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.Handle("/", indexHandler{Template: templates}).Methods("GET")
	r.HandleFunc("/healthz", healthzHandler).Methods("GET")
	r.Handle("/api/latest", latestHandler{DeviceID: s.DeviceID, Cache: s.Latest}).Methods("GET")
	r.Handle("/api/session", sessionStatusHandler{Sessions: s.Sessions}).Methods("GET")
	r.Handle("/api/session", sessionStartHandler{Sessions: s.Sessions, Logger: s.logger()}).Methods("POST")
	r.Handle("/session/plot.svg", plotHandler{Sessions: s.Sessions}).Methods("GET")
	r.Handle("/api/sessions", archiveListHandler{Archive: s.Archive, Logger: s.logger()}).Methods("GET")
	r.Handle("/sessions/{id:[0-9]+}/plot.svg", archivePlotHandler{Archive: s.Archive, Logger: s.logger()}).Methods("GET")

	return r
}

// Handler returns the routes wrapped with access logging and panic recovery.
func (s Server) Handler() http.Handler {
	l := s.logger()

	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(slog.NewLogLogger(l.Handler(), slog.LevelError)),
		handlers.PrintRecoveryStack(true),
	)

	return handlers.CustomLoggingHandler(io.Discard, recovery(s.Router()), accessLogger(l))
}

// accessLogger logs requests at debug level; the page polls the API every second.
func accessLogger(l *slog.Logger) handlers.LogFormatter {
	return func(_ io.Writer, p handlers.LogFormatterParams) {
		level := slog.LevelDebug
		if p.StatusCode >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		l.Log(context.Background(), level, "http request",
			"method", p.Request.Method,
			"path", p.URL.Path,
			"status", p.StatusCode,
			"size", p.Size,
			"remote", p.Request.RemoteAddr)
	}
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "ok")
}
