// Package sqlite archives finished sessions in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mtraver/rc-thermometer/measurement"
	"github.com/mtraver/rc-thermometer/session"
)

//go:embed migrations/*.sql
var migrations embed.FS

// timeLayout is fixed width so that stored times sort chronologically as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// buildDSN turns a file path into a DSN with the connection parameters the store
// relies on. ":memory:" opens a private in-memory database.
func buildDSN(path string) (string, error) {
	params := []string{
		"_foreign_keys=on",
		"_busy_timeout=5000",
	}

	if path == ":memory:" {
		return "file::memory:?" + strings.Join(params, "&"), nil
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return "", fmt.Errorf("sqlite: mkdir %s: %w", dir, err)
		}
	}

	params = append(params, "_journal_mode=WAL")
	return fmt.Sprintf("file:%s?%s", path, strings.Join(params, "&")), nil
}

// Open opens (creating if needed) the archive at path and applies migrations.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn, err := buildDSN(path)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	// One writer, and an in-memory database must not be split across connections.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	s := &Store{db: db, logger: logger.With("component", "sqlite")}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)

	for _, name := range names {
		b, err := migrations.ReadFile(name)
		if err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, string(b)); err != nil {
			return fmt.Errorf("sqlite: migration %s: %w", name, err)
		}
		s.logger.Debug("applied migration", "name", name)
	}

	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveSession archives a finished session.
func (s *Store) SaveSession(ctx context.Context, deviceID string, res session.Result) error {
	_, err := s.Insert(ctx, deviceID, res)
	return err
}

// Insert archives a finished session and returns its ID.
func (s *Store) Insert(ctx context.Context, deviceID string, res session.Result) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	sum := res.Summary
	r, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (uuid, device_id, started, finished, duration_s, samples, mean_c, stddev_c, min_c, max_c)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ID, deviceID, res.Started.UTC().Format(timeLayout), res.Finished.UTC().Format(timeLayout),
		int64(res.Total/time.Second), sum.Count, sum.Mean, sum.StdDev, sum.Min, sum.Max)
	if err != nil {
		return 0, fmt.Errorf("sqlite: insert session: %w", err)
	}

	id, err := r.LastInsertId()
	if err != nil {
		return 0, err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO points (session_id, elapsed_ms, temp_c) VALUES (?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("sqlite: prepare: %w", err)
	}
	defer stmt.Close()

	for _, p := range res.Points {
		if _, err := stmt.ExecContext(ctx, id, p.Elapsed.Milliseconds(), p.Celsius); err != nil {
			return 0, fmt.Errorf("sqlite: insert point: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: commit: %w", err)
	}

	s.logger.Info("archived session", "id", id, "samples", len(res.Points))
	return id, nil
}

// Sessions returns up to limit archived sessions, newest first, without their points.
func (s *Store) Sessions(ctx context.Context, limit int) ([]session.Archived, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, uuid, device_id, started, finished, duration_s, samples, mean_c, stddev_c, min_c, max_c
		 FROM sessions ORDER BY started DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query sessions: %w", err)
	}
	defer rows.Close()

	var out []session.Archived
	for rows.Next() {
		a, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Session returns one archived session with its points, or session.ErrNotFound.
func (s *Store) Session(ctx context.Context, id int64) (session.Archived, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, uuid, device_id, started, finished, duration_s, samples, mean_c, stddev_c, min_c, max_c
		 FROM sessions WHERE id = ?`, id)
	a, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Archived{}, session.ErrNotFound
	} else if err != nil {
		return session.Archived{}, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT elapsed_ms, temp_c FROM points WHERE session_id = ? ORDER BY elapsed_ms`, id)
	if err != nil {
		return session.Archived{}, fmt.Errorf("sqlite: query points: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ms int64
		var p measurement.Point
		if err := rows.Scan(&ms, &p.Celsius); err != nil {
			return session.Archived{}, err
		}
		p.Elapsed = time.Duration(ms) * time.Millisecond
		a.Points = append(a.Points, p)
	}
	return a, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (session.Archived, error) {
	var (
		a                 session.Archived
		started, finished string
		durationS         int64
	)
	err := sc.Scan(&a.ID, &a.Result.ID, &a.DeviceID, &started, &finished, &durationS, &a.Summary.Count,
		&a.Summary.Mean, &a.Summary.StdDev, &a.Summary.Min, &a.Summary.Max)
	if err != nil {
		return a, err
	}

	if a.Started, err = time.Parse(timeLayout, started); err != nil {
		return a, fmt.Errorf("sqlite: bad start time %q: %w", started, err)
	}
	if a.Finished, err = time.Parse(timeLayout, finished); err != nil {
		return a, fmt.Errorf("sqlite: bad finish time %q: %w", finished, err)
	}
	a.Total = time.Duration(durationS) * time.Second
	return a, nil
}
