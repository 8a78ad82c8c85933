// Package catalog indexes acquisition runs into a SQLite database so that
// experiments can be listed and reported without re-reading every run
// directory.
package catalog

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/harrison/ultrasession/internal/acq"
	"github.com/harrison/ultrasession/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned when a run is not in the catalog.
var ErrNotFound = errors.New("run not found in catalog")

// Record is a catalogued run.
type Record struct {
	ID          int64
	ExpDir      string
	Timestamp   string
	UTCOffset   string
	Dir         string
	SessionID   string
	Kind        string
	Status      string
	Stimulus    models.Optional[string]
	Frames      models.Optional[int]
	ImageWidth  models.Optional[int]
	ImageHeight models.Optional[int]
	Probe       models.Optional[int]
	PulseCount  models.Optional[int]
	PulseMin    models.Optional[float64]
	PulseMax    models.Optional[float64]
	FrameRate   models.Optional[float64]
	Params      map[string]string
	RuntimeVars []models.RuntimeVariable
	IndexedAt   time.Time
}

// Store manages the catalog database.
type Store struct {
	db     *sql.DB
	dbPath string
}

// Open opens or creates the catalog at dbPath. ":memory:" is accepted.
func Open(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if err := execWithRetry(db, pragma, 5, 10*time.Millisecond); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}
	if err := execWithRetry(db, schemaSQL, 5, 10*time.Millisecond); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db, dbPath: dbPath}, nil
}

// execWithRetry retries statements that fail with "database is locked",
// doubling the delay each time.
func execWithRetry(db *sql.DB, stmt string, maxRetries int, baseDelay time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := db.Exec(stmt)
		if err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "database is locked") {
			return err
		}
		lastErr = err
		time.Sleep(baseDelay * time.Duration(1<<attempt))
	}
	return lastErr
}

// Path returns the database path.
func (s *Store) Path() string {
	return s.dbPath
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SchemaVersion returns the applied schema version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

// Upsert inserts or replaces the catalog row for the run described by sum.
func (s *Store) Upsert(ctx context.Context, expDir, sessionID, status string, sum *acq.Summary) error {
	params := "{}"
	if sum.Params.Valid {
		data, err := json.Marshal(sum.Params.Value)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		params = string(data)
	}
	vars := "[]"
	if len(sum.RuntimeVars) > 0 {
		data, err := json.Marshal(sum.RuntimeVars)
		if err != nil {
			return fmt.Errorf("marshal runtime vars: %w", err)
		}
		vars = string(data)
	}

	query := `INSERT INTO runs
		(exp_dir, timestamp, utc_offset, dir, session_id, kind, status, stimulus,
		 n_frames, image_w, image_h, probe, n_pulses, pulse_min, pulse_max, framerate,
		 params, runtime_vars, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(dir) DO UPDATE SET
			exp_dir = excluded.exp_dir,
			session_id = CASE WHEN excluded.session_id = '' THEN runs.session_id ELSE excluded.session_id END,
			kind = excluded.kind,
			status = excluded.status,
			stimulus = excluded.stimulus,
			n_frames = excluded.n_frames,
			image_w = excluded.image_w,
			image_h = excluded.image_h,
			probe = excluded.probe,
			n_pulses = excluded.n_pulses,
			pulse_min = excluded.pulse_min,
			pulse_max = excluded.pulse_max,
			framerate = excluded.framerate,
			params = excluded.params,
			runtime_vars = excluded.runtime_vars,
			indexed_at = CURRENT_TIMESTAMP`

	_, err := s.db.ExecContext(ctx, query,
		expDir, sum.Timestamp, sum.UTCOffset, sum.Dir, sessionID, sum.Kind, status,
		nullString(sum.Stimulus),
		nullInt(sum.Frames), nullInt(sum.ImageWidth), nullInt(sum.ImageHeight), nullInt(sum.Probe),
		nullInt(sum.PulseCount), nullFloat(sum.PulseMin), nullFloat(sum.PulseMax), nullFloat(sum.FrameRate),
		params, vars,
	)
	if err != nil {
		return fmt.Errorf("upsert run %s: %w", sum.Timestamp, err)
	}
	return nil
}

const selectRuns = `SELECT id, exp_dir, timestamp, utc_offset, dir, session_id, kind, status, stimulus,
	n_frames, image_w, image_h, probe, n_pulses, pulse_min, pulse_max, framerate,
	params, runtime_vars, indexed_at FROM runs`

// Runs lists the runs catalogued for expDir in timestamp order. An empty
// expDir lists every run.
func (s *Store) Runs(ctx context.Context, expDir string) ([]Record, error) {
	query := selectRuns + ` ORDER BY timestamp, dir`
	args := []interface{}{}
	if expDir != "" {
		query = selectRuns + ` WHERE exp_dir = ? ORDER BY timestamp, dir`
		args = append(args, expDir)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return records, nil
}

// Get returns the run with the given timestamp.
func (s *Store) Get(ctx context.Context, timestamp string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, selectRuns+` WHERE timestamp = ? ORDER BY id LIMIT 1`, timestamp)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", timestamp, ErrNotFound)
	}
	return rec, err
}

// Delete removes the run in dir. Deleting a missing run is not an error.
func (s *Store) Delete(ctx context.Context, dir string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE dir = ?`, dir); err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		rec                          Record
		stimulus                     sql.NullString
		frames, width, height, probe sql.NullInt64
		pulses                       sql.NullInt64
		pulseMin, pulseMax, rate     sql.NullFloat64
		params, vars                 string
	)
	err := row.Scan(&rec.ID, &rec.ExpDir, &rec.Timestamp, &rec.UTCOffset, &rec.Dir, &rec.SessionID,
		&rec.Kind, &rec.Status, &stimulus, &frames, &width, &height, &probe, &pulses,
		&pulseMin, &pulseMax, &rate, &params, &vars, &rec.IndexedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}

	rec.Stimulus = models.Optional[string]{Value: stimulus.String, Valid: stimulus.Valid}
	rec.Frames = optInt(frames)
	rec.ImageWidth = optInt(width)
	rec.ImageHeight = optInt(height)
	rec.Probe = optInt(probe)
	rec.PulseCount = optInt(pulses)
	rec.PulseMin = models.Optional[float64]{Value: pulseMin.Float64, Valid: pulseMin.Valid}
	rec.PulseMax = models.Optional[float64]{Value: pulseMax.Float64, Valid: pulseMax.Valid}
	rec.FrameRate = models.Optional[float64]{Value: rate.Float64, Valid: rate.Valid}

	if err := json.Unmarshal([]byte(params), &rec.Params); err != nil {
		return nil, fmt.Errorf("unmarshal params of %s: %w", rec.Timestamp, err)
	}
	if err := json.Unmarshal([]byte(vars), &rec.RuntimeVars); err != nil {
		return nil, fmt.Errorf("unmarshal runtime vars of %s: %w", rec.Timestamp, err)
	}
	return &rec, nil
}

func optInt(n sql.NullInt64) models.Optional[int] {
	return models.Optional[int]{Value: int(n.Int64), Valid: n.Valid}
}

func nullString(o models.Optional[string]) sql.NullString {
	return sql.NullString{String: o.Value, Valid: o.Valid}
}

func nullInt(o models.Optional[int]) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(o.Value), Valid: o.Valid}
}

func nullFloat(o models.Optional[float64]) sql.NullFloat64 {
	return sql.NullFloat64{Float64: o.Value, Valid: o.Valid}
}
