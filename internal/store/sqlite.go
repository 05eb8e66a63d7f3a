package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/storm-nowcast-service/internal/domain"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Timestamps are stored as Unix milliseconds so range predicates compare numerically.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS predictions (
	id                   TEXT PRIMARY KEY,
	cell_id              TEXT NOT NULL,
	storm_category       TEXT NOT NULL,
	horizon_minutes      INTEGER NOT NULL,
	predicted_timestamp  INTEGER NOT NULL,
	predicted_mean_rr    REAL NOT NULL,
	predicted_top10_rr   REAL NOT NULL,
	presence_probability REAL NOT NULL,
	latitude             REAL NOT NULL,
	longitude            REAL NOT NULL,
	prediction_made_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS predictions_horizon_made_at ON predictions (horizon_minutes, prediction_made_at);

CREATE TABLE IF NOT EXISTS warnings (
	id                  TEXT PRIMARY KEY,
	cell_id             TEXT NOT NULL,
	storm_category      TEXT NOT NULL,
	horizon_minutes     INTEGER NOT NULL,
	predicted_timestamp INTEGER NOT NULL,
	predicted_top10_rr  REAL NOT NULL,
	message             TEXT NOT NULL,
	location_geometry   TEXT NOT NULL,
	place_name          TEXT NOT NULL DEFAULT '',
	is_active           INTEGER NOT NULL,
	issued_at           INTEGER NOT NULL,
	notification_status TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS warnings_dedup ON warnings (cell_id, horizon_minutes, predicted_timestamp);
`

const warningColumns = `id, cell_id, storm_category, horizon_minutes, predicted_timestamp,
	predicted_top10_rr, message, location_geometry, place_name, is_active, issued_at, notification_status`

const predictionColumns = `id, cell_id, storm_category, horizon_minutes, predicted_timestamp,
	predicted_mean_rr, predicted_top10_rr, presence_probability, latitude, longitude, prediction_made_at`

// SQLite is a Store backed by an embedded SQLite database file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for a throwaway database.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// A single connection serializes writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA foreign_keys = ON", sqliteSchema} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init sqlite schema: %w", err)
		}
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) InsertPrediction(ctx context.Context, p domain.PredictionRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO predictions (`+predictionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.CellID, string(p.Category), int(p.Horizon), p.PredictedTimestamp.UnixMilli(),
		p.PredictedMeanRR, p.PredictedTop10RR, p.Probability, p.Latitude, p.Longitude,
		p.PredictionMadeAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert prediction %s: %w", p.ID, classifySQLiteErr(err))
	}
	return nil
}

func (s *SQLite) InsertWarning(ctx context.Context, w domain.WarningRecord) error {
	geom, err := json.Marshal(w.Location)
	if err != nil {
		return fmt.Errorf("marshal warning location: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO warnings (`+warningColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.CellID, string(w.Category), int(w.Horizon), w.PredictedTimestamp.UnixMilli(),
		w.PredictedTop10RR, w.Message, string(geom), w.PlaceName, w.IsActive,
		w.IssuedAt.UnixMilli(), string(w.NotificationStatus),
	)
	if err != nil {
		return fmt.Errorf("insert warning %s: %w", w.ID, classifySQLiteErr(err))
	}
	return nil
}

func (s *SQLite) FindActiveWarning(ctx context.Context, cellID string, h domain.Horizon, from, to time.Time) (domain.WarningRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+warningColumns+` FROM warnings
		 WHERE is_active = 1 AND cell_id = ? AND horizon_minutes = ?
		   AND predicted_timestamp BETWEEN ? AND ?
		 ORDER BY issued_at DESC LIMIT 1`,
		cellID, int(h), from.UnixMilli(), to.UnixMilli(),
	)
	w, err := scanSQLiteWarning(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.WarningRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.WarningRecord{}, fmt.Errorf("find active warning for %s: %w", cellID, err)
	}
	return w, nil
}

func (s *SQLite) UpdateNotificationStatus(ctx context.Context, id string, status domain.NotificationStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE warnings SET notification_status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("update notification status %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update notification status %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("warning %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *SQLite) ActiveWarnings(ctx context.Context, since time.Time) ([]domain.WarningRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+warningColumns+` FROM warnings
		 WHERE is_active = 1 AND issued_at >= ?
		 ORDER BY issued_at DESC`, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query active warnings: %w", err)
	}
	defer rows.Close()

	var out []domain.WarningRecord
	for rows.Next() {
		w, err := scanSQLiteWarning(rows)
		if err != nil {
			return nil, fmt.Errorf("scan warning: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *SQLite) LatestPredictions(ctx context.Context, h domain.Horizon) ([]domain.PredictionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+predictionColumns+` FROM predictions
		 WHERE horizon_minutes = ?
		   AND prediction_made_at = (SELECT MAX(prediction_made_at) FROM predictions WHERE horizon_minutes = ?)
		 ORDER BY cell_id`, int(h), int(h))
	if err != nil {
		return nil, fmt.Errorf("query latest predictions: %w", err)
	}
	defer rows.Close()

	var out []domain.PredictionRecord
	for rows.Next() {
		var (
			p               domain.PredictionRecord
			category        string
			horizon         int
			predicted, made int64
		)
		if err := rows.Scan(&p.ID, &p.CellID, &category, &horizon, &predicted,
			&p.PredictedMeanRR, &p.PredictedTop10RR, &p.Probability, &p.Latitude, &p.Longitude, &made); err != nil {
			return nil, fmt.Errorf("scan prediction: %w", err)
		}
		p.Category = domain.Category(category)
		p.Horizon = domain.Horizon(horizon)
		p.PredictedTimestamp = time.UnixMilli(predicted).UTC()
		p.PredictionMadeAt = time.UnixMilli(made).UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLite) CheckReadiness(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteWarning(r rowScanner) (domain.WarningRecord, error) {
	var (
		w                 domain.WarningRecord
		category, geom    string
		status            string
		horizon           int
		predicted, issued int64
	)
	if err := r.Scan(&w.ID, &w.CellID, &category, &horizon, &predicted, &w.PredictedTop10RR,
		&w.Message, &geom, &w.PlaceName, &w.IsActive, &issued, &status); err != nil {
		return domain.WarningRecord{}, err
	}
	if err := json.Unmarshal([]byte(geom), &w.Location); err != nil {
		return domain.WarningRecord{}, fmt.Errorf("decode location of warning %s: %w", w.ID, err)
	}
	w.Category = domain.Category(category)
	w.Horizon = domain.Horizon(horizon)
	w.PredictedTimestamp = time.UnixMilli(predicted).UTC()
	w.IssuedAt = time.UnixMilli(issued).UTC()
	w.NotificationStatus = domain.NotificationStatus(status)
	return w, nil
}

func classifySQLiteErr(err error) error {
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		switch serr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return fmt.Errorf("%w: %v", ErrDuplicate, err)
		}
	}
	return err
}
