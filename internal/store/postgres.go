package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/couchcryptid/storm-nowcast-service/internal/domain"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS predictions (
	id                   TEXT PRIMARY KEY,
	cell_id              TEXT NOT NULL,
	storm_category       TEXT NOT NULL,
	horizon_minutes      INTEGER NOT NULL,
	predicted_timestamp  TIMESTAMPTZ NOT NULL,
	predicted_mean_rr    DOUBLE PRECISION NOT NULL,
	predicted_top10_rr   DOUBLE PRECISION NOT NULL,
	presence_probability DOUBLE PRECISION NOT NULL,
	latitude             DOUBLE PRECISION NOT NULL,
	longitude            DOUBLE PRECISION NOT NULL,
	prediction_made_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS predictions_horizon_made_at ON predictions (horizon_minutes, prediction_made_at);

CREATE TABLE IF NOT EXISTS warnings (
	id                  TEXT PRIMARY KEY,
	cell_id             TEXT NOT NULL,
	storm_category      TEXT NOT NULL,
	horizon_minutes     INTEGER NOT NULL,
	predicted_timestamp TIMESTAMPTZ NOT NULL,
	predicted_top10_rr  DOUBLE PRECISION NOT NULL,
	message             TEXT NOT NULL,
	location_geometry   JSONB NOT NULL,
	place_name          TEXT NOT NULL DEFAULT '',
	is_active           BOOLEAN NOT NULL,
	issued_at           TIMESTAMPTZ NOT NULL,
	notification_status TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS warnings_dedup ON warnings (cell_id, horizon_minutes, predicted_timestamp);
`

// Postgres is a Store backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn and creates the schema if it does not exist.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init postgres schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) InsertPrediction(ctx context.Context, p domain.PredictionRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO predictions (`+predictionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, p.CellID, string(p.Category), int(p.Horizon), p.PredictedTimestamp,
		p.PredictedMeanRR, p.PredictedTop10RR, p.Probability, p.Latitude, p.Longitude,
		p.PredictionMadeAt,
	)
	if err != nil {
		return fmt.Errorf("insert prediction %s: %w", p.ID, classifyPgErr(err))
	}
	return nil
}

func (s *Postgres) InsertWarning(ctx context.Context, w domain.WarningRecord) error {
	geom, err := json.Marshal(w.Location)
	if err != nil {
		return fmt.Errorf("marshal warning location: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO warnings (`+warningColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		w.ID, w.CellID, string(w.Category), int(w.Horizon), w.PredictedTimestamp,
		w.PredictedTop10RR, w.Message, string(geom), w.PlaceName, w.IsActive,
		w.IssuedAt, string(w.NotificationStatus),
	)
	if err != nil {
		return fmt.Errorf("insert warning %s: %w", w.ID, classifyPgErr(err))
	}
	return nil
}

func (s *Postgres) FindActiveWarning(ctx context.Context, cellID string, h domain.Horizon, from, to time.Time) (domain.WarningRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+warningColumns+` FROM warnings
		 WHERE is_active AND cell_id = $1 AND horizon_minutes = $2
		   AND predicted_timestamp BETWEEN $3 AND $4
		 ORDER BY issued_at DESC LIMIT 1`,
		cellID, int(h), from, to,
	)
	w, err := scanPgWarning(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.WarningRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.WarningRecord{}, fmt.Errorf("find active warning for %s: %w", cellID, err)
	}
	return w, nil
}

func (s *Postgres) UpdateNotificationStatus(ctx context.Context, id string, status domain.NotificationStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE warnings SET notification_status = $1 WHERE id = $2`, string(status), id)
	if err != nil {
		return fmt.Errorf("update notification status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("warning %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *Postgres) ActiveWarnings(ctx context.Context, since time.Time) ([]domain.WarningRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+warningColumns+` FROM warnings
		 WHERE is_active AND issued_at >= $1
		 ORDER BY issued_at DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("query active warnings: %w", err)
	}
	defer rows.Close()

	var out []domain.WarningRecord
	for rows.Next() {
		w, err := scanPgWarning(rows)
		if err != nil {
			return nil, fmt.Errorf("scan warning: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Postgres) LatestPredictions(ctx context.Context, h domain.Horizon) ([]domain.PredictionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+predictionColumns+` FROM predictions
		 WHERE horizon_minutes = $1
		   AND prediction_made_at = (SELECT MAX(prediction_made_at) FROM predictions WHERE horizon_minutes = $1)
		 ORDER BY cell_id`, int(h))
	if err != nil {
		return nil, fmt.Errorf("query latest predictions: %w", err)
	}
	defer rows.Close()

	var out []domain.PredictionRecord
	for rows.Next() {
		var (
			p        domain.PredictionRecord
			category string
			horizon  int
		)
		if err := rows.Scan(&p.ID, &p.CellID, &category, &horizon, &p.PredictedTimestamp,
			&p.PredictedMeanRR, &p.PredictedTop10RR, &p.Probability, &p.Latitude, &p.Longitude,
			&p.PredictionMadeAt); err != nil {
			return nil, fmt.Errorf("scan prediction: %w", err)
		}
		p.Category = domain.Category(category)
		p.Horizon = domain.Horizon(horizon)
		p.PredictedTimestamp = p.PredictedTimestamp.UTC()
		p.PredictionMadeAt = p.PredictionMadeAt.UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Postgres) CheckReadiness(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()
	return conn.Conn().Ping(ctx)
}

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

func scanPgWarning(r pgx.Row) (domain.WarningRecord, error) {
	var (
		w                domain.WarningRecord
		category, status string
		geom             []byte
		horizon          int
	)
	if err := r.Scan(&w.ID, &w.CellID, &category, &horizon, &w.PredictedTimestamp, &w.PredictedTop10RR,
		&w.Message, &geom, &w.PlaceName, &w.IsActive, &w.IssuedAt, &status); err != nil {
		return domain.WarningRecord{}, err
	}
	if err := json.Unmarshal(geom, &w.Location); err != nil {
		return domain.WarningRecord{}, fmt.Errorf("decode location of warning %s: %w", w.ID, err)
	}
	w.Category = domain.Category(category)
	w.Horizon = domain.Horizon(horizon)
	w.PredictedTimestamp = w.PredictedTimestamp.UTC()
	w.IssuedAt = w.IssuedAt.UTC()
	w.NotificationStatus = domain.NotificationStatus(status)
	return w, nil
}

func classifyPgErr(err error) error {
	if pgerr := new(pgconn.PgError); errors.As(err, &pgerr) && pgerr.Code == pgerrcode.UniqueViolation {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}
