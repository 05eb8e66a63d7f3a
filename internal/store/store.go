// Package store persists prediction and warning records. Predictions are
// append-only; warnings are mutated only to record notification status.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/couchcryptid/storm-nowcast-service/internal/config"
	"github.com/couchcryptid/storm-nowcast-service/internal/domain"
)

// ErrDuplicate is returned when a record with the same ID already exists.
var ErrDuplicate = errors.New("duplicate record")

// Store is the persistence collaborator of the nowcasting core.
type Store interface {
	InsertPrediction(ctx context.Context, p domain.PredictionRecord) error
	InsertWarning(ctx context.Context, w domain.WarningRecord) error

	// FindActiveWarning returns an active warning for the cell and horizon
	// whose predicted timestamp lies in [from, to], or domain.ErrNotFound.
	FindActiveWarning(ctx context.Context, cellID string, h domain.Horizon, from, to time.Time) (domain.WarningRecord, error)

	UpdateNotificationStatus(ctx context.Context, warningID string, status domain.NotificationStatus) error

	// ActiveWarnings lists active warnings issued at or after since, newest first.
	ActiveWarnings(ctx context.Context, since time.Time) ([]domain.WarningRecord, error)

	// LatestPredictions returns the predictions of the most recent cycle for a horizon.
	LatestPredictions(ctx context.Context, h domain.Horizon) ([]domain.PredictionRecord, error)

	// CheckReadiness verifies the backing database is reachable.
	CheckReadiness(ctx context.Context) error

	Close() error
}

// Open builds the store selected by STORE_DRIVER.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.StoreDriver {
	case "memory":
		return NewMemory(), nil
	case "sqlite":
		return OpenSQLite(ctx, cfg.SQLitePath)
	case "postgres":
		return OpenPostgres(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
