package domain

import "errors"

// Error taxonomy for the nowcasting core. Every error is contained at the
// smallest scope that produced it (key, horizon, or cell); only
// ErrIngestionUnavailable and an unready registry end a cycle early.
var (
	// ErrModelUnavailable means no loaded artifact exists for a ModelKey.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrScalerUnavailable means the scaler paired with a ModelKey is missing.
	ErrScalerUnavailable = errors.New("scaler unavailable")

	// ErrDataQuality means a cell's derived features are incomplete or invalid.
	ErrDataQuality = errors.New("data quality error")

	// ErrTrainingDataInsufficient means a category has fewer samples than the
	// training minimum.
	ErrTrainingDataInsufficient = errors.New("training data insufficient")

	// ErrIngestionUnavailable means no radar composite is available this cycle.
	ErrIngestionUnavailable = errors.New("ingestion unavailable")

	// ErrNotificationDispatch means a warning notification could not be delivered.
	ErrNotificationDispatch = errors.New("notification dispatch failure")

	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrTrainingInProgress is returned when a training job is already running.
	ErrTrainingInProgress = errors.New("training already in progress")
)
