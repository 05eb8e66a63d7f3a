package domain

import "time"

// JobStatus is the lifecycle state of a training job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether the job has finished.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// TrainingRequest names the CSV tables a training job reads.
type TrainingRequest struct {
	RadarPaths []string `json:"radar_paths"`
	LabelPaths []string `json:"label_paths"`
}

// TrainingReport summarizes what a training run produced.
type TrainingReport struct {
	Rows    int             `json:"rows"`
	Trained []TrainedModel  `json:"trained"`
	Skipped []SkippedReason `json:"skipped"`
}

// TrainedModel is one artifact set produced by training.
type TrainedModel struct {
	Key      string  `json:"key"`
	Variant  Variant `json:"variant,omitempty"`
	Samples  int     `json:"samples"`
	Accuracy float64 `json:"validation_accuracy,omitempty"`
	RMSE     float64 `json:"validation_rmse,omitempty"`
}

// SkippedReason records a combination that was not trained.
type SkippedReason struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// TrainingJob is the status record of one asynchronous training run.
type TrainingJob struct {
	ID         string          `json:"id"`
	Status     JobStatus       `json:"status"`
	Request    TrainingRequest `json:"request"`
	Report     *TrainingReport `json:"report,omitempty"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}
