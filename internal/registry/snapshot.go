package registry

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/couchcryptid/storm-nowcast-service/internal/domain"
	"github.com/couchcryptid/storm-nowcast-service/internal/model"
)

// LoadStatus is the state of one registry entry.
type LoadStatus string

const (
	StatusLoaded    LoadStatus = "loaded"
	StatusMissing   LoadStatus = "missing"
	StatusLoadError LoadStatus = "load_error"
)

type regressor interface {
	Predict(x []float64) (float64, error)
}

// Entry is the loaded state of one ModelKey. Entries are immutable once
// published in a Snapshot.
type Entry struct {
	Key       domain.ModelKey
	Status    LoadStatus
	Variant   domain.Variant
	Features  []string
	TrainedAt time.Time
	Err       string

	classifier *model.LogisticRegression
	regressor  regressor
	input      *model.StandardScaler
	output     *model.StandardScaler
}

// EntryInfo is the read-only view of an Entry.
type EntryInfo struct {
	Key             string         `json:"key"`
	Category        string         `json:"category"`
	Horizon         string         `json:"horizon"`
	Role            string         `json:"role"`
	Status          LoadStatus     `json:"load_status"`
	Variant         domain.Variant `json:"variant,omitempty"`
	HasInputScaler  bool           `json:"has_input_scaler"`
	HasOutputScaler bool           `json:"has_output_scaler"`
	TrainedAt       *time.Time     `json:"trained_at,omitempty"`
	Error           string         `json:"error,omitempty"`
}

// Snapshot is an immutable view of every recognized key. A cycle holds one
// Snapshot for its whole duration; training publishes a new one.
type Snapshot struct {
	entries  map[domain.ModelKey]*Entry
	loadedAt time.Time
}

func newSnapshot(entries map[domain.ModelKey]*Entry) *Snapshot {
	return &Snapshot{entries: entries, loadedAt: domain.Now()}
}

func emptySnapshot(cat domain.Catalogue) *Snapshot {
	entries := make(map[domain.ModelKey]*Entry)
	for _, k := range cat.Keys() {
		entries[k] = &Entry{Key: k, Status: StatusMissing, Features: domain.FeaturesFor(k.Role)}
	}
	return newSnapshot(entries)
}

// LoadedAt is when the snapshot was built.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// IsReady reports whether at least one classifier or regressor is loaded.
func (s *Snapshot) IsReady() bool {
	for _, e := range s.entries {
		if e.Status == StatusLoaded {
			return true
		}
	}
	return false
}

// Status returns the load status of a key. Unrecognized keys are missing.
func (s *Snapshot) Status(k domain.ModelKey) LoadStatus {
	if e, ok := s.entries[k]; ok {
		return e.Status
	}
	return StatusMissing
}

// Counts returns the number of entries per load status.
func (s *Snapshot) Counts() map[LoadStatus]int {
	out := map[LoadStatus]int{StatusLoaded: 0, StatusMissing: 0, StatusLoadError: 0}
	for _, e := range s.entries {
		out[e.Status]++
	}
	return out
}

// Entries lists every entry sorted by key.
func (s *Snapshot) Entries() []EntryInfo {
	out := make([]EntryInfo, 0, len(s.entries))
	for _, e := range s.entries {
		info := EntryInfo{
			Key:             e.Key.String(),
			Category:        string(e.Key.Category),
			Horizon:         e.Key.Horizon.String(),
			Role:            string(e.Key.Role),
			Status:          e.Status,
			Variant:         e.Variant,
			HasInputScaler:  e.input != nil,
			HasOutputScaler: e.output != nil,
			Error:           e.Err,
		}
		if !e.TrainedAt.IsZero() {
			ts := e.TrainedAt
			info.TrainedAt = &ts
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Features returns the declared input order for a key.
func (s *Snapshot) Features(k domain.ModelKey) []string {
	if e, ok := s.entries[k]; ok && len(e.Features) > 0 {
		return e.Features
	}
	return domain.FeaturesFor(k.Role)
}

func (s *Snapshot) loaded(k domain.ModelKey) (*Entry, error) {
	e, ok := s.entries[k]
	if !ok || e.Status != StatusLoaded {
		return nil, fmt.Errorf("%w: %s", domain.ErrModelUnavailable, k)
	}
	return e, nil
}

// TransformInput applies the key's input scaler to a raw feature vector laid
// out in Features(k) order.
func (s *Snapshot) TransformInput(k domain.ModelKey, raw []float64) ([]float64, error) {
	e, ok := s.entries[k]
	if !ok || e.input == nil {
		return nil, fmt.Errorf("%w: input scaler for %s", domain.ErrScalerUnavailable, k)
	}
	out, err := e.input.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrDataQuality, k, err)
	}
	return out, nil
}

// InvertOutput maps a standardized regression output back to mm/h.
func (s *Snapshot) InvertOutput(k domain.ModelKey, scaled float64) (float64, error) {
	e, ok := s.entries[k]
	if !ok || e.output == nil {
		return 0, fmt.Errorf("%w: output scaler for %s", domain.ErrScalerUnavailable, k)
	}
	return e.output.InverseValue(scaled)
}

// PresenceProbability scales a raw vector and runs the key's classifier.
func (s *Snapshot) PresenceProbability(k domain.ModelKey, raw []float64) (float64, error) {
	if k.Role != domain.RoleClassifier {
		return 0, fmt.Errorf("%s is not a classifier key", k)
	}
	e, err := s.loaded(k)
	if err != nil {
		return 0, err
	}
	x, err := s.TransformInput(k, raw)
	if err != nil {
		return 0, err
	}
	return e.classifier.PredictProba(x)
}

// Regress scales a raw vector, runs the key's regressor, and inverts the
// output to mm/h. Both scalers must be present before the model is invoked.
func (s *Snapshot) Regress(k domain.ModelKey, raw []float64) (float64, error) {
	if !k.Role.IsRegression() {
		return 0, fmt.Errorf("%s is not a regressor key", k)
	}
	e, err := s.loaded(k)
	if err != nil {
		return 0, err
	}
	if e.output == nil {
		return 0, fmt.Errorf("%w: output scaler for %s", domain.ErrScalerUnavailable, k)
	}
	x, err := s.TransformInput(k, raw)
	if err != nil {
		return 0, err
	}
	scaled, err := e.regressor.Predict(x)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", k, err)
	}
	v, err := s.InvertOutput(k, scaled)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%s: regression output %v is not finite", k, v)
	}
	return v, nil
}

// overlay returns a new snapshot with the given entries replacing existing ones.
func (s *Snapshot) overlay(updates map[domain.ModelKey]*Entry) *Snapshot {
	entries := make(map[domain.ModelKey]*Entry, len(s.entries))
	for k, e := range s.entries {
		entries[k] = e
	}
	for k, e := range updates {
		entries[k] = e
	}
	return newSnapshot(entries)
}
