package registry

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/storm-nowcast-service/internal/domain"
	"gopkg.in/yaml.v3"
)

// ManifestFile sits at the artifact root and lists what training produced.
// Rewriting it is the signal that a new set of artifacts is in place.
const ManifestFile = "manifest.yaml"

// Manifest describes the artifacts under the root.
type Manifest struct {
	Version   int             `yaml:"version"`
	TrainedAt time.Time       `yaml:"trained_at"`
	Rows      int             `yaml:"rows"`
	Models    []ManifestModel `yaml:"models"`
	Skipped   []ManifestSkip  `yaml:"skipped,omitempty"`
}

// ManifestModel is one trained key.
type ManifestModel struct {
	Key       string             `yaml:"key"`
	Variants  []domain.Variant   `yaml:"variants,omitempty"`
	Samples   int                `yaml:"samples"`
	Accuracy  float64            `yaml:"validation_accuracy,omitempty"`
	RMSE      map[string]float64 `yaml:"validation_rmse_mmh,omitempty"`
	TrainedAt time.Time          `yaml:"trained_at"`
}

// ManifestSkip is a key training could not produce.
type ManifestSkip struct {
	Key    string `yaml:"key"`
	Reason string `yaml:"reason"`
}

func (m *Manifest) lookup(k domain.ModelKey) (ManifestModel, bool) {
	name := k.String()
	for _, mm := range m.Models {
		if mm.Key == name {
			return mm, true
		}
	}
	return ManifestModel{}, false
}

// merge keeps previously trained keys that this run did not retrain.
func (m *Manifest) merge(prev *Manifest) {
	if prev == nil {
		return
	}
	have := make(map[string]bool, len(m.Models))
	for _, mm := range m.Models {
		have[mm.Key] = true
	}
	for _, mm := range prev.Models {
		if !have[mm.Key] {
			m.Models = append(m.Models, mm)
		}
	}
}

// ReadManifest loads the manifest from root. A missing file returns an error
// wrapping fs.ErrNotExist.
func ReadManifest(root string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(root, ManifestFile))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", ManifestFile, err)
	}
	return &m, nil
}

// WriteManifest atomically replaces the manifest under root.
func WriteManifest(root string, m *Manifest) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return writeFileAtomic(filepath.Join(root, ManifestFile), buf.Bytes())
}
