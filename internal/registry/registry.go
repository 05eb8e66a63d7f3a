// Package registry owns the trained models and their scalers, keyed by
// domain.ModelKey.
//
// The registry publishes an immutable Snapshot through an atomic pointer.
// Readers take one Snapshot per cycle; LoadAll and Train build a complete new
// Snapshot and swap it in, so an in-flight cycle never observes a partially
// trained registry.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/couchcryptid/storm-nowcast-service/internal/domain"
	"github.com/couchcryptid/storm-nowcast-service/internal/model"
	"github.com/couchcryptid/storm-nowcast-service/internal/observability"
)

// Registry maps ModelKeys to loaded artifacts under a fixed root directory.
type Registry struct {
	root      string
	catalogue domain.Catalogue
	train     TrainConfig
	logger    *slog.Logger
	metrics   *observability.Metrics

	current atomic.Pointer[Snapshot]
	// mu serializes LoadAll and Train so publishes happen in order.
	mu sync.Mutex
}

// New creates a registry with every recognized key marked missing. Call
// LoadAll to read artifacts from disk.
func New(root string, cat domain.Catalogue, train TrainConfig, logger *slog.Logger, metrics *observability.Metrics) *Registry {
	r := &Registry{
		root:      root,
		catalogue: cat,
		train:     train,
		logger:    logger,
		metrics:   metrics,
	}
	r.publish(emptySnapshot(cat))
	return r
}

// Root is the artifact directory.
func (r *Registry) Root() string { return r.root }

// Snapshot returns the current published snapshot.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// IsReady reports whether the current snapshot has any loaded model.
func (r *Registry) IsReady() bool {
	return r.Snapshot().IsReady()
}

// ArtifactPath returns the file for one artifact of a key. Training and
// loading both go through this function.
func ArtifactPath(root string, k domain.ModelKey, kind model.Kind) string {
	return filepath.Join(root, string(k.Category), k.Horizon.String(), string(k.Role), string(kind)+".json")
}

// LoadAll scans the artifact root for every recognized key. Keys without an
// artifact stay missing; unreadable artifacts are logged and marked
// load_error. It fails only if ctx is cancelled.
func (r *Registry) LoadAll(ctx context.Context) (*Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	manifest, err := ReadManifest(r.root)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		r.logger.Warn("manifest unreadable, continuing without it", "error", err)
	}

	entries := make(map[domain.ModelKey]*Entry)
	for _, k := range r.catalogue.Keys() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e := r.loadEntry(k)
		if manifest != nil {
			if m, ok := manifest.lookup(k); ok && e.Status == StatusLoaded {
				e.TrainedAt = m.TrainedAt
			}
		}
		entries[k] = e
	}

	snap := newSnapshot(entries)
	r.publish(snap)
	counts := snap.Counts()
	r.logger.Info("model registry loaded",
		"root", r.root,
		"loaded", counts[StatusLoaded],
		"missing", counts[StatusMissing],
		"load_error", counts[StatusLoadError],
	)
	return snap, nil
}

func (r *Registry) loadEntry(k domain.ModelKey) *Entry {
	features := domain.FeaturesFor(k.Role)
	e := &Entry{Key: k, Status: StatusMissing, Features: features}

	if k.Role == domain.RoleClassifier {
		var clf model.LogisticRegression
		env, found, err := readArtifact(ArtifactPath(r.root, k, model.KindClassifier), model.KindClassifier, k, features, &clf)
		switch {
		case !found:
			return e
		case err != nil:
			r.markLoadError(e, err)
			return e
		}
		e.classifier = &clf
		e.TrainedAt = env.TrainedAt
		e.Status = StatusLoaded
	} else {
		var errs []error
		for _, v := range domain.PreferredVariants {
			kind := model.Kind(v)
			m, env, found, err := readRegressor(ArtifactPath(r.root, k, kind), kind, k, features)
			if !found {
				continue
			}
			if err != nil {
				errs = append(errs, err)
				continue
			}
			e.regressor = m
			e.Variant = v
			e.TrainedAt = env.TrainedAt
			e.Status = StatusLoaded
			break
		}
		if e.Status != StatusLoaded && len(errs) > 0 {
			r.markLoadError(e, errors.Join(errs...))
			return e
		}
		if e.Status != StatusLoaded {
			return e
		}
		if len(errs) > 0 {
			e.Err = errors.Join(errs...).Error()
			r.logger.Warn("preferred regressor unreadable, using fallback", "key", k.String(), "variant", e.Variant, "error", e.Err)
		}

		var out model.StandardScaler
		if _, found, err := readArtifact(ArtifactPath(r.root, k, model.KindOutputScaler), model.KindOutputScaler, k, []string{k.Role.Target()}, &out); found && err == nil {
			e.output = &out
		} else if err != nil {
			r.logger.Warn("output scaler unreadable", "key", k.String(), "error", err)
			e.Err = err.Error()
		}
	}

	var in model.StandardScaler
	if _, found, err := readArtifact(ArtifactPath(r.root, k, model.KindInputScaler), model.KindInputScaler, k, features, &in); found && err == nil {
		e.input = &in
	} else if err != nil {
		r.logger.Warn("input scaler unreadable", "key", k.String(), "error", err)
		e.Err = err.Error()
	}
	return e
}

func (r *Registry) markLoadError(e *Entry, err error) {
	e.Status = StatusLoadError
	e.Err = err.Error()
	r.logger.Error("model artifact unreadable", "key", e.Key.String(), "error", err)
}

func readArtifact(path string, kind model.Kind, k domain.ModelKey, features []string, v any) (model.Envelope, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return model.Envelope{}, false, nil
	}
	if err != nil {
		return model.Envelope{}, true, fmt.Errorf("read %s: %w", path, err)
	}
	env, err := model.Decode(data, kind, k, features, v)
	return env, true, err
}

func readRegressor(path string, kind model.Kind, k domain.ModelKey, features []string) (regressor, model.Envelope, bool, error) {
	switch kind {
	case model.KindMLP:
		var m model.MLP
		env, found, err := readArtifact(path, kind, k, features, &m)
		return &m, env, found, err
	case model.KindLasso:
		var m model.Lasso
		env, found, err := readArtifact(path, kind, k, features, &m)
		return &m, env, found, err
	default:
		return nil, model.Envelope{}, false, fmt.Errorf("unknown regressor kind %s", kind)
	}
}

func (r *Registry) publish(s *Snapshot) {
	r.current.Store(s)
	if r.metrics == nil {
		return
	}
	for status, n := range s.Counts() {
		r.metrics.RegistryEntries.WithLabelValues(string(status)).Set(float64(n))
	}
}

// writeFileAtomic writes via a temp file and rename so readers never see a
// partial artifact.
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
