package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/couchcryptid/storm-nowcast-service/internal/dataset"
	"github.com/couchcryptid/storm-nowcast-service/internal/domain"
	"github.com/couchcryptid/storm-nowcast-service/internal/model"
)

// TrainConfig controls how Train fits every artifact.
type TrainConfig struct {
	MinSamples         int
	ValidationFraction float64
	Seed               uint64
	Logistic           model.LogisticConfig
	Lasso              model.LassoConfig
	MLP                model.MLPConfig
}

// DefaultTrainConfig requires 5 samples per category and holds out 20% with seed 42.
func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		MinSamples:         5,
		ValidationFraction: 0.2,
		Seed:               42,
		Logistic:           model.DefaultLogisticConfig(),
		Lasso:              model.DefaultLassoConfig(),
		MLP:                model.DefaultMLPConfig(),
	}
}

// Train reads, merges, and cleans the given CSV tables and trains every
// recognized key. See TrainTable.
func (r *Registry) Train(ctx context.Context, req domain.TrainingRequest) (domain.TrainingReport, error) {
	t, err := dataset.Load(req.RadarPaths, req.LabelPaths)
	if err != nil {
		return domain.TrainingReport{}, err
	}
	return r.TrainTable(ctx, t)
}

// TrainTable trains a classifier per (category, horizon) and both regressor
// variants per (regression category, horizon, rain-rate kind). Combinations
// with too few samples are skipped and reported. Artifacts are persisted
// before the new snapshot, the previous one overlaid with everything trained
// here, is published.
func (r *Registry) TrainTable(ctx context.Context, t *dataset.Table) (domain.TrainingReport, error) {
	report := domain.TrainingReport{Rows: t.Len()}
	if missing := t.MissingColumns(domain.ClassifierFeatures()); len(missing) > 0 {
		return report, fmt.Errorf("%w: training table is missing feature columns %s",
			domain.ErrDataQuality, strings.Join(missing, ","))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	started := time.Now()
	manifest := &Manifest{Version: 1, TrainedAt: domain.Now(), Rows: t.Len()}
	updates := make(map[domain.ModelKey]*Entry)

	skip := func(k domain.ModelKey, err error) {
		r.logger.Warn("skipping model", "key", k.String(), "reason", err)
		report.Skipped = append(report.Skipped, domain.SkippedReason{Key: k.String(), Reason: err.Error()})
		manifest.Skipped = append(manifest.Skipped, ManifestSkip{Key: k.String(), Reason: err.Error()})
	}

	for _, cat := range r.catalogue.Categories {
		rows := t.Rows(cat)
		for _, h := range r.catalogue.Horizons {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			k := domain.NewModelKey(cat, h, domain.RoleClassifier)
			if len(rows) < r.train.MinSamples {
				skip(k, fmt.Errorf("%w: %d samples for %s, need %d", domain.ErrTrainingDataInsufficient, len(rows), cat, r.train.MinSamples))
				continue
			}
			e, mm, err := r.trainClassifier(t, k, rows)
			if err != nil {
				skip(k, err)
				continue
			}
			updates[k] = e
			manifest.Models = append(manifest.Models, mm)
			report.Trained = append(report.Trained, domain.TrainedModel{Key: k.String(), Samples: mm.Samples, Accuracy: mm.Accuracy})
		}
	}

	for _, cat := range r.catalogue.RegressionCategories {
		rows := t.Rows(cat)
		for _, h := range r.catalogue.Horizons {
			for _, role := range []domain.Role{domain.RoleRegressorMean, domain.RoleRegressorTop10} {
				if err := ctx.Err(); err != nil {
					return report, err
				}
				k := domain.NewModelKey(cat, h, role)
				if len(rows) < r.train.MinSamples {
					skip(k, fmt.Errorf("%w: %d samples for %s, need %d", domain.ErrTrainingDataInsufficient, len(rows), cat, r.train.MinSamples))
					continue
				}
				e, mm, err := r.trainRegressor(t, k, rows)
				if err != nil {
					skip(k, err)
					continue
				}
				updates[k] = e
				manifest.Models = append(manifest.Models, mm)
				for _, v := range mm.Variants {
					report.Trained = append(report.Trained, domain.TrainedModel{
						Key: k.String(), Variant: v, Samples: mm.Samples, RMSE: mm.RMSE[string(v)],
					})
				}
			}
		}
	}

	if len(updates) == 0 {
		return report, fmt.Errorf("%w: no model could be trained from %d rows", domain.ErrTrainingDataInsufficient, t.Len())
	}

	prev, err := ReadManifest(r.root)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		r.logger.Warn("previous manifest unreadable, replacing it", "error", err)
	}
	manifest.merge(prev)
	if err := WriteManifest(r.root, manifest); err != nil {
		return report, err
	}

	r.publish(r.Snapshot().overlay(updates))
	r.logger.Info("training complete",
		"rows", t.Len(),
		"trained", len(updates),
		"skipped", len(report.Skipped),
		"duration", time.Since(started),
	)
	return report, nil
}

func (r *Registry) trainClassifier(t *dataset.Table, k domain.ModelKey, rows []int) (*Entry, ManifestModel, error) {
	features := domain.ClassifierFeatures()
	x, err := t.Matrix(features, rows)
	if err != nil {
		return nil, ManifestModel{}, err
	}
	y, err := t.Target(k.Role, k.Horizon, rows)
	if err != nil {
		return nil, ManifestModel{}, err
	}
	for i, v := range y {
		if v >= 0.5 {
			y[i] = 1
		} else {
			y[i] = 0
		}
	}

	trainIdx, valIdx := split(len(rows), r.train.ValidationFraction, r.train.Seed)
	scaler, err := model.FitScaler(pick(x, trainIdx))
	if err != nil {
		return nil, ManifestModel{}, err
	}
	xs, err := scaler.TransformAll(pick(x, trainIdx))
	if err != nil {
		return nil, ManifestModel{}, err
	}
	clf, err := model.FitLogistic(xs, pickVals(y, trainIdx), r.train.Logistic)
	if err != nil {
		return nil, ManifestModel{}, err
	}

	var correct int
	for _, i := range valIdx {
		xv, _ := scaler.Transform(x[i])
		p, _ := clf.PredictProba(xv)
		if (p >= domain.PresenceThreshold) == (y[i] == 1) {
			correct++
		}
	}

	if err := r.writeArtifact(k, model.KindInputScaler, features, scaler); err != nil {
		return nil, ManifestModel{}, err
	}
	if err := r.writeArtifact(k, model.KindClassifier, features, clf); err != nil {
		return nil, ManifestModel{}, err
	}

	now := domain.Now()
	mm := ManifestModel{Key: k.String(), Samples: len(rows), TrainedAt: now}
	if len(valIdx) > 0 {
		mm.Accuracy = float64(correct) / float64(len(valIdx))
	}
	return &Entry{
		Key: k, Status: StatusLoaded, Features: features, TrainedAt: now,
		classifier: clf, input: scaler,
	}, mm, nil
}

func (r *Registry) trainRegressor(t *dataset.Table, k domain.ModelKey, rows []int) (*Entry, ManifestModel, error) {
	features := domain.RegressorFeatures()
	x, err := t.Matrix(features, rows)
	if err != nil {
		return nil, ManifestModel{}, err
	}
	y, err := t.Target(k.Role, k.Horizon, rows)
	if err != nil {
		return nil, ManifestModel{}, err
	}

	trainIdx, valIdx := split(len(rows), r.train.ValidationFraction, r.train.Seed)
	xTrain, yTrain := pick(x, trainIdx), pickVals(y, trainIdx)

	in, err := model.FitScaler(xTrain)
	if err != nil {
		return nil, ManifestModel{}, err
	}
	out, err := model.FitColumnScaler(yTrain)
	if err != nil {
		return nil, ManifestModel{}, err
	}
	xs, err := in.TransformAll(xTrain)
	if err != nil {
		return nil, ManifestModel{}, err
	}
	ys := make([]float64, len(yTrain))
	for i, v := range yTrain {
		ys[i], _ = out.TransformValue(v)
	}

	lasso, err := model.FitLasso(xs, ys, r.train.Lasso)
	if err != nil {
		return nil, ManifestModel{}, fmt.Errorf("lasso: %w", err)
	}
	mlp, err := model.FitMLP(xs, ys, r.train.MLP)
	if err != nil {
		return nil, ManifestModel{}, fmt.Errorf("mlp: %w", err)
	}

	rmse := map[string]float64{}
	if len(valIdx) > 0 {
		for v, m := range map[domain.Variant]regressor{domain.VariantLasso: lasso, domain.VariantMLP: mlp} {
			var sse float64
			for _, i := range valIdx {
				xv, _ := in.Transform(x[i])
				p, _ := m.Predict(xv)
				pred, _ := out.InverseValue(p)
				sse += (pred - y[i]) * (pred - y[i])
			}
			rmse[string(v)] = math.Sqrt(sse / float64(len(valIdx)))
		}
	}

	if err := r.writeArtifact(k, model.KindInputScaler, features, in); err != nil {
		return nil, ManifestModel{}, err
	}
	if err := r.writeArtifact(k, model.KindOutputScaler, []string{k.Role.Target()}, out); err != nil {
		return nil, ManifestModel{}, err
	}
	if err := r.writeArtifact(k, model.KindLasso, features, lasso); err != nil {
		return nil, ManifestModel{}, err
	}
	if err := r.writeArtifact(k, model.KindMLP, features, mlp); err != nil {
		return nil, ManifestModel{}, err
	}

	now := domain.Now()
	mm := ManifestModel{
		Key:       k.String(),
		Variants:  []domain.Variant{domain.VariantLasso, domain.VariantMLP},
		Samples:   len(rows),
		RMSE:      rmse,
		TrainedAt: now,
	}
	return &Entry{
		Key: k, Status: StatusLoaded, Variant: domain.VariantMLP, Features: features, TrainedAt: now,
		regressor: mlp, input: in, output: out,
	}, mm, nil
}

func (r *Registry) writeArtifact(k domain.ModelKey, kind model.Kind, features []string, v any) error {
	data, err := model.Encode(kind, k, features, v)
	if err != nil {
		return err
	}
	return writeFileAtomic(ArtifactPath(r.root, k, kind), data)
}

// split returns a deterministic train/validation partition of n rows.
func split(n int, fraction float64, seed uint64) (train, val []int) {
	perm := rand.New(rand.NewPCG(seed, seed)).Perm(n)
	nVal := int(math.Round(fraction * float64(n)))
	if nVal >= n {
		nVal = n - 1
	}
	if nVal < 0 {
		nVal = 0
	}
	return perm[nVal:], perm[:nVal]
}

func pick(x [][]float64, idx []int) [][]float64 {
	out := make([][]float64, len(idx))
	for i, j := range idx {
		out[i] = x[j]
	}
	return out
}

func pickVals(y []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for i, j := range idx {
		out[i] = y[j]
	}
	return out
}
