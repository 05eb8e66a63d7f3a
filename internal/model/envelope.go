// Package model holds the trainable estimators and their on-disk envelope.
//
// Every artifact is written as a JSON envelope carrying the ModelKey and the
// exact feature order it was fit on. Decoding rejects an envelope whose kind,
// key, or feature order differs from what the caller expects, so a scaler fit
// on one column order can never be replayed against another.
package model

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/couchcryptid/storm-nowcast-service/internal/domain"
)

// EnvelopeVersion is bumped when the payload layout changes.
const EnvelopeVersion = 1

// Kind identifies the artifact inside an envelope.
type Kind string

const (
	KindInputScaler  Kind = "input-scaler"
	KindOutputScaler Kind = "output-scaler"
	KindClassifier   Kind = "classifier"
	KindLasso        Kind = Kind(domain.VariantLasso)
	KindMLP          Kind = Kind(domain.VariantMLP)
)

// Envelope is the persisted form of one artifact.
type Envelope struct {
	Version   int             `json:"version"`
	Kind      Kind            `json:"kind"`
	Key       string          `json:"key"`
	Features  []string        `json:"features"`
	TrainedAt time.Time       `json:"trained_at"`
	Payload   json.RawMessage `json:"payload"`
}

// validator checks a decoded estimator against the number of inputs its
// envelope declares.
type validator interface {
	validate(inputs int) error
}

// Encode wraps an estimator in an envelope.
func Encode(kind Kind, key domain.ModelKey, features []string, v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s for %s: %w", kind, key, err)
	}
	env := Envelope{
		Version:   EnvelopeVersion,
		Kind:      kind,
		Key:       key.String(),
		Features:  features,
		TrainedAt: domain.Now(),
		Payload:   payload,
	}
	return json.MarshalIndent(env, "", "  ")
}

// Decode unwraps an envelope into v after checking kind, key, and feature order.
func Decode(data []byte, kind Kind, key domain.ModelKey, features []string, v any) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("decode %s envelope for %s: %w", kind, key, err)
	}
	if env.Version != EnvelopeVersion {
		return env, fmt.Errorf("%s for %s: unsupported envelope version %d", kind, key, env.Version)
	}
	if env.Kind != kind {
		return env, fmt.Errorf("%s for %s: envelope holds %s", kind, key, env.Kind)
	}
	if env.Key != key.String() {
		return env, fmt.Errorf("%s for %s: envelope was written for %s", kind, key, env.Key)
	}
	if !slices.Equal(env.Features, features) {
		return env, fmt.Errorf("%s for %s: feature order mismatch", kind, key)
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return env, fmt.Errorf("decode %s payload for %s: %w", kind, key, err)
	}
	if val, ok := v.(validator); ok {
		if err := val.validate(len(features)); err != nil {
			return env, fmt.Errorf("%s for %s: %w", kind, key, err)
		}
	}
	return env, nil
}

func finite(vals []float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
