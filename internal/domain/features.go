package domain

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// RadarVariables are the 17 radar-derived inputs in model order.
var RadarVariables = []string{
	"Rmj", "Rmn", "Theta", "MeanZ", "Area", "Volume", "Top", "Base",
	"MaxZ", "MaxZhg", "AvgVIL", "MaxVIL", "U", "V", "Direction",
	"MeanRR_prev", "Top10%_prev",
}

// TopographicVariables are the 5 terrain inputs in model order.
var TopographicVariables = []string{
	"dist_to_sea", "elevation", "aspect", "roughness", "slope",
}

// ClassifierFeatures returns the classifier input order: radar then topographic.
func ClassifierFeatures() []string {
	out := make([]string, 0, len(RadarVariables)+len(TopographicVariables))
	out = append(out, RadarVariables...)
	return append(out, TopographicVariables...)
}

// RegressorFeatures returns the regressor input order: radar only.
func RegressorFeatures() []string {
	out := make([]string, len(RadarVariables))
	copy(out, RadarVariables)
	return out
}

// FeaturesFor returns the input order used by models of the given role.
func FeaturesFor(r Role) []string {
	if r.IsRegression() {
		return RegressorFeatures()
	}
	return ClassifierFeatures()
}

// Vector lays out named features in the given order. Missing or non-finite
// values are reported together as ErrDataQuality.
func Vector(features map[string]float64, order []string) ([]float64, error) {
	out := make([]float64, len(order))
	var missing, invalid []string
	for i, name := range order {
		v, ok := features[name]
		switch {
		case !ok:
			missing = append(missing, name)
		case math.IsNaN(v) || math.IsInf(v, 0):
			invalid = append(invalid, name)
		default:
			out[i] = v
		}
	}
	if len(missing) == 0 && len(invalid) == 0 {
		return out, nil
	}
	sort.Strings(missing)
	sort.Strings(invalid)
	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing "+strings.Join(missing, ","))
	}
	if len(invalid) > 0 {
		parts = append(parts, "non-finite "+strings.Join(invalid, ","))
	}
	return nil, fmt.Errorf("%w: %s", ErrDataQuality, strings.Join(parts, "; "))
}

// Categorize assigns a category from derived features when the detector did
// not label the cell: cells with a major radius under 20 km are convective
// cells, everything larger is treated as a mixed squall line.
func Categorize(features map[string]float64) Category {
	if rmj, ok := features["Rmj"]; ok && rmj < 20 {
		return CategoryCC
	}
	return CategoryMSL
}
