package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Category is a storm-cell morphology label.
type Category string

const (
	CategoryCC  Category = "CC"
	CategoryMCC Category = "MCC"
	CategorySLD Category = "SLD"
	CategorySLP Category = "SLP"
	CategoryMSL Category = "MSL"
	CategoryALL Category = "ALL"
)

// ParseCategory validates a category label. Matching is case-insensitive.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	switch c {
	case CategoryCC, CategoryMCC, CategorySLD, CategorySLP, CategoryMSL, CategoryALL:
		return c, nil
	default:
		return "", fmt.Errorf("unknown storm category %q", s)
	}
}

// Horizon is a forecast offset in minutes.
type Horizon int

const (
	Horizon30 Horizon = 30
	Horizon60 Horizon = 60
)

// ParseHorizon accepts "30", "30min", or "30m".
func ParseHorizon(s string) (Horizon, error) {
	trimmed := strings.TrimSpace(strings.ToLower(s))
	trimmed = strings.TrimSuffix(trimmed, "min")
	trimmed = strings.TrimSuffix(trimmed, "m")
	n, err := strconv.Atoi(trimmed)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid horizon %q", s)
	}
	return Horizon(n), nil
}

// Duration returns the horizon as a time.Duration.
func (h Horizon) Duration() time.Duration {
	return time.Duration(h) * time.Minute
}

func (h Horizon) String() string {
	return strconv.Itoa(int(h)) + "min"
}

// Role is the job an artifact performs for a (category, horizon) pair.
type Role string

const (
	RoleClassifier     Role = "classifier"
	RoleRegressorMean  Role = "regressor-mean"
	RoleRegressorTop10 Role = "regressor-top10"
)

// IsRegression reports whether the role predicts a rain rate.
func (r Role) IsRegression() bool {
	return r == RoleRegressorMean || r == RoleRegressorTop10
}

// Target returns the label column the role is trained against.
func (r Role) Target() string {
	switch r {
	case RoleRegressorMean:
		return "mean_rainfall_rate_mmh"
	case RoleRegressorTop10:
		return "top10_mean_rr_mmh"
	default:
		return "is_heavy_rainfall"
	}
}

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleClassifier, RoleRegressorMean, RoleRegressorTop10:
		return r, nil
	default:
		return "", fmt.Errorf("unknown model role %q", s)
	}
}

// Variant names a regressor family trained under the same ModelKey.
type Variant string

const (
	VariantLasso Variant = "lasso"
	VariantMLP   Variant = "mlp"
)

// PreferredVariants is the lookup order at inference time.
var PreferredVariants = []Variant{VariantMLP, VariantLasso}

// ModelKey addresses one trained artifact set. It is comparable and used as a
// map key; build it with NewModelKey or a struct literal of validated parts.
type ModelKey struct {
	Category Category
	Horizon  Horizon
	Role     Role
}

// NewModelKey builds a key from parts.
func NewModelKey(c Category, h Horizon, r Role) ModelKey {
	return ModelKey{Category: c, Horizon: h, Role: r}
}

// String renders the key as "<category>_<horizon>_<role>".
func (k ModelKey) String() string {
	return fmt.Sprintf("%s_%s_%s", k.Category, k.Horizon, k.Role)
}

// ParseModelKey is the inverse of ModelKey.String.
func ParseModelKey(s string) (ModelKey, error) {
	parts := strings.SplitN(s, "_", 3)
	if len(parts) != 3 {
		return ModelKey{}, fmt.Errorf("invalid model key %q", s)
	}
	c, err := ParseCategory(parts[0])
	if err != nil {
		return ModelKey{}, err
	}
	h, err := ParseHorizon(parts[1])
	if err != nil {
		return ModelKey{}, err
	}
	r, err := ParseRole(parts[2])
	if err != nil {
		return ModelKey{}, err
	}
	return ModelKey{Category: c, Horizon: h, Role: r}, nil
}

// Catalogue is the recognized key space, fixed at construction time.
type Catalogue struct {
	Categories           []Category
	RegressionCategories []Category
	Horizons             []Horizon
}

// DefaultCatalogue returns the categories and horizons the models are trained for.
func DefaultCatalogue() Catalogue {
	return Catalogue{
		Categories:           []Category{CategoryCC, CategoryMCC, CategorySLD, CategorySLP, CategoryMSL, CategoryALL},
		RegressionCategories: []Category{CategoryCC, CategoryMSL},
		Horizons:             []Horizon{Horizon30, Horizon60},
	}
}

// Keys enumerates every recognized key: a classifier for each category and
// horizon, and both regressor roles for each regression category and horizon.
func (c Catalogue) Keys() []ModelKey {
	keys := make([]ModelKey, 0, len(c.Categories)*len(c.Horizons)+2*len(c.RegressionCategories)*len(c.Horizons))
	for _, cat := range c.Categories {
		for _, h := range c.Horizons {
			keys = append(keys, NewModelKey(cat, h, RoleClassifier))
		}
	}
	for _, cat := range c.RegressionCategories {
		for _, h := range c.Horizons {
			keys = append(keys,
				NewModelKey(cat, h, RoleRegressorMean),
				NewModelKey(cat, h, RoleRegressorTop10),
			)
		}
	}
	return keys
}

// Recognizes reports whether the key belongs to the catalogue.
func (c Catalogue) Recognizes(k ModelKey) bool {
	cats := c.Categories
	if k.Role.IsRegression() {
		cats = c.RegressionCategories
	}
	return containsCategory(cats, k.Category) && containsHorizon(c.Horizons, k.Horizon)
}

// Validate checks that the catalogue is non-empty and regression categories
// are a subset of categories.
func (c Catalogue) Validate() error {
	if len(c.Categories) == 0 {
		return fmt.Errorf("catalogue has no categories")
	}
	if len(c.Horizons) == 0 {
		return fmt.Errorf("catalogue has no horizons")
	}
	for _, rc := range c.RegressionCategories {
		if !containsCategory(c.Categories, rc) {
			return fmt.Errorf("regression category %s is not a recognized category", rc)
		}
	}
	return nil
}

func containsCategory(cs []Category, c Category) bool {
	for _, v := range cs {
		if v == c {
			return true
		}
	}
	return false
}

func containsHorizon(hs []Horizon, h Horizon) bool {
	for _, v := range hs {
		if v == h {
			return true
		}
	}
	return false
}
