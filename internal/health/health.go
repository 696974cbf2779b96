// Package health aggregates per-category project scores into one weighted
// score with a status band. Category scores are computed elsewhere.
package health

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gopkg.in/yaml.v3"
)

// Category names a health dimension.
type Category string

const (
	Build         Category = "build"
	Tests         Category = "tests"
	Dependencies  Category = "dependencies"
	Security      Category = "security"
	Performance   Category = "performance"
	CodeQuality   Category = "code_quality"
	Git           Category = "git"
	Documentation Category = "documentation"
)

// Categories lists every category in display order.
var Categories = []Category{Build, Tests, Dependencies, Security, Performance, CodeQuality, Git, Documentation}

// Band is a status band derived from a score.
type Band string

const (
	Excellent Band = "excellent"
	Good      Band = "good"
	Fair      Band = "fair"
	Poor      Band = "poor"
)

// weightEpsilon is the tolerance on the weight sum.
const weightEpsilon = 1e-6

var (
	ErrInvalidWeights  = errors.New("invalid weights")
	ErrInvalidBands    = errors.New("invalid bands")
	ErrMissingCategory = errors.New("missing category")
	ErrUnknownCategory = errors.New("unknown category")
	ErrScoreOutOfRange = errors.New("score out of range")
)

// Weights maps each category to its share of the overall score.
type Weights map[Category]float64

// relativeWeights are the default category importances before normalization.
var relativeWeights = Weights{
	Build:         20,
	Tests:         20,
	Dependencies:  15,
	Security:      15,
	Performance:   10,
	CodeQuality:   15,
	Git:           10,
	Documentation: 5,
}

// DefaultWeights returns the built-in weights, summing to 1.0.
func DefaultWeights() Weights {
	w, err := Normalize(relativeWeights)
	if err != nil {
		panic(err)
	}
	return w
}

// Normalize scales relative weights so they sum to 1.0.
func Normalize(relative Weights) (Weights, error) {
	var total float64
	for c, w := range relative {
		if w < 0 {
			return nil, fmt.Errorf("%w: %s is negative", ErrInvalidWeights, c)
		}
		total += w
	}
	if total <= 0 {
		return nil, fmt.Errorf("%w: weights sum to zero", ErrInvalidWeights)
	}
	out := make(Weights, len(relative))
	for c, w := range relative {
		out[c] = w / total
	}
	return out, nil
}

// Bands are the lower score bounds of each band. Scores below Fair are Poor.
type Bands struct {
	Excellent float64 `yaml:"excellent" json:"excellent"`
	Good      float64 `yaml:"good" json:"good"`
	Fair      float64 `yaml:"fair" json:"fair"`
}

// DefaultBands returns the 90/70/50 cut points.
func DefaultBands() Bands {
	return Bands{Excellent: 90, Good: 70, Fair: 50}
}

// Validate checks the cut points are within [0,100] and strictly decreasing.
func (b Bands) Validate() error {
	if b.Excellent > 100 || b.Fair < 0 {
		return fmt.Errorf("%w: cut points must lie in [0,100]", ErrInvalidBands)
	}
	if !(b.Excellent > b.Good && b.Good > b.Fair) {
		return fmt.Errorf("%w: need excellent > good > fair, got %v/%v/%v", ErrInvalidBands, b.Excellent, b.Good, b.Fair)
	}
	return nil
}

// Of returns the band for score.
func (b Bands) Of(score float64) Band {
	switch {
	case score >= b.Excellent:
		return Excellent
	case score >= b.Good:
		return Good
	case score >= b.Fair:
		return Fair
	}
	return Poor
}

// CategoryResult is one category's contribution.
type CategoryResult struct {
	Name   Category `json:"name" yaml:"name"`
	Score  float64  `json:"score" yaml:"score"`
	Weight float64  `json:"weight" yaml:"weight"`
	Band   Band     `json:"band" yaml:"band"`
}

// Overall is the aggregated health.
type Overall struct {
	Score      float64          `json:"score" yaml:"score"`
	Band       Band             `json:"band" yaml:"band"`
	Categories []CategoryResult `json:"categories" yaml:"categories"`
}

// Scorer aggregates category scores. Immutable after construction.
type Scorer struct {
	weights Weights
	bands   Bands
}

// NewScorer validates weights and bands.
func NewScorer(weights Weights, bands Bands) (*Scorer, error) {
	if err := validateWeights(weights); err != nil {
		return nil, err
	}
	if err := bands.Validate(); err != nil {
		return nil, err
	}
	w := make(Weights, len(weights))
	for c, v := range weights {
		w[c] = v
	}
	return &Scorer{weights: w, bands: bands}, nil
}

// NewDefaultScorer returns a scorer with the default weights and bands.
func NewDefaultScorer() *Scorer {
	s, err := NewScorer(DefaultWeights(), DefaultBands())
	if err != nil {
		panic(err)
	}
	return s
}

func validateWeights(weights Weights) error {
	var sum float64
	for c, w := range weights {
		if !known(c) {
			return fmt.Errorf("%w: %w %q", ErrInvalidWeights, ErrUnknownCategory, c)
		}
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("%w: %s has weight %v", ErrInvalidWeights, c, w)
		}
		sum += w
	}
	for _, c := range Categories {
		if _, ok := weights[c]; !ok {
			return fmt.Errorf("%w: %w %s", ErrInvalidWeights, ErrMissingCategory, c)
		}
	}
	if math.Abs(sum-1) > weightEpsilon {
		return fmt.Errorf("%w: weights sum to %v, want 1.0", ErrInvalidWeights, sum)
	}
	return nil
}

func known(c Category) bool {
	for _, k := range Categories {
		if k == c {
			return true
		}
	}
	return false
}

// Weights returns a copy of the scorer's weights.
func (s *Scorer) Weights() Weights {
	out := make(Weights, len(s.weights))
	for c, w := range s.weights {
		out[c] = w
	}
	return out
}

// Aggregate computes the weighted overall score. Every category must be
// present with a score in [0,100].
func (s *Scorer) Aggregate(scores map[Category]float64) (Overall, error) {
	for c := range scores {
		if !known(c) {
			return Overall{}, fmt.Errorf("%w: %q", ErrUnknownCategory, c)
		}
	}

	var total float64
	results := make([]CategoryResult, 0, len(Categories))
	for _, c := range Categories {
		score, ok := scores[c]
		if !ok {
			return Overall{}, fmt.Errorf("%w: %s", ErrMissingCategory, c)
		}
		if score < 0 || score > 100 || math.IsNaN(score) {
			return Overall{}, fmt.Errorf("%w: %s=%v", ErrScoreOutOfRange, c, score)
		}
		w := s.weights[c]
		total += w * score
		results = append(results, CategoryResult{Name: c, Score: score, Weight: w, Band: s.bands.Of(score)})
	}

	overall := math.Round(total*100) / 100
	return Overall{Score: overall, Band: s.bands.Of(overall), Categories: results}, nil
}

// ParseScores reads a YAML mapping of category name to score.
func ParseScores(data []byte) (map[Category]float64, error) {
	var raw map[string]float64
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse scores: %w", err)
	}
	out := make(map[Category]float64, len(raw))
	for k, v := range raw {
		out[Category(k)] = v
	}
	return out, nil
}

// SortedByWeight returns results ordered by descending weight, then name.
func SortedByWeight(results []CategoryResult) []CategoryResult {
	out := append([]CategoryResult(nil), results...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].Name < out[j].Name
	})
	return out
}
