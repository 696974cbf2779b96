package health

import (
	"errors"
	"math"
	"testing"
)

func uniform(score float64) map[Category]float64 {
	out := map[Category]float64{}
	for _, c := range Categories {
		out[c] = score
	}
	return out
}

func TestDefaultWeights_SumToOne(t *testing.T) {
	var sum float64
	for _, w := range DefaultWeights() {
		sum += w
	}
	if math.Abs(sum-1) > weightEpsilon {
		t.Errorf("default weights sum to %v", sum)
	}
	w := DefaultWeights()
	if w[Build] != w[Tests] || w[Build] != 4*w[Documentation] {
		t.Errorf("relative weights not preserved: %v", w)
	}
}

func TestAggregate_AllHundred(t *testing.T) {
	skewed := Weights{}
	for _, c := range Categories {
		skewed[c] = 0
	}
	skewed[Documentation] = 1

	tests := []struct {
		name    string
		weights Weights
	}{
		{"default", DefaultWeights()},
		{"skewed", skewed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewScorer(tt.weights, DefaultBands())
			if err != nil {
				t.Fatalf("NewScorer error: %v", err)
			}
			got, err := s.Aggregate(uniform(100))
			if err != nil {
				t.Fatalf("Aggregate error: %v", err)
			}
			if got.Score != 100 {
				t.Errorf("score = %v, want 100", got.Score)
			}
			if got.Band != Excellent {
				t.Errorf("band = %v, want excellent", got.Band)
			}
			if len(got.Categories) != len(Categories) {
				t.Errorf("expected %d category results, got %d", len(Categories), len(got.Categories))
			}
		})
	}
}

func TestNewScorer_RejectsHalfWeights(t *testing.T) {
	half := Weights{}
	for c, w := range DefaultWeights() {
		half[c] = w / 2
	}
	_, err := NewScorer(half, DefaultBands())
	if !errors.Is(err, ErrInvalidWeights) {
		t.Fatalf("expected ErrInvalidWeights, got %v", err)
	}
}

func TestNewScorer_Validation(t *testing.T) {
	negative := DefaultWeights()
	negative[Build] = -negative[Build]

	unknown := DefaultWeights()
	unknown["vibes"] = 0

	missing := DefaultWeights()
	delete(missing, Git)

	tests := []struct {
		name    string
		weights Weights
		bands   Bands
		want    error
	}{
		{"negative weight", negative, DefaultBands(), ErrInvalidWeights},
		{"unknown category", unknown, DefaultBands(), ErrUnknownCategory},
		{"missing category", missing, DefaultBands(), ErrMissingCategory},
		{"overlapping bands", DefaultWeights(), Bands{Excellent: 70, Good: 70, Fair: 50}, ErrInvalidBands},
		{"inverted bands", DefaultWeights(), Bands{Excellent: 50, Good: 70, Fair: 90}, ErrInvalidBands},
		{"bands above 100", DefaultWeights(), Bands{Excellent: 120, Good: 70, Fair: 50}, ErrInvalidBands},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewScorer(tt.weights, tt.bands)
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestAggregate_Weighted(t *testing.T) {
	s := NewDefaultScorer()
	scores := uniform(80)
	scores[Build] = 40

	got, err := s.Aggregate(scores)
	if err != nil {
		t.Fatalf("Aggregate error: %v", err)
	}
	// 80 - 40*20/110
	if got.Score != 72.73 {
		t.Errorf("score = %v, want 72.73", got.Score)
	}
	if got.Band != Good {
		t.Errorf("band = %v, want good", got.Band)
	}
	if got.Categories[0].Name != Build || got.Categories[0].Band != Poor {
		t.Errorf("build result = %+v", got.Categories[0])
	}
}

func TestAggregate_Errors(t *testing.T) {
	s := NewDefaultScorer()

	missing := uniform(90)
	delete(missing, Security)
	if _, err := s.Aggregate(missing); !errors.Is(err, ErrMissingCategory) {
		t.Errorf("missing: got %v", err)
	}

	high := uniform(90)
	high[Tests] = 101
	if _, err := s.Aggregate(high); !errors.Is(err, ErrScoreOutOfRange) {
		t.Errorf("out of range: got %v", err)
	}

	extra := uniform(90)
	extra["uptime"] = 50
	if _, err := s.Aggregate(extra); !errors.Is(err, ErrUnknownCategory) {
		t.Errorf("unknown: got %v", err)
	}
}

func TestBands_Of(t *testing.T) {
	b := DefaultBands()
	tests := []struct {
		score float64
		want  Band
	}{
		{100, Excellent},
		{90, Excellent},
		{89.99, Good},
		{70, Good},
		{69, Fair},
		{50, Fair},
		{49.5, Poor},
		{0, Poor},
	}
	for _, tt := range tests {
		if got := b.Of(tt.score); got != tt.want {
			t.Errorf("Of(%v) = %v, want %v", tt.score, got, tt.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	w, err := Normalize(Weights{Build: 1, Tests: 3})
	if err != nil {
		t.Fatalf("Normalize error: %v", err)
	}
	if w[Build] != 0.25 || w[Tests] != 0.75 {
		t.Errorf("Normalize = %v", w)
	}
	if _, err := Normalize(Weights{Build: 0}); !errors.Is(err, ErrInvalidWeights) {
		t.Errorf("zero sum: got %v", err)
	}
}

func TestParseScores(t *testing.T) {
	data := []byte("build: 95\ntests: 88.5\ngit: 70\n")
	got, err := ParseScores(data)
	if err != nil {
		t.Fatalf("ParseScores error: %v", err)
	}
	if got[Build] != 95 || got[Tests] != 88.5 || got[Git] != 70 {
		t.Errorf("ParseScores = %v", got)
	}
	if _, err := ParseScores([]byte("build: [1, 2]")); err == nil {
		t.Error("expected error for non-numeric score")
	}
}

func TestSortedByWeight(t *testing.T) {
	got, err := NewDefaultScorer().Aggregate(uniform(75))
	if err != nil {
		t.Fatal(err)
	}
	sorted := SortedByWeight(got.Categories)
	if sorted[0].Name != Build || sorted[1].Name != Tests {
		t.Errorf("first two = %s, %s", sorted[0].Name, sorted[1].Name)
	}
	if sorted[len(sorted)-1].Name != Documentation {
		t.Errorf("last = %s", sorted[len(sorted)-1].Name)
	}
}
