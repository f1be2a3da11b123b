// Package scoring computes the retained value of an interaction.
package scoring

import (
	"fmt"
	"math"

	"github.com/kailas-cloud/hybridcoord/internal/domain"
	"github.com/kailas-cloud/hybridcoord/internal/domain/interaction"
)

// Formula weights; they sum to 1 so the score stays within [0,1].
const (
	WeightComplexity  = 0.20
	WeightReusability = 0.30
	WeightNovelty     = 0.20
	WeightConfirmed   = 0.15
	WeightImpact      = 0.15
)

// DefaultPromotionThreshold is the score at which an interaction becomes knowledge.
const DefaultPromotionThreshold = 0.7

// Score returns the weighted value of md. Inputs outside [0,1] are rejected, never clamped.
func Score(md interaction.Metadata) (float64, error) {
	fields := [...]struct {
		name string
		v    float64
	}{
		{"complexity", md.Complexity},
		{"reusability", md.Reusability},
		{"novelty", md.Novelty},
		{"impact", md.Impact},
	}
	for _, f := range fields {
		if math.IsNaN(f.v) || f.v < 0 || f.v > 1 {
			return 0, fmt.Errorf("%s must be within [0,1], got %v: %w", f.name, f.v, domain.ErrInvalidMetadata)
		}
	}

	confirmed := 0.0
	if md.Confirmed {
		confirmed = 1
	}

	score := md.Complexity*WeightComplexity +
		md.Reusability*WeightReusability +
		md.Novelty*WeightNovelty +
		confirmed*WeightConfirmed +
		md.Impact*WeightImpact
	// float noise must not push a perfect score past 1
	return math.Round(score*1e9) / 1e9, nil
}

// Scorer pairs the formula with the configured promotion threshold.
type Scorer struct {
	threshold float64
}

// New creates a Scorer. A non-positive threshold falls back to DefaultPromotionThreshold.
func New(threshold float64) *Scorer {
	if threshold <= 0 {
		threshold = DefaultPromotionThreshold
	}
	return &Scorer{threshold: threshold}
}

// Score delegates to the package-level formula.
func (s *Scorer) Score(md interaction.Metadata) (float64, error) { return Score(md) }

// Promote reports whether score reaches the promotion threshold.
func (s *Scorer) Promote(score float64) bool { return score >= s.threshold }

// Threshold returns the promotion threshold.
func (s *Scorer) Threshold() float64 { return s.threshold }
