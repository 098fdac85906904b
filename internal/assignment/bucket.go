// Package assignment maps subjects onto experiment variants. Assignments are
// never stored: the same subject, experiment and configuration always yield
// the same variant.
package assignment

import (
	"github.com/cespare/xxhash/v2"

	"github.com/emiliopalmerini/mvariant/internal/domain"
)

const drawScale = float64(1 << 32)

// Draws hashes the subject within the experiment into two independent
// uniform values in [0,1): one for admission, one for variant selection.
func Draws(experimentID, subjectID string) (admission, variant float64) {
	d := xxhash.New()
	_, _ = d.WriteString(subjectID)
	_, _ = d.WriteString(experimentID)
	h := d.Sum64()
	return float64(uint32(h>>32)) / drawScale, float64(uint32(h)) / drawScale
}

// Admitted reports whether an admission draw falls inside the experiment's
// distribution share.
func Admitted(draw, distributionPercent float64) bool {
	return draw <= distributionPercent
}

// SelectVariant walks variants in order accumulating traffic and returns the
// first whose cumulative share reaches draw. Rounding can leave the total a
// hair under the draw, in which case the last variant is returned.
func SelectVariant(variants []*domain.Variant, draw float64) *domain.Variant {
	if len(variants) == 0 {
		return nil
	}
	var cumulative float64
	for _, v := range variants {
		cumulative += v.TrafficPercent
		if cumulative >= draw {
			return v
		}
	}
	return variants[len(variants)-1]
}
