package assignment

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emiliopalmerini/mvariant/internal/domain"
)

func variants(traffic ...float64) []*domain.Variant {
	out := make([]*domain.Variant, len(traffic))
	for i, tp := range traffic {
		out[i] = &domain.Variant{ID: fmt.Sprintf("v%d", i), TrafficPercent: tp, Position: i}
	}
	return out
}

func TestDrawsAreDeterministic(t *testing.T) {
	a1, v1 := Draws("exp-1", "contact-42")
	a2, v2 := Draws("exp-1", "contact-42")
	assert.Equal(t, a1, a2)
	assert.Equal(t, v1, v2)

	for _, d := range []float64{a1, v1} {
		assert.GreaterOrEqual(t, d, 0.0)
		assert.Less(t, d, 1.0)
	}

	a3, v3 := Draws("exp-2", "contact-42")
	assert.False(t, a1 == a3 && v1 == v3, "different experiments should draw differently")
}

func TestSelectVariant(t *testing.T) {
	vs := variants(0.5, 0.3, 0.2)
	tests := []struct {
		draw float64
		want string
	}{
		{0, "v0"},
		{0.5, "v0"},
		{0.5000001, "v1"},
		{0.79, "v1"},
		{0.81, "v2"},
		{0.999, "v2"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.draw), func(t *testing.T) {
			assert.Equal(t, tt.want, SelectVariant(vs, tt.draw).ID)
		})
	}

	assert.Nil(t, SelectVariant(nil, 0.5))
}

func TestSelectVariantFallsBackToLast(t *testing.T) {
	vs := variants(0.333, 0.333, 0.334)
	assert.Equal(t, "v2", SelectVariant(vs, 0.9999).ID)
	assert.Equal(t, "v2", SelectVariant(vs, 0.99999999999).ID)

	// Traffic summing to 0.99 is accepted by validation; draws past it land
	// on the last variant.
	short := variants(0.495, 0.495)
	assert.Equal(t, "v1", SelectVariant(short, 0.995).ID)
}

func TestTrafficConservation(t *testing.T) {
	vs := variants(0.5, 0.3, 0.2)
	counts := make(map[string]int)
	const n = 100_000
	for i := 0; i < n; i++ {
		_, draw := Draws("exp-traffic", fmt.Sprintf("subject-%d", i))
		counts[SelectVariant(vs, draw).ID]++
	}

	for i, want := range []float64{0.5, 0.3, 0.2} {
		got := float64(counts[fmt.Sprintf("v%d", i)]) / n
		assert.InDelta(t, want, got, 0.015, "variant v%d", i)
	}
}

func TestAdmissionGating(t *testing.T) {
	const n = 100_000
	admitted := 0
	for i := 0; i < n; i++ {
		admission, _ := Draws("exp-admission", fmt.Sprintf("subject-%d", i))
		if Admitted(admission, 0.3) {
			admitted++
		}
	}
	assert.InDelta(t, 0.3, float64(admitted)/n, 0.015)

	require.True(t, Admitted(0.9999, 1))
}
