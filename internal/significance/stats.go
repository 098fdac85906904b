// Package significance decides whether one variant outperforms another on a
// rate metric. Both tests are fixed-horizon and frequentist.
package significance

import (
	"math"

	"github.com/emiliopalmerini/mvariant/internal/domain"
)

const (
	// MinSampleSize is the smallest per-arm sample the z-test will judge.
	MinSampleSize = 30
	// ChiSquareCritical is the 95% cutoff for one degree of freedom.
	ChiSquareCritical = 3.841
	// ZTestSignificance is the confidence at which a z-test result is
	// reported significant. Auto-promotion uses the experiment's own
	// threshold instead.
	ZTestSignificance = 0.95
)

// NormalCDF is the standard normal cumulative distribution function.
func NormalCDF(z float64) float64 {
	return 0.5 * (1 + math.Erf(z/math.Sqrt2))
}

// ChiSquareCDF1 is the chi-square cumulative distribution with one degree of
// freedom.
func ChiSquareCDF1(x float64) float64 {
	if x <= 0 {
		return 0
	}
	return math.Erf(math.Sqrt(x / 2))
}

// Arm is one variant's observed proportion on a metric.
type Arm struct {
	VariantID string
	Name      string
	Rate      float64
	N         int64
}

func (a Arm) successes() float64 {
	return math.Round(a.Rate * float64(a.N))
}

// Result is the outcome of one test. When Defined is false the data could
// not support a verdict and Reason says why; that is different from a
// verdict of low confidence.
type Result struct {
	Strategy Strategy
	Defined  bool
	Reason   string

	ControlID string
	WinnerID  string
	LoserID   string

	Confidence float64
	Statistic  float64
	// Significant is the verdict at the strategy's fixed 95% level:
	// Confidence >= ZTestSignificance for the z-test, chi-square above
	// ChiSquareCritical for the chi-square test.
	Significant bool
	// ImprovementPercent is nil when the losing rate is zero.
	ImprovementPercent *float64
}

func undefined(s Strategy, reason string) Result {
	return Result{Strategy: s, Reason: reason}
}

// ProportionZTest compares the best non-control arm against the control with
// a pooled two-proportion z-test. Confidence is one-tailed: the probability
// that the leader truly beats the control.
func ProportionZTest(arms []Arm) Result {
	controlIdx := -1
	for i, a := range arms {
		if domain.IsControlName(a.Name) {
			controlIdx = i
			break
		}
	}
	if controlIdx < 0 {
		return undefined(StrategyZTest, "no control variant")
	}
	control := arms[controlIdx]
	if control.N < MinSampleSize {
		return undefined(StrategyZTest, "control sample below minimum")
	}

	leaderIdx := -1
	for i, a := range arms {
		if i == controlIdx {
			continue
		}
		if leaderIdx < 0 || a.Rate > arms[leaderIdx].Rate {
			leaderIdx = i
		}
	}
	if leaderIdx < 0 {
		return undefined(StrategyZTest, "no challenger variant")
	}
	leader := arms[leaderIdx]
	if leader.N < MinSampleSize {
		return undefined(StrategyZTest, "leader sample below minimum")
	}

	n1, n2 := float64(control.N), float64(leader.N)
	pooled := (control.Rate*n1 + leader.Rate*n2) / (n1 + n2)
	se := math.Sqrt(pooled * (1 - pooled) * (1/n1 + 1/n2))
	if se == 0 || math.IsNaN(se) {
		return undefined(StrategyZTest, "no variance between arms")
	}

	z := (leader.Rate - control.Rate) / se
	confidence := NormalCDF(z)
	res := Result{
		Strategy:    StrategyZTest,
		Defined:     true,
		ControlID:   control.VariantID,
		WinnerID:    leader.VariantID,
		LoserID:     control.VariantID,
		Confidence:  confidence,
		Statistic:   z,
		Significant: confidence >= ZTestSignificance,
	}
	res.ImprovementPercent = improvement(leader.Rate, control.Rate)
	return res
}

// ChiSquareTwoVariant runs a 2x2 chi-square independence test on exactly two
// arms. Successes are rate times sample size, rounded.
func ChiSquareTwoVariant(arms []Arm) Result {
	if len(arms) != 2 {
		return undefined(StrategyChiSquare, "requires exactly two variants")
	}
	control, treatment := arms[0], arms[1]
	if domain.IsControlName(treatment.Name) && !domain.IsControlName(control.Name) {
		control, treatment = treatment, control
	}
	if control.N <= 0 || treatment.N <= 0 {
		return undefined(StrategyChiSquare, "a variant has no observations")
	}

	a := control.successes()
	b := float64(control.N) - a
	c := treatment.successes()
	d := float64(treatment.N) - c
	n := a + b + c + d

	denom := (a + b) * (c + d) * (a + c) * (b + d)
	if denom == 0 {
		return undefined(StrategyChiSquare, "no variance between arms")
	}
	chi := n * math.Pow(a*d-b*c, 2) / denom

	res := Result{
		Strategy:    StrategyChiSquare,
		Defined:     true,
		ControlID:   control.VariantID,
		Confidence:  ChiSquareCDF1(chi),
		Statistic:   chi,
		Significant: chi > ChiSquareCritical,
	}

	winner, loser := treatment, control
	if control.Rate > treatment.Rate {
		winner, loser = control, treatment
	}
	if winner.Rate != loser.Rate {
		res.WinnerID = winner.VariantID
		res.LoserID = loser.VariantID
		res.ImprovementPercent = improvement(winner.Rate, loser.Rate)
	}
	return res
}

func improvement(winner, loser float64) *float64 {
	if loser == 0 {
		return nil
	}
	v := (winner - loser) / loser * 100
	return &v
}
