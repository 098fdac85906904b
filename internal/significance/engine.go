package significance

import (
	"errors"
	"fmt"
	"strings"

	"github.com/emiliopalmerini/mvariant/internal/domain"
)

var (
	ErrUnknownMetric   = errors.New("unknown metric")
	ErrUnknownStrategy = errors.New("unknown strategy")
)

// Strategy names a significance test.
type Strategy string

const (
	StrategyZTest     Strategy = "proportion_z_test"
	StrategyChiSquare Strategy = "chi_square_two_variant"
)

func Strategies() []Strategy {
	return []Strategy{StrategyZTest, StrategyChiSquare}
}

func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case StrategyZTest, "z", "z-test", "ztest":
		return StrategyZTest, nil
	case StrategyChiSquare, "chi", "chi-square", "chisquare":
		return StrategyChiSquare, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
}

// Engine evaluates experiments with a chosen strategy.
type Engine struct{}

func NewEngine() *Engine {
	return &Engine{}
}

// Evaluate runs strategy on metric over the experiment's recorded results.
// Variants without a result for metric count as empty arms. It errors only
// for an unknown metric or strategy; thin data yields an undefined Result.
func (e *Engine) Evaluate(d *domain.ExperimentDetail, metric domain.Metric, strategy Strategy) (Result, error) {
	if !metric.Known() {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownMetric, metric)
	}

	arms := Arms(d, metric)
	switch strategy {
	case StrategyZTest:
		return ProportionZTest(arms), nil
	case StrategyChiSquare:
		return ChiSquareTwoVariant(arms), nil
	}
	return Result{}, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
}

// Arms pairs each variant, in position order, with its result for metric.
func Arms(d *domain.ExperimentDetail, metric domain.Metric) []Arm {
	results := d.ResultsFor(metric)
	arms := make([]Arm, 0, len(d.Variants))
	for _, v := range d.Variants {
		arm := Arm{VariantID: v.ID, Name: v.Name}
		if r, ok := results[v.ID]; ok {
			arm.Rate = r.Value
			arm.N = r.SampleSize
		}
		arms = append(arms, arm)
	}
	return arms
}

