package experiment

import (
	"context"

	"github.com/emiliopalmerini/mvariant/internal/domain"
	"github.com/emiliopalmerini/mvariant/internal/ports"
	"github.com/emiliopalmerini/mvariant/internal/significance"
)

// Promotion is the outcome of a winner check.
type Promotion struct {
	Result   significance.Result
	Promoted bool
}

// CheckWinner runs the z-test on the winner metric and, when its confidence
// reaches the experiment's threshold, completes the experiment with the
// leading variant as winner. It depends only on stored state, so repeated
// calls are harmless; experiments that are not running are left alone.
func (s *Service) CheckWinner(ctx context.Context, id string) (*Promotion, error) {
	d, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	exp := d.Experiment

	if exp.Status != domain.StatusRunning {
		return &Promotion{Result: skipped("experiment is " + string(exp.Status))}, nil
	}
	if exp.WinnerThreshold == nil {
		return &Promotion{Result: skipped("no winner threshold")}, nil
	}

	res, err := s.evaluate(ctx, d, exp.WinnerMetric, significance.StrategyZTest)
	if err != nil {
		return nil, err
	}
	out := &Promotion{Result: res}
	if !res.Defined || res.Confidence < *exp.WinnerThreshold {
		return out, nil
	}

	unlock, acquired, err := s.locker.TryLock(ctx, "promotion:"+id)
	switch {
	case err != nil:
		// The status compare-and-set still keeps promotion single-winner.
		s.logger.Warn("promotion lock unavailable", "experiment_id", id, "error", err)
	case !acquired:
		return out, nil
	default:
		defer unlock()
	}

	now := s.now()
	winner := res.WinnerID
	ok, err := s.transition(ctx, id, []domain.Status{domain.StatusRunning}, domain.StatusChange{
		To:              domain.StatusCompleted,
		At:              now,
		EndedAt:         &now,
		WinnerVariantID: &winner,
	})
	if err != nil {
		return nil, err
	}
	if ok {
		out.Promoted = true
		s.exporter.ExportPromotion(ctx, id, winner, true)
		s.logger.Info("winner promoted",
			"experiment_id", id,
			"variant_id", winner,
			"confidence", res.Confidence,
			"threshold", *exp.WinnerThreshold)
	}
	return out, nil
}

func (s *Service) autoPromote(ctx context.Context, id string) {
	if _, err := s.CheckWinner(ctx, id); err != nil {
		s.logger.Error("winner check failed", "experiment_id", id, "error", err)
	}
}

func skipped(reason string) significance.Result {
	return significance.Result{Strategy: significance.StrategyZTest, Reason: reason}
}

// DeclareWinner completes a RUNNING experiment with variantID as winner.
// It reports false when the experiment is not running.
func (s *Service) DeclareWinner(ctx context.Context, id, variantID string) (bool, error) {
	exp, err := s.repos.Experiments.GetByID(ctx, id)
	if err != nil {
		return false, domain.WrapStore("get experiment", err)
	}
	if exp == nil {
		return false, domain.ExperimentNotFound(id)
	}
	if _, err := s.variantOf(ctx, id, variantID); err != nil {
		return false, err
	}

	now := s.now()
	ok, err := s.transition(ctx, id, []domain.Status{domain.StatusRunning}, domain.StatusChange{
		To:              domain.StatusCompleted,
		At:              now,
		EndedAt:         &now,
		WinnerVariantID: &variantID,
	})
	if err != nil {
		return false, err
	}
	if ok {
		s.exporter.ExportPromotion(ctx, id, variantID, false)
	}
	return ok, nil
}

// Evaluate reports significance for metric under strategy without changing
// anything. An empty metric means the experiment's winner metric.
func (s *Service) Evaluate(ctx context.Context, id string, metric domain.Metric, strategy significance.Strategy) (significance.Result, error) {
	d, err := s.Get(ctx, id)
	if err != nil {
		return significance.Result{}, err
	}
	if metric == "" {
		metric = d.Experiment.WinnerMetric
	}
	return s.evaluate(ctx, d, metric, strategy)
}

func (s *Service) evaluate(ctx context.Context, d *domain.ExperimentDetail, metric domain.Metric, strategy significance.Strategy) (significance.Result, error) {
	res, err := s.sig.Evaluate(d, metric, strategy)
	if err != nil {
		return significance.Result{}, err
	}
	s.exporter.ExportEvaluation(ctx, &ports.EvaluationMetrics{
		ExperimentID: d.Experiment.ID,
		Strategy:     string(strategy),
		Metric:       metric,
		Defined:      res.Defined,
		Confidence:   res.Confidence,
	})
	return res, nil
}
