package experiment

import (
	"context"

	"github.com/emiliopalmerini/mvariant/internal/domain"
)

// RecordResult stores the current aggregate for one variant and metric,
// replacing any earlier value. Running experiments with a winner threshold
// are then checked for a winner; that check never fails the recording.
func (s *Service) RecordResult(ctx context.Context, experimentID, variantID string, metric domain.Metric, value float64, sampleSize int64) (*domain.MetricResult, error) {
	ve := &domain.ValidationError{}
	if !metric.Known() {
		ve.Problems = append(ve.Problems, domain.FieldProblem{Field: "metric", Message: "unknown metric " + string(metric)})
	}
	if value < 0 || value > 1 {
		ve.Problems = append(ve.Problems, domain.FieldProblem{Field: "value", Message: "must be a proportion in [0,1]"})
	}
	if sampleSize < 0 {
		ve.Problems = append(ve.Problems, domain.FieldProblem{Field: "sample_size", Message: "must not be negative"})
	}
	if len(ve.Problems) > 0 {
		return nil, ve
	}

	exp, err := s.recordingTarget(ctx, experimentID, variantID)
	if err != nil {
		return nil, err
	}

	result := &domain.MetricResult{
		ExperimentID: experimentID,
		VariantID:    variantID,
		Metric:       metric,
		Value:        value,
		SampleSize:   sampleSize,
		RecordedAt:   s.now(),
	}
	if err := s.repos.Results.Upsert(ctx, result); err != nil {
		return nil, domain.WrapStore("upsert result", err)
	}

	s.afterRecording(ctx, exp, result)
	return result, nil
}

// RecordObservation adds successes out of trials to the stored aggregate.
// Concurrent observations on the same key are merged without loss.
func (s *Service) RecordObservation(ctx context.Context, experimentID, variantID string, metric domain.Metric, successes, trials int64) (*domain.MetricResult, error) {
	ve := &domain.ValidationError{}
	if !metric.Known() {
		ve.Problems = append(ve.Problems, domain.FieldProblem{Field: "metric", Message: "unknown metric " + string(metric)})
	}
	if trials <= 0 {
		ve.Problems = append(ve.Problems, domain.FieldProblem{Field: "trials", Message: "must be positive"})
	}
	if successes < 0 || successes > trials {
		ve.Problems = append(ve.Problems, domain.FieldProblem{Field: "successes", Message: "must be between 0 and trials"})
	}
	if len(ve.Problems) > 0 {
		return nil, ve
	}

	exp, err := s.recordingTarget(ctx, experimentID, variantID)
	if err != nil {
		return nil, err
	}

	key := domain.MetricResult{
		ExperimentID: experimentID,
		VariantID:    variantID,
		Metric:       metric,
		RecordedAt:   s.now(),
	}
	result, err := s.repos.Results.Merge(ctx, key, successes, trials)
	if err != nil {
		return nil, domain.WrapStore("merge result", err)
	}

	s.afterRecording(ctx, exp, result)
	return result, nil
}

func (s *Service) recordingTarget(ctx context.Context, experimentID, variantID string) (*domain.Experiment, error) {
	exp, err := s.repos.Experiments.GetByID(ctx, experimentID)
	if err != nil {
		return nil, domain.WrapStore("get experiment", err)
	}
	if exp == nil {
		return nil, domain.ExperimentNotFound(experimentID)
	}
	if _, err := s.variantOf(ctx, experimentID, variantID); err != nil {
		return nil, err
	}
	return exp, nil
}

func (s *Service) afterRecording(ctx context.Context, exp *domain.Experiment, result *domain.MetricResult) {
	s.exporter.ExportResult(ctx, result)
	s.logger.Debug("result recorded",
		"experiment_id", result.ExperimentID,
		"variant_id", result.VariantID,
		"metric", result.Metric,
		"value", result.Value,
		"sample_size", result.SampleSize)

	if exp.AutoPromote() {
		s.autoPromote(ctx, exp.ID)
	}
}

// GetVariantContent returns the content a variant renders with.
func (s *Service) GetVariantContent(ctx context.Context, variantID string) (map[string]string, error) {
	v, err := s.repos.Variants.GetByID(ctx, variantID)
	if err != nil {
		return nil, domain.WrapStore("get variant", err)
	}
	if v == nil {
		return nil, domain.VariantNotFound(variantID)
	}
	return copyContent(v.Content), nil
}

// Resolution is the content a subject should receive for an experiment.
type Resolution struct {
	VariantID string
	Content   map[string]string
	// Winner is set when the content comes from a promoted winner rather
	// than an assignment.
	Winner bool
}

// ResolveContent picks the content for subjectID: the winner's once the
// experiment has completed with one, the assigned variant's while it runs.
// It returns nil when the subject gets no experiment content.
func (s *Service) ResolveContent(ctx context.Context, experimentID, subjectID string) (*Resolution, error) {
	d, err := s.Get(ctx, experimentID)
	if err != nil {
		return nil, err
	}

	exp := d.Experiment
	switch exp.Status {
	case domain.StatusCompleted:
		if exp.WinnerVariantID == nil {
			return nil, nil
		}
		v := d.Variant(*exp.WinnerVariantID)
		if v == nil {
			return nil, domain.VariantNotFound(*exp.WinnerVariantID)
		}
		return &Resolution{VariantID: v.ID, Content: copyContent(v.Content), Winner: true}, nil
	case domain.StatusRunning:
		variantID, ok := s.assigner.AssignDetail(ctx, d, subjectID)
		if !ok {
			return nil, nil
		}
		v := d.Variant(variantID)
		return &Resolution{VariantID: v.ID, Content: copyContent(v.Content)}, nil
	}
	return nil, nil
}

func copyContent(content map[string]string) map[string]string {
	out := make(map[string]string, len(content))
	for k, v := range content {
		out[k] = v
	}
	return out
}
