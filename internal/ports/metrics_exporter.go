package ports

import (
	"context"

	"github.com/emiliopalmerini/mvariant/internal/domain"
)

// MetricsExporter exports engine activity to an external observability system.
type MetricsExporter interface {
	// ExportAssignment counts an assignment; variantID is empty when the
	// subject was not admitted.
	ExportAssignment(ctx context.Context, experimentID, variantID string)
	ExportResult(ctx context.Context, result *domain.MetricResult)
	ExportEvaluation(ctx context.Context, e *EvaluationMetrics)
	ExportPromotion(ctx context.Context, experimentID, variantID string, automatic bool)
	// Close shuts down the exporter and flushes any pending metrics.
	Close(ctx context.Context) error
}

// EvaluationMetrics describes a single significance evaluation.
type EvaluationMetrics struct {
	ExperimentID string
	Strategy     string
	Metric       domain.Metric
	Defined      bool
	Confidence   float64
}
