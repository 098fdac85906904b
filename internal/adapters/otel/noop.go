package otel

import (
	"context"

	"github.com/emiliopalmerini/mvariant/internal/domain"
	"github.com/emiliopalmerini/mvariant/internal/ports"
)

// NoOpExporter is a metrics exporter that does nothing.
type NoOpExporter struct{}

// NewNoOpExporter creates a new no-op exporter for graceful degradation.
func NewNoOpExporter() *NoOpExporter {
	return &NoOpExporter{}
}

func (e *NoOpExporter) ExportAssignment(ctx context.Context, experimentID, variantID string) {}

func (e *NoOpExporter) ExportResult(ctx context.Context, r *domain.MetricResult) {}

func (e *NoOpExporter) ExportEvaluation(ctx context.Context, m *ports.EvaluationMetrics) {}

func (e *NoOpExporter) ExportPromotion(ctx context.Context, experimentID, variantID string, automatic bool) {
}

func (e *NoOpExporter) Close(ctx context.Context) error {
	return nil
}
