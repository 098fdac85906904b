package assignment

import (
	"context"
	"log/slog"
	"sort"

	"github.com/emiliopalmerini/mvariant/internal/adapters/otel"
	"github.com/emiliopalmerini/mvariant/internal/domain"
	"github.com/emiliopalmerini/mvariant/internal/ports"
)

type Engine struct {
	experiments ports.ExperimentRepository
	variants    ports.VariantRepository
	exporter    ports.MetricsExporter
	logger      *slog.Logger
}

type Option func(*Engine)

func WithExporter(exporter ports.MetricsExporter) Option {
	return func(e *Engine) { e.exporter = exporter }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func NewEngine(experiments ports.ExperimentRepository, variants ports.VariantRepository, opts ...Option) *Engine {
	e := &Engine{
		experiments: experiments,
		variants:    variants,
		exporter:    otel.NewNoOpExporter(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Assign returns the variant subjectID sees in the experiment. ok is false
// when the experiment is not running, the subject falls outside the
// distribution share, or the lookup fails; failures are logged, not returned.
func (e *Engine) Assign(ctx context.Context, experimentID, subjectID string) (string, bool) {
	exp, err := e.experiments.GetByID(ctx, experimentID)
	if err != nil {
		e.logger.Error("assignment lookup failed", "experiment_id", experimentID, "error", err)
		return "", false
	}
	if exp == nil || exp.Status != domain.StatusRunning {
		return "", false
	}

	variants, err := e.variants.ListByExperimentID(ctx, experimentID)
	if err != nil {
		e.logger.Error("assignment lookup failed", "experiment_id", experimentID, "error", err)
		return "", false
	}
	return e.assign(ctx, exp, variants, subjectID)
}

// AssignDetail is Assign against an already loaded experiment.
func (e *Engine) AssignDetail(ctx context.Context, d *domain.ExperimentDetail, subjectID string) (string, bool) {
	if d == nil || d.Experiment == nil || d.Experiment.Status != domain.StatusRunning {
		return "", false
	}
	return e.assign(ctx, d.Experiment, d.Variants, subjectID)
}

func (e *Engine) assign(ctx context.Context, exp *domain.Experiment, variants []*domain.Variant, subjectID string) (string, bool) {
	if len(variants) == 0 {
		return "", false
	}
	if !sort.SliceIsSorted(variants, func(i, j int) bool { return variants[i].Position < variants[j].Position }) {
		ordered := make([]*domain.Variant, len(variants))
		copy(ordered, variants)
		sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Position < ordered[j].Position })
		variants = ordered
	}

	admission, draw := Draws(exp.ID, subjectID)
	if !Admitted(admission, exp.DistributionPercent) {
		e.exporter.ExportAssignment(ctx, exp.ID, "")
		return "", false
	}

	v := SelectVariant(variants, draw)
	e.exporter.ExportAssignment(ctx, exp.ID, v.ID)
	return v.ID, true
}
