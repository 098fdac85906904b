package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/emiliopalmerini/mvariant/internal/domain"
	"github.com/emiliopalmerini/mvariant/internal/ports"
)

const (
	serviceName    = "mvariant"
	serviceVersion = "1.0.0"
)

// Exporter exports engine activity to an OTEL Collector.
type Exporter struct {
	provider    *sdkmetric.MeterProvider
	assignments metric.Int64Counter
	results     metric.Int64Counter
	sampleSize  metric.Int64Histogram
	evaluations metric.Int64Counter
	confidence  metric.Float64Histogram
	promotions  metric.Int64Counter
}

// NewExporter creates an exporter that pushes to cfg.Endpoint over gRPC.
func NewExporter(ctx context.Context, cfg Config) (*Exporter, error) {
	if !cfg.Enabled || cfg.Endpoint == "" {
		return nil, fmt.Errorf("OTEL exporter is disabled or endpoint not configured")
	}

	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	e, err := NewExporterWithReader(sdkmetric.NewPeriodicReader(exp), sdkmetric.WithResource(res))
	if err != nil {
		return nil, err
	}
	otel.SetMeterProvider(e.provider)
	return e, nil
}

// NewExporterWithReader builds the instruments on a provider fed by reader.
func NewExporterWithReader(reader sdkmetric.Reader, opts ...sdkmetric.Option) (*Exporter, error) {
	provider := sdkmetric.NewMeterProvider(append(opts, sdkmetric.WithReader(reader))...)
	meter := provider.Meter(serviceName)

	assignments, err := meter.Int64Counter(
		"mvariant_assignments_total",
		metric.WithDescription("Subjects assigned, labelled by outcome"),
		metric.WithUnit("{subject}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating assignments counter: %w", err)
	}

	results, err := meter.Int64Counter(
		"mvariant_results_total",
		metric.WithDescription("Metric results recorded"),
		metric.WithUnit("{result}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating results counter: %w", err)
	}

	sampleSize, err := meter.Int64Histogram(
		"mvariant_result_sample_size",
		metric.WithDescription("Sample size of recorded results"),
		metric.WithUnit("{subject}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating sample size histogram: %w", err)
	}

	evaluations, err := meter.Int64Counter(
		"mvariant_evaluations_total",
		metric.WithDescription("Significance evaluations run"),
		metric.WithUnit("{evaluation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating evaluations counter: %w", err)
	}

	confidence, err := meter.Float64Histogram(
		"mvariant_evaluation_confidence",
		metric.WithDescription("Confidence of defined evaluations"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating confidence histogram: %w", err)
	}

	promotions, err := meter.Int64Counter(
		"mvariant_promotions_total",
		metric.WithDescription("Winners declared"),
		metric.WithUnit("{promotion}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating promotions counter: %w", err)
	}

	return &Exporter{
		provider:    provider,
		assignments: assignments,
		results:     results,
		sampleSize:  sampleSize,
		evaluations: evaluations,
		confidence:  confidence,
		promotions:  promotions,
	}, nil
}

func (e *Exporter) ExportAssignment(ctx context.Context, experimentID, variantID string) {
	outcome := "assigned"
	if variantID == "" {
		outcome = "excluded"
	}
	e.assignments.Add(ctx, 1, metric.WithAttributes(
		attribute.String("experiment_id", experimentID),
		attribute.String("variant_id", variantID),
		attribute.String("outcome", outcome),
	))
}

func (e *Exporter) ExportResult(ctx context.Context, r *domain.MetricResult) {
	opt := metric.WithAttributes(
		attribute.String("experiment_id", r.ExperimentID),
		attribute.String("variant_id", r.VariantID),
		attribute.String("metric", string(r.Metric)),
	)
	e.results.Add(ctx, 1, opt)
	e.sampleSize.Record(ctx, r.SampleSize, opt)
}

func (e *Exporter) ExportEvaluation(ctx context.Context, m *ports.EvaluationMetrics) {
	opt := metric.WithAttributes(
		attribute.String("experiment_id", m.ExperimentID),
		attribute.String("strategy", m.Strategy),
		attribute.String("metric", string(m.Metric)),
		attribute.Bool("defined", m.Defined),
	)
	e.evaluations.Add(ctx, 1, opt)
	if m.Defined {
		e.confidence.Record(ctx, m.Confidence, opt)
	}
}

func (e *Exporter) ExportPromotion(ctx context.Context, experimentID, variantID string, automatic bool) {
	e.promotions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("experiment_id", experimentID),
		attribute.String("variant_id", variantID),
		attribute.Bool("automatic", automatic),
	))
}

// Close shuts down the exporter and flushes any pending metrics.
func (e *Exporter) Close(ctx context.Context) error {
	return e.provider.Shutdown(ctx)
}
