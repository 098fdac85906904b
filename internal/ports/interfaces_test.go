package ports_test

import (
	"testing"

	"github.com/emiliopalmerini/mvariant/internal/adapters/memory"
	"github.com/emiliopalmerini/mvariant/internal/adapters/otel"
	"github.com/emiliopalmerini/mvariant/internal/adapters/redislock"
	"github.com/emiliopalmerini/mvariant/internal/adapters/turso"
	"github.com/emiliopalmerini/mvariant/internal/ports"
)

// Compile-time interface conformance checks.
// These verify that concrete adapters properly implement their port interfaces.

func TestExperimentRepositoryConformance(t *testing.T) {
	var _ ports.ExperimentRepository = (*turso.ExperimentRepository)(nil)
	var _ ports.ExperimentRepository = (*memory.ExperimentRepository)(nil)
}

func TestVariantRepositoryConformance(t *testing.T) {
	var _ ports.VariantRepository = (*turso.VariantRepository)(nil)
	var _ ports.VariantRepository = (*memory.VariantRepository)(nil)
}

func TestMetricResultRepositoryConformance(t *testing.T) {
	var _ ports.MetricResultRepository = (*turso.MetricResultRepository)(nil)
	var _ ports.MetricResultRepository = (*memory.MetricResultRepository)(nil)
}

func TestTransactorConformance(t *testing.T) {
	var _ ports.Transactor = (*turso.Store)(nil)
	var _ ports.Transactor = (*memory.Store)(nil)
}

func TestLockerConformance(t *testing.T) {
	var _ ports.Locker = (*redislock.Locker)(nil)
	var _ ports.Locker = (*memory.Locker)(nil)
}

func TestMetricsExporterConformance(t *testing.T) {
	var _ ports.MetricsExporter = (*otel.Exporter)(nil)
	var _ ports.MetricsExporter = (*otel.NoOpExporter)(nil)
}
