package turso_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/emiliopalmerini/mvariant/internal/adapters/turso"
	"github.com/emiliopalmerini/mvariant/internal/domain"
	"github.com/emiliopalmerini/mvariant/internal/migrate"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()

	ctx := context.Background()
	db, err := turso.NewDB(ctx, "file:"+filepath.Join(t.TempDir(), "test.db"), "")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}

	if err := migrate.RunAll(ctx, db); err != nil {
		_ = db.Close()
		t.Fatalf("Failed to run migrations: %v", err)
	}

	t.Cleanup(func() { _ = db.Close() })
	return db
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seedExperiment(t *testing.T, store *turso.Store, id string, status domain.Status) *domain.Experiment {
	t.Helper()

	exp := &domain.Experiment{
		ID:                  id,
		Name:                "subject line " + id,
		EntityType:          "campaign",
		EntityID:            "cmp-1",
		TestElements:        []string{"subject"},
		WinnerMetric:        domain.MetricConversionRate,
		DistributionPercent: 1,
		Status:              status,
		CreatedBy:           "tester",
		CreatedAt:           testNow,
		UpdatedAt:           testNow,
	}
	if err := store.Experiments.Create(context.Background(), exp); err != nil {
		t.Fatalf("failed to seed experiment: %v", err)
	}
	return exp
}

func seedVariant(t *testing.T, store *turso.Store, experimentID, id, name string, traffic float64) *domain.Variant {
	t.Helper()

	v := &domain.Variant{
		ID:             id,
		ExperimentID:   experimentID,
		Name:           name,
		Content:        map[string]string{"subject": "Hello from " + name},
		TrafficPercent: traffic,
		CreatedAt:      testNow,
	}
	if err := store.Variants.Create(context.Background(), v); err != nil {
		t.Fatalf("failed to seed variant: %v", err)
	}
	return v
}
