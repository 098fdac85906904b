package experiment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emiliopalmerini/mvariant/internal/adapters/memory"
	"github.com/emiliopalmerini/mvariant/internal/domain"
	"github.com/emiliopalmerini/mvariant/internal/ports"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type countingExporter struct {
	mu          sync.Mutex
	results     int
	evaluations int
	promotions  []string
}

func (c *countingExporter) ExportAssignment(ctx context.Context, experimentID, variantID string) {}

func (c *countingExporter) ExportResult(ctx context.Context, r *domain.MetricResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results++
}

func (c *countingExporter) ExportEvaluation(ctx context.Context, m *ports.EvaluationMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evaluations++
}

func (c *countingExporter) ExportPromotion(ctx context.Context, experimentID, variantID string, automatic bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.promotions = append(c.promotions, variantID)
}

func (c *countingExporter) Close(ctx context.Context) error { return nil }

func newTestService(t *testing.T, opts ...Option) (*Service, *memory.Store, *countingExporter) {
	t.Helper()
	store := memory.NewStore()
	exporter := &countingExporter{}
	opts = append([]Option{
		WithExporter(exporter),
		WithClock(func() time.Time { return testNow }),
	}, opts...)
	return NewService(store.Repositories, store, opts...), store, exporter
}

func threshold(v float64) *float64 { return &v }

func validConfig() domain.ExperimentConfig {
	return domain.ExperimentConfig{
		Name:                "Spring subject line",
		EntityType:          "campaign",
		EntityID:            "cmp-1",
		TestElements:        []string{"subject"},
		WinnerMetric:        domain.MetricConversionRate,
		WinnerThreshold:     threshold(0.95),
		DistributionPercent: 1,
		Variants: []domain.VariantConfig{
			{Name: "control", Content: map[string]string{"subject": "Hello"}, TrafficPercent: 0.5},
			{Name: "b", Content: map[string]string{"subject": "Hi there"}, TrafficPercent: 0.5},
		},
	}
}

func createRunning(t *testing.T, svc *Service, cfg domain.ExperimentConfig) *domain.ExperimentDetail {
	t.Helper()
	ctx := context.Background()
	id, err := svc.Create(ctx, cfg, "tester")
	require.NoError(t, err)
	ok, err := svc.Start(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	d, err := svc.Get(ctx, id)
	require.NoError(t, err)
	return d
}

func TestCreate(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	id, err := svc.Create(ctx, validConfig(), "alice")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	d, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, d.Experiment.Status)
	assert.Equal(t, "alice", d.Experiment.CreatedBy)
	assert.True(t, d.Experiment.CreatedAt.Equal(testNow))
	require.Len(t, d.Variants, 2)
	assert.Equal(t, "control", d.Variants[0].Name)
	assert.Equal(t, "b", d.Variants[1].Name)
	assert.Empty(t, d.Results)
}

func TestCreateRejectsInvalidConfig(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	tests := map[string]func(*domain.ExperimentConfig){
		"missing name":        func(c *domain.ExperimentConfig) { c.Name = "" },
		"blank name":          func(c *domain.ExperimentConfig) { c.Name = "   " },
		"blank variant name":  func(c *domain.ExperimentConfig) { c.Variants[1].Name = "  " },
		"one variant":         func(c *domain.ExperimentConfig) { c.Variants = c.Variants[:1]; c.Variants[0].TrafficPercent = 1 },
		"traffic sum 0.90":    func(c *domain.ExperimentConfig) { c.Variants[1].TrafficPercent = 0.4 },
		"traffic sum 1.10":    func(c *domain.ExperimentConfig) { c.Variants[1].TrafficPercent = 0.6 },
		"empty content":       func(c *domain.ExperimentConfig) { c.Variants[0].Content = nil },
		"zero distribution":   func(c *domain.ExperimentConfig) { c.DistributionPercent = 0 },
		"unknown metric":      func(c *domain.ExperimentConfig) { c.WinnerMetric = "bounce_rate" },
		"threshold above one": func(c *domain.ExperimentConfig) { c.WinnerThreshold = threshold(1.5) },
		"duplicate elements":  func(c *domain.ExperimentConfig) { c.TestElements = []string{"subject", "subject"} },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(&cfg)
			_, err := svc.Create(ctx, cfg, "alice")
			var ve *domain.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.NotEmpty(t, ve.Problems)
		})
	}

	page, err := svc.List(ctx, domain.ExperimentFilter{})
	require.NoError(t, err)
	assert.Zero(t, page.Total, "rejected configurations must not be stored")
}

func TestStartStopAbort(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	ok, err := svc.Start(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	id, err := svc.Create(ctx, validConfig(), "alice")
	require.NoError(t, err)

	ok, err = svc.Stop(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok, "stop only applies to running experiments")

	ok, err = svc.Start(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.Start(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok, "second start is a no-op")

	ok, err = svc.Stop(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	d, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, d.Experiment.Status)
	require.NotNil(t, d.Experiment.StartedAt)
	require.NotNil(t, d.Experiment.EndedAt)
	assert.Nil(t, d.Experiment.WinnerVariantID)

	ok, err = svc.Abort(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok, "nothing leaves COMPLETED")

	draft, err := svc.Create(ctx, validConfig(), "alice")
	require.NoError(t, err)
	ok, err = svc.Abort(ctx, draft)
	require.NoError(t, err)
	assert.True(t, ok)
	d, err = svc.Get(ctx, draft)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusStopped, d.Experiment.Status)
}

func TestStartRevalidatesVariants(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	id, err := svc.Create(ctx, validConfig(), "alice")
	require.NoError(t, err)
	d, err := svc.Get(ctx, id)
	require.NoError(t, err)

	require.NoError(t, svc.RemoveVariant(ctx, id, d.Variants[1].ID))

	ok, err := svc.Start(ctx, id)
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.False(t, ok)

	d, err = svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, d.Experiment.Status)
}

func TestRemoveVariantOnlyInDraft(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	d := createRunning(t, svc, validConfig())

	err := svc.RemoveVariant(ctx, d.Experiment.ID, d.Variants[1].ID)
	var ve *domain.ValidationError
	assert.ErrorAs(t, err, &ve)

	err = svc.RemoveVariant(ctx, "missing", d.Variants[1].ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdate(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	id, err := svc.Create(ctx, validConfig(), "alice")
	require.NoError(t, err)
	d, err := svc.Get(ctx, id)
	require.NoError(t, err)

	name := "Renamed"
	seventy, thirty := 0.7, 0.3
	err = svc.Update(ctx, id, domain.ExperimentUpdate{
		Name: &name,
		Variants: []domain.VariantUpdate{
			{ID: d.Variants[0].ID, TrafficPercent: &seventy},
			{ID: d.Variants[1].ID, TrafficPercent: &thirty},
		},
	})
	require.NoError(t, err)

	d, err = svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", d.Experiment.Name)
	assert.Equal(t, 0.7, d.Variants[0].TrafficPercent)
	assert.Equal(t, "Hello", d.Variants[0].Content["subject"], "unsupplied fields are kept")
	assert.Equal(t, domain.StatusDraft, d.Experiment.Status)
}

func TestUpdateAddsVariant(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	id, err := svc.Create(ctx, validConfig(), "alice")
	require.NoError(t, err)
	d, err := svc.Get(ctx, id)
	require.NoError(t, err)

	third, c := 1.0/3, "c"
	err = svc.Update(ctx, id, domain.ExperimentUpdate{
		Variants: []domain.VariantUpdate{
			{ID: d.Variants[0].ID, TrafficPercent: &third},
			{ID: d.Variants[1].ID, TrafficPercent: &third},
			{Name: &c, Content: map[string]string{"subject": "Hey"}, TrafficPercent: &third},
		},
	})
	require.NoError(t, err)

	d, err = svc.Get(ctx, id)
	require.NoError(t, err)
	require.Len(t, d.Variants, 3)
	assert.Equal(t, "c", d.Variants[2].Name)
	assert.Equal(t, 2, d.Variants[2].Position)
}

func TestUpdateValidatesMergedResult(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	id, err := svc.Create(ctx, validConfig(), "alice")
	require.NoError(t, err)
	d, err := svc.Get(ctx, id)
	require.NoError(t, err)

	name, unbalanced := "Renamed", 0.9
	err = svc.Update(ctx, id, domain.ExperimentUpdate{
		Name:     &name,
		Variants: []domain.VariantUpdate{{ID: d.Variants[0].ID, TrafficPercent: &unbalanced}},
	})
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)

	d, err = svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Spring subject line", d.Experiment.Name, "nothing is written on validation failure")
	assert.Equal(t, 0.5, d.Variants[0].TrafficPercent)

	err = svc.Update(ctx, id, domain.ExperimentUpdate{Variants: []domain.VariantUpdate{{ID: "nope"}}})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = svc.Update(ctx, "missing", domain.ExperimentUpdate{Name: &name})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDelete(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	d := createRunning(t, svc, validConfig())
	_, err := svc.RecordResult(ctx, d.Experiment.ID, d.Variants[0].ID, domain.MetricOpenRate, 0.2, 10)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, d.Experiment.ID))

	_, err = svc.Get(ctx, d.Experiment.ID)
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "experiment", nf.Kind)

	_, err = svc.GetVariantContent(ctx, d.Variants[0].ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.ErrorIs(t, svc.Delete(ctx, d.Experiment.ID), domain.ErrNotFound)
}

func TestList(t *testing.T) {
	svc, _, _ := newTestService(t, WithPageSize(2))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := svc.Create(ctx, validConfig(), "alice")
		require.NoError(t, err)
	}

	page, err := svc.List(ctx, domain.ExperimentFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	assert.Equal(t, 2, page.Limit)
	assert.Len(t, page.Items, 2)

	page, err = svc.List(ctx, domain.ExperimentFilter{Status: domain.StatusRunning})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestRecordResultValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	d := createRunning(t, svc, validConfig())
	other := createRunning(t, svc, validConfig())
	expID, varID := d.Experiment.ID, d.Variants[0].ID

	_, err := svc.RecordResult(ctx, "missing", varID, domain.MetricOpenRate, 0.1, 10)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.RecordResult(ctx, expID, "missing", domain.MetricOpenRate, 0.1, 10)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.RecordResult(ctx, expID, other.Variants[0].ID, domain.MetricOpenRate, 0.1, 10)
	assert.ErrorIs(t, err, domain.ErrNotFound, "variant of another experiment")

	var ve *domain.ValidationError
	_, err = svc.RecordResult(ctx, expID, varID, domain.Metric("bounce_rate"), 0.1, 10)
	assert.ErrorAs(t, err, &ve)
	_, err = svc.RecordResult(ctx, expID, varID, domain.MetricOpenRate, 1.5, 10)
	assert.ErrorAs(t, err, &ve)
	_, err = svc.RecordResult(ctx, expID, varID, domain.MetricOpenRate, 0.5, -1)
	assert.ErrorAs(t, err, &ve)
}

func TestRecordResultIsIdempotent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	d := createRunning(t, svc, validConfig())

	for i := 0; i < 2; i++ {
		_, err := svc.RecordResult(ctx, d.Experiment.ID, d.Variants[0].ID, domain.MetricOpenRate, 0.42, 100)
		require.NoError(t, err)
	}

	got, err := svc.Get(ctx, d.Experiment.ID)
	require.NoError(t, err)
	require.Len(t, got.Results, 1)
	assert.Equal(t, 0.42, got.Results[0].Value)
	assert.Equal(t, int64(100), got.Results[0].SampleSize)
}

func TestAutoPromotion(t *testing.T) {
	svc, _, exporter := newTestService(t)
	ctx := context.Background()
	d := createRunning(t, svc, validConfig())
	expID, control, b := d.Experiment.ID, d.Variants[0].ID, d.Variants[1].ID

	_, err := svc.RecordResult(ctx, expID, control, domain.MetricConversionRate, 0.10, 200)
	require.NoError(t, err)

	got, err := svc.Get(ctx, expID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, got.Experiment.Status, "one arm is not enough")

	_, err = svc.RecordResult(ctx, expID, b, domain.MetricConversionRate, 0.20, 200)
	require.NoError(t, err)

	got, err = svc.Get(ctx, expID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Experiment.Status)
	require.NotNil(t, got.Experiment.WinnerVariantID)
	assert.Equal(t, b, *got.Experiment.WinnerVariantID)
	require.NotNil(t, got.Experiment.EndedAt)
	assert.Equal(t, []string{b}, exporter.promotions)

	second, err := svc.CheckWinner(ctx, expID)
	require.NoError(t, err)
	assert.False(t, second.Promoted)

	again, err := svc.Get(ctx, expID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, again.Experiment.Status)
	assert.Equal(t, b, *again.Experiment.WinnerVariantID)
	assert.Len(t, exporter.promotions, 1)
}

func TestNoPromotionBelowThreshold(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	d := createRunning(t, svc, validConfig())
	expID := d.Experiment.ID

	_, err := svc.RecordResult(ctx, expID, d.Variants[0].ID, domain.MetricConversionRate, 0.10, 200)
	require.NoError(t, err)
	_, err = svc.RecordResult(ctx, expID, d.Variants[1].ID, domain.MetricConversionRate, 0.11, 200)
	require.NoError(t, err)

	p, err := svc.CheckWinner(ctx, expID)
	require.NoError(t, err)
	assert.True(t, p.Result.Defined)
	assert.Less(t, p.Result.Confidence, 0.95)
	assert.False(t, p.Promoted)
}

func TestNoPromotionWithSmallSamples(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	d := createRunning(t, svc, validConfig())
	expID := d.Experiment.ID

	_, err := svc.RecordResult(ctx, expID, d.Variants[0].ID, domain.MetricConversionRate, 0.0, 20)
	require.NoError(t, err)
	_, err = svc.RecordResult(ctx, expID, d.Variants[1].ID, domain.MetricConversionRate, 1.0, 20)
	require.NoError(t, err)

	p, err := svc.CheckWinner(ctx, expID)
	require.NoError(t, err)
	assert.False(t, p.Result.Defined)
	assert.False(t, p.Promoted)
}

func TestRecordingOutsideRunningDoesNotEvaluate(t *testing.T) {
	svc, _, exporter := newTestService(t)
	ctx := context.Background()
	id, err := svc.Create(ctx, validConfig(), "alice")
	require.NoError(t, err)
	d, err := svc.Get(ctx, id)
	require.NoError(t, err)

	_, err = svc.RecordResult(ctx, id, d.Variants[0].ID, domain.MetricConversionRate, 0.10, 200)
	require.NoError(t, err)
	_, err = svc.RecordResult(ctx, id, d.Variants[1].ID, domain.MetricConversionRate, 0.30, 200)
	require.NoError(t, err)

	got, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, got.Experiment.Status)
	assert.Len(t, got.Results, 2, "results are stored in any status")
	assert.Zero(t, exporter.evaluations)
	assert.Equal(t, 2, exporter.results)
}

func TestNoThresholdMeansNoAutoPromotion(t *testing.T) {
	svc, _, exporter := newTestService(t)
	ctx := context.Background()
	cfg := validConfig()
	cfg.WinnerThreshold = nil
	d := createRunning(t, svc, cfg)

	_, err := svc.RecordResult(ctx, d.Experiment.ID, d.Variants[0].ID, domain.MetricConversionRate, 0.10, 200)
	require.NoError(t, err)
	_, err = svc.RecordResult(ctx, d.Experiment.ID, d.Variants[1].ID, domain.MetricConversionRate, 0.30, 200)
	require.NoError(t, err)

	got, err := svc.Get(ctx, d.Experiment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, got.Experiment.Status)
	assert.Zero(t, exporter.evaluations)
}

func TestUpdateClearsWinnerThreshold(t *testing.T) {
	svc, _, exporter := newTestService(t)
	ctx := context.Background()
	d := createRunning(t, svc, validConfig())
	require.True(t, d.Experiment.AutoPromote())

	err := svc.Update(ctx, d.Experiment.ID, domain.ExperimentUpdate{
		WinnerThreshold:      threshold(0.9),
		ClearWinnerThreshold: true,
	})
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)

	require.NoError(t, svc.Update(ctx, d.Experiment.ID, domain.ExperimentUpdate{ClearWinnerThreshold: true}))

	got, err := svc.Get(ctx, d.Experiment.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Experiment.WinnerThreshold)
	assert.False(t, got.Experiment.AutoPromote())

	_, err = svc.RecordResult(ctx, d.Experiment.ID, d.Variants[0].ID, domain.MetricConversionRate, 0.10, 200)
	require.NoError(t, err)
	_, err = svc.RecordResult(ctx, d.Experiment.ID, d.Variants[1].ID, domain.MetricConversionRate, 0.30, 200)
	require.NoError(t, err)

	got, err = svc.Get(ctx, d.Experiment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, got.Experiment.Status)
	assert.Zero(t, exporter.evaluations)
}

func TestUpdateRejectsBlankName(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	id, err := svc.Create(ctx, validConfig(), "alice")
	require.NoError(t, err)

	blank := "   "
	err = svc.Update(ctx, id, domain.ExperimentUpdate{Name: &blank})
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)

	d, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Spring subject line", d.Experiment.Name)
}

type busyLocker struct{}

func (busyLocker) TryLock(ctx context.Context, key string) (func(), bool, error) {
	return nil, false, nil
}

func TestPromotionSkippedWhileLocked(t *testing.T) {
	svc, _, _ := newTestService(t, WithLocker(busyLocker{}))
	ctx := context.Background()
	d := createRunning(t, svc, validConfig())

	_, err := svc.RecordResult(ctx, d.Experiment.ID, d.Variants[0].ID, domain.MetricConversionRate, 0.10, 200)
	require.NoError(t, err)
	_, err = svc.RecordResult(ctx, d.Experiment.ID, d.Variants[1].ID, domain.MetricConversionRate, 0.20, 200)
	require.NoError(t, err)

	got, err := svc.Get(ctx, d.Experiment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, got.Experiment.Status)
}

func TestConcurrentRecordingsPromoteOnce(t *testing.T) {
	svc, _, exporter := newTestService(t)
	ctx := context.Background()
	d := createRunning(t, svc, validConfig())
	expID := d.Experiment.ID

	_, err := svc.RecordResult(ctx, expID, d.Variants[0].ID, domain.MetricConversionRate, 0.10, 200)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RecordResult(ctx, expID, d.Variants[1].ID, domain.MetricConversionRate, 0.20, 200)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, exporter.promotions, 1)
}

func TestRecordObservation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	d := createRunning(t, svc, validConfig())
	expID, varID := d.Experiment.ID, d.Variants[0].ID

	_, err := svc.RecordObservation(ctx, expID, varID, domain.MetricClickRate, 10, 100)
	require.NoError(t, err)
	res, err := svc.RecordObservation(ctx, expID, varID, domain.MetricClickRate, 30, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(200), res.SampleSize)
	assert.InDelta(t, 0.2, res.Value, 1e-9)

	var ve *domain.ValidationError
	_, err = svc.RecordObservation(ctx, expID, varID, domain.MetricClickRate, 5, 0)
	assert.ErrorAs(t, err, &ve)
	_, err = svc.RecordObservation(ctx, expID, varID, domain.MetricClickRate, 11, 10)
	assert.ErrorAs(t, err, &ve)
}

func TestDeclareWinner(t *testing.T) {
	svc, _, exporter := newTestService(t)
	ctx := context.Background()
	d := createRunning(t, svc, validConfig())
	expID := d.Experiment.ID

	_, err := svc.DeclareWinner(ctx, expID, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	ok, err := svc.DeclareWinner(ctx, expID, d.Variants[0].ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.DeclareWinner(ctx, expID, d.Variants[1].ID)
	require.NoError(t, err)
	assert.False(t, ok, "at most one winner")

	got, err := svc.Get(ctx, expID)
	require.NoError(t, err)
	assert.Equal(t, d.Variants[0].ID, *got.Experiment.WinnerVariantID)
	assert.Equal(t, []string{d.Variants[0].ID}, exporter.promotions)
}

func TestResolveContent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	draft, err := svc.Create(ctx, validConfig(), "alice")
	require.NoError(t, err)
	res, err := svc.ResolveContent(ctx, draft, "contact-1")
	require.NoError(t, err)
	assert.Nil(t, res, "draft experiments deliver nothing")

	d := createRunning(t, svc, validConfig())
	res, err = svc.ResolveContent(ctx, d.Experiment.ID, "contact-1")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.False(t, res.Winner)
	assigned, ok := svc.Assigner().Assign(ctx, d.Experiment.ID, "contact-1")
	require.True(t, ok)
	assert.Equal(t, assigned, res.VariantID)

	ok, err = svc.DeclareWinner(ctx, d.Experiment.ID, d.Variants[1].ID)
	require.NoError(t, err)
	require.True(t, ok)

	res, err = svc.ResolveContent(ctx, d.Experiment.ID, "contact-1")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Winner)
	assert.Equal(t, "Hi there", res.Content["subject"])

	_, err = svc.ResolveContent(ctx, "missing", "contact-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEvaluate(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	cfg := validConfig()
	cfg.WinnerThreshold = nil
	d := createRunning(t, svc, cfg)

	_, err := svc.RecordResult(ctx, d.Experiment.ID, d.Variants[0].ID, domain.MetricConversionRate, 0.10, 200)
	require.NoError(t, err)
	_, err = svc.RecordResult(ctx, d.Experiment.ID, d.Variants[1].ID, domain.MetricConversionRate, 0.20, 200)
	require.NoError(t, err)

	z, err := svc.Evaluate(ctx, d.Experiment.ID, "", "proportion_z_test")
	require.NoError(t, err)
	assert.True(t, z.Defined)
	assert.Greater(t, z.Confidence, 0.95)

	chi, err := svc.Evaluate(ctx, d.Experiment.ID, domain.MetricConversionRate, "chi_square_two_variant")
	require.NoError(t, err)
	assert.True(t, chi.Significant)
	assert.Equal(t, d.Variants[1].ID, chi.WinnerID)

	_, err = svc.Evaluate(ctx, d.Experiment.ID, "bounce_rate", "proportion_z_test")
	assert.Error(t, err)
}

type brokenExperiments struct {
	ports.ExperimentRepository
}

func (brokenExperiments) GetByID(ctx context.Context, id string) (*domain.Experiment, error) {
	return nil, errors.New("disk I/O error")
}

func TestStoreFailuresAreWrapped(t *testing.T) {
	store := memory.NewStore()
	repos := store.Repositories
	repos.Experiments = brokenExperiments{}
	svc := NewService(repos, store)

	_, err := svc.Get(context.Background(), "exp-1")
	var se *domain.StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "get experiment", se.Op)
	assert.NotErrorIs(t, err, domain.ErrNotFound)
}
