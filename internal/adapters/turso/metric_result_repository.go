package turso

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/emiliopalmerini/mvariant/internal/domain"
	"github.com/emiliopalmerini/mvariant/internal/util"
)

const metricResultColumns = `experiment_id, variant_id, metric, value, sample_size, recorded_at`

type MetricResultRepository struct {
	db DBTX
}

func NewMetricResultRepository(db DBTX) *MetricResultRepository {
	return &MetricResultRepository{db: db}
}

func (r *MetricResultRepository) Upsert(ctx context.Context, result *domain.MetricResult) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO metric_results (`+metricResultColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (experiment_id, variant_id, metric) DO UPDATE SET
			value = excluded.value,
			sample_size = excluded.sample_size,
			recorded_at = excluded.recorded_at`,
		result.ExperimentID,
		result.VariantID,
		string(result.Metric),
		result.Value,
		result.SampleSize,
		util.FormatTimestamp(result.RecordedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert metric result: %w", err)
	}
	return nil
}

// Merge folds the new observations into the stored proportion in a single
// statement, so concurrent merges on one key never lose an update.
func (r *MetricResultRepository) Merge(ctx context.Context, key domain.MetricResult, successes, trials int64) (*domain.MetricResult, error) {
	if trials <= 0 {
		return nil, fmt.Errorf("trials must be positive, got %d", trials)
	}

	out := key
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO metric_results (`+metricResultColumns+`)
		VALUES (?, ?, ?, CAST(? AS REAL) / ?, ?, ?)
		ON CONFLICT (experiment_id, variant_id, metric) DO UPDATE SET
			value = (metric_results.value * metric_results.sample_size + ?) / (metric_results.sample_size + ?),
			sample_size = metric_results.sample_size + excluded.sample_size,
			recorded_at = excluded.recorded_at
		RETURNING value, sample_size`,
		key.ExperimentID,
		key.VariantID,
		string(key.Metric),
		successes,
		trials,
		trials,
		util.FormatTimestamp(key.RecordedAt),
		successes,
		trials,
	).Scan(&out.Value, &out.SampleSize)
	if err != nil {
		return nil, fmt.Errorf("failed to merge metric result: %w", err)
	}
	return &out, nil
}

func (r *MetricResultRepository) FindByKey(ctx context.Context, experimentID, variantID string, metric domain.Metric) (*domain.MetricResult, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+metricResultColumns+` FROM metric_results
		WHERE experiment_id = ? AND variant_id = ? AND metric = ?`,
		experimentID, variantID, string(metric))
	res, err := scanMetricResult(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find metric result: %w", err)
	}
	return res, nil
}

func (r *MetricResultRepository) ListByExperimentID(ctx context.Context, experimentID string) ([]*domain.MetricResult, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT mr.experiment_id, mr.variant_id, mr.metric, mr.value, mr.sample_size, mr.recorded_at
		FROM metric_results mr
		JOIN variants v ON v.id = mr.variant_id
		WHERE mr.experiment_id = ?
		ORDER BY v.position, mr.metric`,
		experimentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list metric results: %w", err)
	}
	defer rows.Close()

	var results []*domain.MetricResult
	for rows.Next() {
		res, err := scanMetricResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan metric result: %w", err)
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list metric results: %w", err)
	}
	return results, nil
}

func (r *MetricResultRepository) DeleteAllForExperiment(ctx context.Context, experimentID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM metric_results WHERE experiment_id = ?`, experimentID); err != nil {
		return fmt.Errorf("failed to delete metric results: %w", err)
	}
	return nil
}

func (r *MetricResultRepository) DeleteAllForVariant(ctx context.Context, variantID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM metric_results WHERE variant_id = ?`, variantID); err != nil {
		return fmt.Errorf("failed to delete metric results: %w", err)
	}
	return nil
}

func scanMetricResult(s rowScanner) (*domain.MetricResult, error) {
	var (
		res        domain.MetricResult
		metric     string
		recordedAt string
	)
	if err := s.Scan(&res.ExperimentID, &res.VariantID, &metric, &res.Value, &res.SampleSize, &recordedAt); err != nil {
		return nil, err
	}
	res.Metric = domain.Metric(metric)
	res.RecordedAt = util.ParseTimestamp(recordedAt)
	return &res, nil
}
