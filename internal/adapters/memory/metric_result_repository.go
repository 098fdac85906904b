package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/emiliopalmerini/mvariant/internal/domain"
)

type MetricResultRepository struct {
	v view
}

func (r *MetricResultRepository) Upsert(ctx context.Context, result *domain.MetricResult) error {
	return r.v.write(func(d *data) error {
		if err := checkOwners(d, result.ExperimentID, result.VariantID); err != nil {
			return err
		}
		stored := *result
		d.results[keyOf(result)] = &stored
		return nil
	})
}

func (r *MetricResultRepository) Merge(ctx context.Context, key domain.MetricResult, successes, trials int64) (*domain.MetricResult, error) {
	if trials <= 0 {
		return nil, fmt.Errorf("trials must be positive, got %d", trials)
	}

	var out domain.MetricResult
	err := r.v.write(func(d *data) error {
		if err := checkOwners(d, key.ExperimentID, key.VariantID); err != nil {
			return err
		}
		k := keyOf(&key)
		existing, ok := d.results[k]
		if !ok {
			existing = &domain.MetricResult{
				ExperimentID: key.ExperimentID,
				VariantID:    key.VariantID,
				Metric:       key.Metric,
			}
			d.results[k] = existing
		}
		total := existing.SampleSize + trials
		existing.Value = (existing.Value*float64(existing.SampleSize) + float64(successes)) / float64(total)
		existing.SampleSize = total
		existing.RecordedAt = key.RecordedAt
		out = *existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *MetricResultRepository) FindByKey(ctx context.Context, experimentID, variantID string, metric domain.Metric) (*domain.MetricResult, error) {
	var out *domain.MetricResult
	r.v.read(func(d *data) {
		if res, ok := d.results[resultKey{experimentID, variantID, metric}]; ok {
			c := *res
			out = &c
		}
	})
	return out, nil
}

func (r *MetricResultRepository) ListByExperimentID(ctx context.Context, experimentID string) ([]*domain.MetricResult, error) {
	var out []*domain.MetricResult
	positions := make(map[string]int)
	r.v.read(func(d *data) {
		for k, res := range d.results {
			if k.experimentID != experimentID {
				continue
			}
			c := *res
			out = append(out, &c)
			if v, ok := d.variants[k.variantID]; ok {
				positions[k.variantID] = v.Position
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		pi, pj := positions[out[i].VariantID], positions[out[j].VariantID]
		if pi != pj {
			return pi < pj
		}
		return out[i].Metric < out[j].Metric
	})
	return out, nil
}

func (r *MetricResultRepository) DeleteAllForExperiment(ctx context.Context, experimentID string) error {
	return r.v.write(func(d *data) error {
		for k := range d.results {
			if k.experimentID == experimentID {
				delete(d.results, k)
			}
		}
		return nil
	})
}

func (r *MetricResultRepository) DeleteAllForVariant(ctx context.Context, variantID string) error {
	return r.v.write(func(d *data) error {
		for k := range d.results {
			if k.variantID == variantID {
				delete(d.results, k)
			}
		}
		return nil
	})
}

func keyOf(r *domain.MetricResult) resultKey {
	return resultKey{experimentID: r.ExperimentID, variantID: r.VariantID, metric: r.Metric}
}

func checkOwners(d *data, experimentID, variantID string) error {
	if _, ok := d.experiments[experimentID]; !ok {
		return errMissing("experiment", experimentID)
	}
	v, ok := d.variants[variantID]
	if !ok || v.ExperimentID != experimentID {
		return errMissing("variant", variantID)
	}
	return nil
}
