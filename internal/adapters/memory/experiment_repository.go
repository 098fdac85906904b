package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/emiliopalmerini/mvariant/internal/domain"
)

type ExperimentRepository struct {
	v view
}

func (r *ExperimentRepository) Create(ctx context.Context, experiment *domain.Experiment) error {
	return r.v.write(func(d *data) error {
		if _, ok := d.experiments[experiment.ID]; ok {
			return fmt.Errorf("experiment %s already exists", experiment.ID)
		}
		d.experiments[experiment.ID] = cloneExperiment(experiment)
		return nil
	})
}

func (r *ExperimentRepository) GetByID(ctx context.Context, id string) (*domain.Experiment, error) {
	var out *domain.Experiment
	r.v.read(func(d *data) {
		if e, ok := d.experiments[id]; ok {
			out = cloneExperiment(e)
		}
	})
	return out, nil
}

// Update writes the definition fields. Status, lifecycle times and the
// winner only change through CompareAndSetStatus.
func (r *ExperimentRepository) Update(ctx context.Context, experiment *domain.Experiment) error {
	return r.v.write(func(d *data) error {
		existing, ok := d.experiments[experiment.ID]
		if !ok {
			return nil
		}
		updated := cloneExperiment(experiment)
		updated.CreatedAt = existing.CreatedAt
		updated.CreatedBy = existing.CreatedBy
		updated.Status = existing.Status
		updated.StartedAt = existing.StartedAt
		updated.EndedAt = existing.EndedAt
		updated.WinnerVariantID = existing.WinnerVariantID
		d.experiments[experiment.ID] = updated
		return nil
	})
}

func (r *ExperimentRepository) Delete(ctx context.Context, id string) error {
	return r.v.write(func(d *data) error {
		d.deleteExperiment(id)
		return nil
	})
}

func (r *ExperimentRepository) List(ctx context.Context, filter domain.ExperimentFilter) ([]*domain.Experiment, int64, error) {
	var matched []*domain.Experiment
	r.v.read(func(d *data) {
		for _, e := range d.experiments {
			if filter.EntityType != "" && e.EntityType != filter.EntityType {
				continue
			}
			if filter.EntityID != "" && e.EntityID != filter.EntityID {
				continue
			}
			if filter.Status != "" && e.Status != filter.Status {
				continue
			}
			matched = append(matched, cloneExperiment(e))
		}
	})

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	total := int64(len(matched))
	if filter.Limit > 0 {
		start := min(filter.Offset, len(matched))
		end := min(start+filter.Limit, len(matched))
		matched = matched[start:end]
	}
	return matched, total, nil
}

func (r *ExperimentRepository) CompareAndSetStatus(ctx context.Context, id string, from []domain.Status, change domain.StatusChange) (bool, error) {
	var applied bool
	err := r.v.write(func(d *data) error {
		e, ok := d.experiments[id]
		if !ok {
			return nil
		}
		for _, s := range from {
			if e.Status != s {
				continue
			}
			e.Status = change.To
			e.UpdatedAt = change.At
			if change.StartedAt != nil {
				e.StartedAt = cloneTime(change.StartedAt)
			}
			if change.EndedAt != nil {
				e.EndedAt = cloneTime(change.EndedAt)
			}
			if change.WinnerVariantID != nil {
				e.WinnerVariantID = cloneString(change.WinnerVariantID)
			}
			applied = true
			return nil
		}
		return nil
	})
	return applied, err
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
