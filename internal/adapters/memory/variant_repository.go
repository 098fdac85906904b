package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/emiliopalmerini/mvariant/internal/domain"
)

type VariantRepository struct {
	v view
}

// Create appends the variant after the experiment's existing variants and
// sets variant.Position accordingly.
func (r *VariantRepository) Create(ctx context.Context, variant *domain.Variant) error {
	return r.v.write(func(d *data) error {
		if _, ok := d.experiments[variant.ExperimentID]; !ok {
			return errMissing("experiment", variant.ExperimentID)
		}
		if _, ok := d.variants[variant.ID]; ok {
			return fmt.Errorf("variant %s already exists", variant.ID)
		}
		position := 0
		for _, v := range d.variants {
			if v.ExperimentID == variant.ExperimentID && v.Position >= position {
				position = v.Position + 1
			}
		}
		variant.Position = position
		d.variants[variant.ID] = cloneVariant(variant)
		return nil
	})
}

func (r *VariantRepository) GetByID(ctx context.Context, id string) (*domain.Variant, error) {
	var out *domain.Variant
	r.v.read(func(d *data) {
		if v, ok := d.variants[id]; ok {
			out = cloneVariant(v)
		}
	})
	return out, nil
}

func (r *VariantRepository) Update(ctx context.Context, variant *domain.Variant) error {
	return r.v.write(func(d *data) error {
		existing, ok := d.variants[variant.ID]
		if !ok {
			return nil
		}
		existing.Name = variant.Name
		existing.Description = cloneString(variant.Description)
		existing.TrafficPercent = variant.TrafficPercent
		existing.Content = cloneVariant(variant).Content
		return nil
	})
}

func (r *VariantRepository) Delete(ctx context.Context, id string) error {
	return r.v.write(func(d *data) error {
		d.deleteVariant(id)
		return nil
	})
}

func (r *VariantRepository) ListByExperimentID(ctx context.Context, experimentID string) ([]*domain.Variant, error) {
	var out []*domain.Variant
	r.v.read(func(d *data) {
		for _, v := range d.variants {
			if v.ExperimentID == experimentID {
				out = append(out, cloneVariant(v))
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (r *VariantRepository) DeleteAllForExperiment(ctx context.Context, experimentID string) error {
	return r.v.write(func(d *data) error {
		for id, v := range d.variants {
			if v.ExperimentID == experimentID {
				d.deleteVariant(id)
			}
		}
		return nil
	})
}
