package experiment

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/emiliopalmerini/mvariant/internal/domain"
	"github.com/emiliopalmerini/mvariant/internal/ports"
)

// Create validates cfg and stores the experiment in DRAFT together with its
// variants. Nothing is written when validation fails.
func (s *Service) Create(ctx context.Context, cfg domain.ExperimentConfig, creatorID string) (string, error) {
	if err := domain.Validate(cfg); err != nil {
		return "", err
	}

	now := s.now()
	exp := &domain.Experiment{
		ID:                  s.newID(),
		Name:                strings.TrimSpace(cfg.Name),
		Description:         optional(cfg.Description),
		EntityType:          cfg.EntityType,
		EntityID:            cfg.EntityID,
		TestElements:        cfg.TestElements,
		WinnerMetric:        cfg.WinnerMetric,
		WinnerThreshold:     cfg.WinnerThreshold,
		DistributionPercent: cfg.DistributionPercent,
		Status:              domain.StatusDraft,
		CreatedBy:           creatorID,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context, repos ports.Repositories) error {
		if err := repos.Experiments.Create(ctx, exp); err != nil {
			return err
		}
		for _, vc := range cfg.Variants {
			if err := repos.Variants.Create(ctx, s.newVariant(exp.ID, vc)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", domain.WrapStore("create experiment", err)
	}

	s.logger.Info("experiment created", "experiment_id", exp.ID, "name", exp.Name, "variants", len(cfg.Variants))
	return exp.ID, nil
}

func (s *Service) newVariant(experimentID string, vc domain.VariantConfig) *domain.Variant {
	return &domain.Variant{
		ID:             s.newID(),
		ExperimentID:   experimentID,
		Name:           strings.TrimSpace(vc.Name),
		Description:    optional(vc.Description),
		Content:        vc.Content,
		TrafficPercent: vc.TrafficPercent,
		CreatedAt:      s.now(),
	}
}

// Start moves a DRAFT experiment to RUNNING. It reports false when the
// experiment does not exist or is not in DRAFT.
func (s *Service) Start(ctx context.Context, id string) (bool, error) {
	exp, err := s.repos.Experiments.GetByID(ctx, id)
	if err != nil {
		return false, domain.WrapStore("get experiment", err)
	}
	if exp == nil || exp.Status != domain.StatusDraft {
		return false, nil
	}

	variants, err := s.repos.Variants.ListByExperimentID(ctx, id)
	if err != nil {
		return false, domain.WrapStore("list variants", err)
	}
	if err := domain.ValidateVariants(variants); err != nil {
		return false, err
	}

	now := s.now()
	return s.transition(ctx, id, []domain.Status{domain.StatusDraft},
		domain.StatusChange{To: domain.StatusRunning, At: now, StartedAt: &now})
}

// Stop completes a RUNNING experiment without naming a winner.
func (s *Service) Stop(ctx context.Context, id string) (bool, error) {
	now := s.now()
	return s.transition(ctx, id, []domain.Status{domain.StatusRunning},
		domain.StatusChange{To: domain.StatusCompleted, At: now, EndedAt: &now})
}

// Abort cancels a DRAFT or RUNNING experiment. It ends in STOPPED.
func (s *Service) Abort(ctx context.Context, id string) (bool, error) {
	now := s.now()
	return s.transition(ctx, id, []domain.Status{domain.StatusDraft, domain.StatusRunning},
		domain.StatusChange{To: domain.StatusStopped, At: now, EndedAt: &now})
}

func (s *Service) transition(ctx context.Context, id string, from []domain.Status, change domain.StatusChange) (bool, error) {
	ok, err := s.repos.Experiments.CompareAndSetStatus(ctx, id, from, change)
	if err != nil {
		return false, domain.WrapStore("change status", err)
	}
	if ok {
		s.logger.Info("experiment status changed", "experiment_id", id, "status", change.To)
	}
	return ok, nil
}

// Update applies the supplied fields and variant changes. The merged
// definition is validated as a whole before anything is written.
func (s *Service) Update(ctx context.Context, id string, upd domain.ExperimentUpdate) error {
	exp, err := s.repos.Experiments.GetByID(ctx, id)
	if err != nil {
		return domain.WrapStore("get experiment", err)
	}
	if exp == nil {
		return domain.ExperimentNotFound(id)
	}
	variants, err := s.repos.Variants.ListByExperimentID(ctx, id)
	if err != nil {
		return domain.WrapStore("list variants", err)
	}

	if upd.ClearWinnerThreshold && upd.WinnerThreshold != nil {
		return domain.NewValidationError("winner_threshold", "cannot both set and clear the threshold")
	}
	applyExperimentUpdate(exp, upd)

	byID := make(map[string]*domain.Variant, len(variants))
	for _, v := range variants {
		byID[v.ID] = v
	}
	var created, changed []*domain.Variant
	for _, vu := range upd.Variants {
		if vu.ID == "" {
			v := s.newVariant(id, domain.VariantConfig{})
			applyVariantUpdate(v, vu)
			created = append(created, v)
			variants = append(variants, v)
			continue
		}
		v, ok := byID[vu.ID]
		if !ok {
			return domain.VariantNotFound(vu.ID)
		}
		applyVariantUpdate(v, vu)
		changed = append(changed, v)
	}

	if err := domain.Validate(domain.ConfigOf(exp, variants)); err != nil {
		return err
	}

	exp.UpdatedAt = s.now()
	err = s.tx.WithinTx(ctx, func(ctx context.Context, repos ports.Repositories) error {
		if err := repos.Experiments.Update(ctx, exp); err != nil {
			return err
		}
		for _, v := range changed {
			if err := repos.Variants.Update(ctx, v); err != nil {
				return err
			}
		}
		for _, v := range created {
			if err := repos.Variants.Create(ctx, v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.WrapStore("update experiment", err)
	}

	s.logger.Info("experiment updated", "experiment_id", id, "variants_changed", len(changed), "variants_created", len(created))
	return nil
}

func applyExperimentUpdate(exp *domain.Experiment, upd domain.ExperimentUpdate) {
	if upd.Name != nil {
		exp.Name = strings.TrimSpace(*upd.Name)
	}
	if upd.Description != nil {
		exp.Description = optional(*upd.Description)
	}
	if upd.EntityType != nil {
		exp.EntityType = *upd.EntityType
	}
	if upd.EntityID != nil {
		exp.EntityID = *upd.EntityID
	}
	if upd.TestElements != nil {
		exp.TestElements = upd.TestElements
	}
	if upd.WinnerMetric != nil {
		exp.WinnerMetric = *upd.WinnerMetric
	}
	if upd.WinnerThreshold != nil {
		exp.WinnerThreshold = upd.WinnerThreshold
	}
	if upd.ClearWinnerThreshold {
		exp.WinnerThreshold = nil
	}
	if upd.DistributionPercent != nil {
		exp.DistributionPercent = *upd.DistributionPercent
	}
}

func applyVariantUpdate(v *domain.Variant, vu domain.VariantUpdate) {
	if vu.Name != nil {
		v.Name = strings.TrimSpace(*vu.Name)
	}
	if vu.Description != nil {
		v.Description = optional(*vu.Description)
	}
	if vu.Content != nil {
		v.Content = vu.Content
	}
	if vu.TrafficPercent != nil {
		v.TrafficPercent = *vu.TrafficPercent
	}
}

// RemoveVariant deletes a variant and its results. Only DRAFT experiments
// may lose variants, so running assignments never point at a removed one.
func (s *Service) RemoveVariant(ctx context.Context, id, variantID string) error {
	exp, err := s.repos.Experiments.GetByID(ctx, id)
	if err != nil {
		return domain.WrapStore("get experiment", err)
	}
	if exp == nil {
		return domain.ExperimentNotFound(id)
	}
	if exp.Status != domain.StatusDraft {
		return domain.NewValidationError("variants", "variants can only be removed while %s, experiment is %s", domain.StatusDraft, exp.Status)
	}
	if _, err := s.variantOf(ctx, id, variantID); err != nil {
		return err
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context, repos ports.Repositories) error {
		if err := repos.Results.DeleteAllForVariant(ctx, variantID); err != nil {
			return err
		}
		return repos.Variants.Delete(ctx, variantID)
	})
	if err != nil {
		return domain.WrapStore("remove variant", err)
	}

	s.logger.Info("variant removed", "experiment_id", id, "variant_id", variantID)
	return nil
}

// Delete removes the experiment with its variants and results.
func (s *Service) Delete(ctx context.Context, id string) error {
	exp, err := s.repos.Experiments.GetByID(ctx, id)
	if err != nil {
		return domain.WrapStore("get experiment", err)
	}
	if exp == nil {
		return domain.ExperimentNotFound(id)
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context, repos ports.Repositories) error {
		if err := repos.Results.DeleteAllForExperiment(ctx, id); err != nil {
			return err
		}
		if err := repos.Variants.DeleteAllForExperiment(ctx, id); err != nil {
			return err
		}
		return repos.Experiments.Delete(ctx, id)
	})
	if err != nil {
		return domain.WrapStore("delete experiment", err)
	}

	s.logger.Info("experiment deleted", "experiment_id", id)
	return nil
}

// Get returns the experiment with its variants and recorded results.
func (s *Service) Get(ctx context.Context, id string) (*domain.ExperimentDetail, error) {
	exp, err := s.repos.Experiments.GetByID(ctx, id)
	if err != nil {
		return nil, domain.WrapStore("get experiment", err)
	}
	if exp == nil {
		return nil, domain.ExperimentNotFound(id)
	}

	detail := &domain.ExperimentDetail{Experiment: exp}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		variants, err := s.repos.Variants.ListByExperimentID(gctx, id)
		if err != nil {
			return domain.WrapStore("list variants", err)
		}
		detail.Variants = variants
		return nil
	})
	g.Go(func() error {
		results, err := s.repos.Results.ListByExperimentID(gctx, id)
		if err != nil {
			return domain.WrapStore("list results", err)
		}
		detail.Results = results
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return detail, nil
}

// List returns one page of experiments matching filter, newest first.
func (s *Service) List(ctx context.Context, filter domain.ExperimentFilter) (*domain.ExperimentPage, error) {
	if filter.Limit <= 0 {
		filter.Limit = s.pageSize
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	items, total, err := s.repos.Experiments.List(ctx, filter)
	if err != nil {
		return nil, domain.WrapStore("list experiments", err)
	}
	return &domain.ExperimentPage{
		Items:  items,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}

// variantOf returns a NotFoundError unless variantID belongs to experimentID.
func (s *Service) variantOf(ctx context.Context, experimentID, variantID string) (*domain.Variant, error) {
	v, err := s.repos.Variants.GetByID(ctx, variantID)
	if err != nil {
		return nil, domain.WrapStore("get variant", err)
	}
	if v == nil || v.ExperimentID != experimentID {
		return nil, domain.VariantNotFound(variantID)
	}
	return v, nil
}

func optional(s string) *string {
	if s = strings.TrimSpace(s); s == "" {
		return nil
	}
	return &s
}
