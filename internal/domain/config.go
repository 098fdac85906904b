package domain

// ExperimentConfig is the full definition of a new experiment.
// It is validated once by Validate before anything is persisted.
type ExperimentConfig struct {
	Name                string          `yaml:"name" validate:"notblank"`
	Description         string          `yaml:"description"`
	EntityType          string          `yaml:"entity_type"`
	EntityID            string          `yaml:"entity_id"`
	TestElements        []string        `yaml:"test_elements" validate:"unique,dive,required"`
	WinnerMetric        Metric          `yaml:"winner_metric" validate:"metric"`
	WinnerThreshold     *float64        `yaml:"winner_threshold" validate:"omitempty,gt=0,lte=1"`
	DistributionPercent float64         `yaml:"distribution_percent" validate:"gt=0,lte=1"`
	Variants            []VariantConfig `yaml:"variants" validate:"min=2,dive"`
}

type VariantConfig struct {
	Name           string            `yaml:"name" validate:"notblank"`
	Description    string            `yaml:"description"`
	Content        map[string]string `yaml:"content" validate:"min=1,dive,keys,required,endkeys"`
	TrafficPercent float64           `yaml:"traffic_percent" validate:"gt=0,lte=1"`
}

// ExperimentUpdate carries the fields to change. Nil fields are left as they are.
// ClearWinnerThreshold removes the threshold, turning auto-promotion off; it
// cannot be combined with WinnerThreshold.
type ExperimentUpdate struct {
	Name                 *string         `yaml:"name"`
	Description          *string         `yaml:"description"`
	EntityType           *string         `yaml:"entity_type"`
	EntityID             *string         `yaml:"entity_id"`
	TestElements         []string        `yaml:"test_elements"`
	WinnerMetric         *Metric         `yaml:"winner_metric"`
	WinnerThreshold      *float64        `yaml:"winner_threshold"`
	ClearWinnerThreshold bool            `yaml:"clear_winner_threshold"`
	DistributionPercent  *float64        `yaml:"distribution_percent"`
	Variants             []VariantUpdate `yaml:"variants"`
}

// VariantUpdate updates the variant with ID, or creates a new one when ID is empty.
type VariantUpdate struct {
	ID             string            `yaml:"id"`
	Name           *string           `yaml:"name"`
	Description    *string           `yaml:"description"`
	Content        map[string]string `yaml:"content"`
	TrafficPercent *float64          `yaml:"traffic_percent"`
}

// ConfigOf rebuilds the configuration an experiment and its variants describe,
// so a merged update can be validated with the same rules as a creation.
func ConfigOf(e *Experiment, variants []*Variant) ExperimentConfig {
	cfg := ExperimentConfig{
		Name:                e.Name,
		EntityType:          e.EntityType,
		EntityID:            e.EntityID,
		TestElements:        e.TestElements,
		WinnerMetric:        e.WinnerMetric,
		WinnerThreshold:     e.WinnerThreshold,
		DistributionPercent: e.DistributionPercent,
		Variants:            make([]VariantConfig, len(variants)),
	}
	if e.Description != nil {
		cfg.Description = *e.Description
	}
	for i, v := range variants {
		vc := VariantConfig{
			Name:           v.Name,
			Content:        v.Content,
			TrafficPercent: v.TrafficPercent,
		}
		if v.Description != nil {
			vc.Description = *v.Description
		}
		cfg.Variants[i] = vc
	}
	return cfg
}
