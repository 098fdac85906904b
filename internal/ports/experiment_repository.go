package ports

import (
	"context"

	"github.com/emiliopalmerini/mvariant/internal/domain"
)

// ExperimentRepository stores experiments. GetByID returns nil, nil when the
// experiment does not exist.
type ExperimentRepository interface {
	Create(ctx context.Context, experiment *domain.Experiment) error
	GetByID(ctx context.Context, id string) (*domain.Experiment, error)
	Update(ctx context.Context, experiment *domain.Experiment) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter domain.ExperimentFilter) ([]*domain.Experiment, int64, error)
	// CompareAndSetStatus applies change only if the current status is one of
	// from, and reports whether it did.
	CompareAndSetStatus(ctx context.Context, id string, from []domain.Status, change domain.StatusChange) (bool, error)
}

// VariantRepository stores variants. ListByExperimentID returns them in
// creation order.
type VariantRepository interface {
	Create(ctx context.Context, variant *domain.Variant) error
	GetByID(ctx context.Context, id string) (*domain.Variant, error)
	Update(ctx context.Context, variant *domain.Variant) error
	Delete(ctx context.Context, id string) error
	ListByExperimentID(ctx context.Context, experimentID string) ([]*domain.Variant, error)
	DeleteAllForExperiment(ctx context.Context, experimentID string) error
}

// MetricResultRepository stores one result per (experiment, variant, metric).
type MetricResultRepository interface {
	// Upsert creates the result or overwrites value, sample size and
	// recorded time of the existing one.
	Upsert(ctx context.Context, result *domain.MetricResult) error
	// Merge atomically folds successes out of trials into the stored
	// proportion and returns the new aggregate.
	Merge(ctx context.Context, key domain.MetricResult, successes, trials int64) (*domain.MetricResult, error)
	FindByKey(ctx context.Context, experimentID, variantID string, metric domain.Metric) (*domain.MetricResult, error)
	ListByExperimentID(ctx context.Context, experimentID string) ([]*domain.MetricResult, error)
	DeleteAllForExperiment(ctx context.Context, experimentID string) error
	DeleteAllForVariant(ctx context.Context, variantID string) error
}

// Repositories groups the repositories the engine works against.
type Repositories struct {
	Experiments ExperimentRepository
	Variants    VariantRepository
	Results     MetricResultRepository
}

// Transactor runs fn with repositories bound to a single transaction.
// The transaction commits when fn returns nil and rolls back otherwise.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}
