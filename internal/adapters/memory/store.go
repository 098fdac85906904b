// Package memory keeps experiments in process memory. It backs tests and
// single-process runs where no database is configured.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/emiliopalmerini/mvariant/internal/domain"
	"github.com/emiliopalmerini/mvariant/internal/ports"
)

type resultKey struct {
	experimentID string
	variantID    string
	metric       domain.Metric
}

type data struct {
	experiments map[string]*domain.Experiment
	variants    map[string]*domain.Variant
	results     map[resultKey]*domain.MetricResult
}

func newData() *data {
	return &data{
		experiments: make(map[string]*domain.Experiment),
		variants:    make(map[string]*domain.Variant),
		results:     make(map[resultKey]*domain.MetricResult),
	}
}

func (d *data) clone() *data {
	out := newData()
	for k, v := range d.experiments {
		out.experiments[k] = cloneExperiment(v)
	}
	for k, v := range d.variants {
		out.variants[k] = cloneVariant(v)
	}
	for k, v := range d.results {
		r := *v
		out.results[k] = &r
	}
	return out
}

func (d *data) deleteExperiment(id string) {
	delete(d.experiments, id)
	for vid, v := range d.variants {
		if v.ExperimentID == id {
			delete(d.variants, vid)
		}
	}
	for k := range d.results {
		if k.experimentID == id {
			delete(d.results, k)
		}
	}
}

func (d *data) deleteVariant(id string) {
	delete(d.variants, id)
	for k := range d.results {
		if k.variantID == id {
			delete(d.results, k)
		}
	}
}

// Store is an in-memory implementation of the repositories. Deleting an
// experiment or variant removes what it owns, as the database schema does.
type Store struct {
	mu   sync.RWMutex
	data *data
	ports.Repositories
}

func NewStore() *Store {
	s := &Store{data: newData()}
	s.Repositories = s.repositories(false)
	return s
}

func (s *Store) repositories(held bool) ports.Repositories {
	v := view{store: s, held: held}
	return ports.Repositories{
		Experiments: &ExperimentRepository{v},
		Variants:    &VariantRepository{v},
		Results:     &MetricResultRepository{v},
	}
}

// WithinTx runs fn under the store's write lock and restores the previous
// state if fn fails.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, repos ports.Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	if err := fn(ctx, s.repositories(true)); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

// view gives repositories access to the store's data. Inside WithinTx the
// lock is already held.
type view struct {
	store *Store
	held  bool
}

func (v view) read(fn func(d *data)) {
	if !v.held {
		v.store.mu.RLock()
		defer v.store.mu.RUnlock()
	}
	fn(v.store.data)
}

func (v view) write(fn func(d *data) error) error {
	if !v.held {
		v.store.mu.Lock()
		defer v.store.mu.Unlock()
	}
	return fn(v.store.data)
}

func cloneExperiment(e *domain.Experiment) *domain.Experiment {
	out := *e
	out.TestElements = append([]string(nil), e.TestElements...)
	out.Description = cloneString(e.Description)
	out.WinnerVariantID = cloneString(e.WinnerVariantID)
	out.WinnerThreshold = cloneFloat(e.WinnerThreshold)
	out.StartedAt = cloneTime(e.StartedAt)
	out.EndedAt = cloneTime(e.EndedAt)
	return &out
}

func cloneVariant(v *domain.Variant) *domain.Variant {
	out := *v
	out.Description = cloneString(v.Description)
	out.Content = make(map[string]string, len(v.Content))
	for k, c := range v.Content {
		out.Content[k] = c
	}
	return &out
}

func errMissing(kind, id string) error {
	return fmt.Errorf("%s %s does not exist", kind, id)
}
