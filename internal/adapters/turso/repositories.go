package turso

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/emiliopalmerini/mvariant/internal/ports"
)

// Store holds the turso repository implementations as port interfaces and
// runs transactions over the same database.
type Store struct {
	db *sql.DB
	ports.Repositories
}

// NewStore creates all turso repository implementations from a database connection.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, Repositories: newRepositories(db)}
}

func newRepositories(db DBTX) ports.Repositories {
	return ports.Repositories{
		Experiments: NewExperimentRepository(db),
		Variants:    NewVariantRepository(db),
		Results:     NewMetricResultRepository(db),
	}
}

// WithinTx runs fn with repositories bound to one transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, repos ports.Repositories) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(ctx, newRepositories(tx)); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
