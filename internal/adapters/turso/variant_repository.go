package turso

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/emiliopalmerini/mvariant/internal/domain"
	"github.com/emiliopalmerini/mvariant/internal/util"
)

const variantColumns = `id, experiment_id, name, description, content, traffic_percent, position, created_at`

type VariantRepository struct {
	db DBTX
}

func NewVariantRepository(db DBTX) *VariantRepository {
	return &VariantRepository{db: db}
}

// Create appends the variant after the experiment's existing variants and
// sets variant.Position accordingly.
func (r *VariantRepository) Create(ctx context.Context, variant *domain.Variant) error {
	content, err := encodeContent(variant.Content)
	if err != nil {
		return err
	}

	var position int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position) + 1, 0) FROM variants WHERE experiment_id = ?`,
		variant.ExperimentID,
	).Scan(&position); err != nil {
		return fmt.Errorf("failed to get next variant position: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO variants (`+variantColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		variant.ID,
		variant.ExperimentID,
		variant.Name,
		util.NullStringPtr(variant.Description),
		content,
		variant.TrafficPercent,
		position,
		util.FormatTimestamp(variant.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create variant: %w", err)
	}
	variant.Position = position
	return nil
}

func (r *VariantRepository) GetByID(ctx context.Context, id string) (*domain.Variant, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+variantColumns+` FROM variants WHERE id = ?`, id)
	v, err := scanVariant(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get variant: %w", err)
	}
	return v, nil
}

func (r *VariantRepository) Update(ctx context.Context, variant *domain.Variant) error {
	content, err := encodeContent(variant.Content)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE variants SET name = ?, description = ?, content = ?, traffic_percent = ?
		WHERE id = ?`,
		variant.Name,
		util.NullStringPtr(variant.Description),
		content,
		variant.TrafficPercent,
		variant.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update variant: %w", err)
	}
	return nil
}

func (r *VariantRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM variants WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete variant: %w", err)
	}
	return nil
}

func (r *VariantRepository) ListByExperimentID(ctx context.Context, experimentID string) ([]*domain.Variant, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+variantColumns+` FROM variants WHERE experiment_id = ? ORDER BY position`,
		experimentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list variants: %w", err)
	}
	defer rows.Close()

	var variants []*domain.Variant
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan variant: %w", err)
		}
		variants = append(variants, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list variants: %w", err)
	}
	return variants, nil
}

func (r *VariantRepository) DeleteAllForExperiment(ctx context.Context, experimentID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM variants WHERE experiment_id = ?`, experimentID); err != nil {
		return fmt.Errorf("failed to delete variants: %w", err)
	}
	return nil
}

func scanVariant(s rowScanner) (*domain.Variant, error) {
	var (
		v           domain.Variant
		description sql.NullString
		content     string
		createdAt   string
	)
	err := s.Scan(
		&v.ID,
		&v.ExperimentID,
		&v.Name,
		&description,
		&content,
		&v.TrafficPercent,
		&v.Position,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(content), &v.Content); err != nil {
		return nil, fmt.Errorf("failed to decode content of variant %s: %w", v.ID, err)
	}
	v.Description = util.NullStringToPtr(description)
	v.CreatedAt = util.ParseTimestamp(createdAt)
	return &v, nil
}

func encodeContent(content map[string]string) (string, error) {
	if content == nil {
		content = map[string]string{}
	}
	b, err := json.Marshal(content)
	if err != nil {
		return "", fmt.Errorf("failed to encode variant content: %w", err)
	}
	return string(b), nil
}
