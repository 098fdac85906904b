package turso

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/emiliopalmerini/mvariant/internal/domain"
	"github.com/emiliopalmerini/mvariant/internal/util"
)

const experimentColumns = `id, name, description, entity_type, entity_id, test_elements,
	winner_metric, winner_threshold, distribution_percent, status, started_at, ended_at,
	winner_variant_id, created_by, created_at, updated_at`

type ExperimentRepository struct {
	db DBTX
}

func NewExperimentRepository(db DBTX) *ExperimentRepository {
	return &ExperimentRepository{db: db}
}

func (r *ExperimentRepository) Create(ctx context.Context, experiment *domain.Experiment) error {
	elements, err := json.Marshal(nonNilStrings(experiment.TestElements))
	if err != nil {
		return fmt.Errorf("failed to encode test elements: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO experiments (`+experimentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		experiment.ID,
		experiment.Name,
		util.NullStringPtr(experiment.Description),
		experiment.EntityType,
		experiment.EntityID,
		string(elements),
		string(experiment.WinnerMetric),
		util.NullFloat64(experiment.WinnerThreshold),
		experiment.DistributionPercent,
		string(experiment.Status),
		util.NullTime(experiment.StartedAt),
		util.NullTime(experiment.EndedAt),
		util.NullStringPtr(experiment.WinnerVariantID),
		experiment.CreatedBy,
		util.FormatTimestamp(experiment.CreatedAt),
		util.FormatTimestamp(experiment.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create experiment: %w", err)
	}
	return nil
}

func (r *ExperimentRepository) GetByID(ctx context.Context, id string) (*domain.Experiment, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+experimentColumns+` FROM experiments WHERE id = ?`, id)
	exp, err := scanExperiment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get experiment: %w", err)
	}
	return exp, nil
}

// Update writes the definition fields. Status, lifecycle times and the
// winner only change through CompareAndSetStatus.
func (r *ExperimentRepository) Update(ctx context.Context, experiment *domain.Experiment) error {
	elements, err := json.Marshal(nonNilStrings(experiment.TestElements))
	if err != nil {
		return fmt.Errorf("failed to encode test elements: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE experiments SET
			name = ?, description = ?, entity_type = ?, entity_id = ?, test_elements = ?,
			winner_metric = ?, winner_threshold = ?, distribution_percent = ?, updated_at = ?
		WHERE id = ?`,
		experiment.Name,
		util.NullStringPtr(experiment.Description),
		experiment.EntityType,
		experiment.EntityID,
		string(elements),
		string(experiment.WinnerMetric),
		util.NullFloat64(experiment.WinnerThreshold),
		experiment.DistributionPercent,
		util.FormatTimestamp(experiment.UpdatedAt),
		experiment.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update experiment: %w", err)
	}
	return nil
}

func (r *ExperimentRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM experiments WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete experiment: %w", err)
	}
	return nil
}

func (r *ExperimentRepository) List(ctx context.Context, filter domain.ExperimentFilter) ([]*domain.Experiment, int64, error) {
	var where []string
	var args []any
	if filter.EntityType != "" {
		where = append(where, "entity_type = ?")
		args = append(args, filter.EntityType)
	}
	if filter.EntityID != "" {
		where = append(where, "entity_id = ?")
		args = append(args, filter.EntityID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM experiments`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count experiments: %w", err)
	}

	query := `SELECT ` + experimentColumns + ` FROM experiments` + clause + ` ORDER BY created_at DESC, id`
	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list experiments: %w", err)
	}
	defer rows.Close()

	var experiments []*domain.Experiment
	for rows.Next() {
		exp, err := scanExperiment(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan experiment: %w", err)
		}
		experiments = append(experiments, exp)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to list experiments: %w", err)
	}
	return experiments, total, nil
}

func (r *ExperimentRepository) CompareAndSetStatus(ctx context.Context, id string, from []domain.Status, change domain.StatusChange) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}

	set := []string{"status = ?", "updated_at = ?"}
	args := []any{string(change.To), util.FormatTimestamp(change.At)}
	if change.StartedAt != nil {
		set = append(set, "started_at = ?")
		args = append(args, util.FormatTimestamp(*change.StartedAt))
	}
	if change.EndedAt != nil {
		set = append(set, "ended_at = ?")
		args = append(args, util.FormatTimestamp(*change.EndedAt))
	}
	if change.WinnerVariantID != nil {
		set = append(set, "winner_variant_id = ?")
		args = append(args, *change.WinnerVariantID)
	}

	placeholders := make([]string, len(from))
	args = append(args, id)
	for i, s := range from {
		placeholders[i] = "?"
		args = append(args, string(s))
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE experiments SET `+strings.Join(set, ", ")+
			` WHERE id = ? AND status IN (`+strings.Join(placeholders, ", ")+`)`,
		args...)
	if err != nil {
		return false, fmt.Errorf("failed to change experiment status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to change experiment status: %w", err)
	}
	return n == 1, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExperiment(s rowScanner) (*domain.Experiment, error) {
	var (
		exp                             domain.Experiment
		description, startedAt, endedAt sql.NullString
		winnerVariantID                 sql.NullString
		elements, metric, status        string
		createdAt, updatedAt            string
		winnerThreshold                 sql.NullFloat64
	)
	err := s.Scan(
		&exp.ID,
		&exp.Name,
		&description,
		&exp.EntityType,
		&exp.EntityID,
		&elements,
		&metric,
		&winnerThreshold,
		&exp.DistributionPercent,
		&status,
		&startedAt,
		&endedAt,
		&winnerVariantID,
		&exp.CreatedBy,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(elements), &exp.TestElements); err != nil {
		return nil, fmt.Errorf("failed to decode test elements of %s: %w", exp.ID, err)
	}
	exp.Description = util.NullStringToPtr(description)
	exp.WinnerMetric = domain.Metric(metric)
	exp.WinnerThreshold = util.NullFloat64ToPtr(winnerThreshold)
	exp.Status = domain.Status(status)
	exp.StartedAt = util.NullTimeToPtr(startedAt)
	exp.EndedAt = util.NullTimeToPtr(endedAt)
	exp.WinnerVariantID = util.NullStringToPtr(winnerVariantID)
	exp.CreatedAt = util.ParseTimestamp(createdAt)
	exp.UpdatedAt = util.ParseTimestamp(updatedAt)
	return &exp, nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
