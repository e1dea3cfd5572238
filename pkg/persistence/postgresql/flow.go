package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dealdrip/dealdrip/pkg/models"
	"github.com/dealdrip/dealdrip/pkg/persistence"
)

// FlowRepository handles flow-related database operations.
type FlowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewFlowRepository(db *sql.DB, logger *slog.Logger) *FlowRepository {
	return &FlowRepository{db: db, logger: logger}
}

const flowColumns = `
	id
  , name
  , trigger
  , steps
  , is_active
  , version
  , created_at
  , updated_at
`

func (r *FlowRepository) List(ctx context.Context) ([]*models.FlowDefinition, error) {
	query := `SELECT ` + flowColumns + ` FROM flows ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query flows: %w", err)
	}

	defer r.closeRows(ctx, rows)

	return r.scanFlows(rows)
}

func (r *FlowRepository) ListActiveByTrigger(ctx context.Context, trigger models.TriggerType) ([]*models.FlowDefinition, error) {
	query := `SELECT ` + flowColumns + ` FROM flows WHERE is_active AND trigger->>'type' = $1 ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, string(trigger))
	if err != nil {
		return nil, fmt.Errorf("failed to query flows by trigger: %w", err)
	}

	defer r.closeRows(ctx, rows)

	return r.scanFlows(rows)
}

func (r *FlowRepository) GetByID(ctx context.Context, id string) (*models.FlowDefinition, error) {
	query := `SELECT ` + flowColumns + ` FROM flows WHERE id = $1`

	flow, err := r.scanFlow(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError("GetByID", "flow", id, persistence.ErrFlowNotFound)
		}

		return nil, fmt.Errorf("failed to scan flow: %w", err)
	}

	return flow, nil
}

func (r *FlowRepository) GetVersion(ctx context.Context, id string, version int) (*models.FlowDefinition, error) {
	query := `SELECT definition FROM flow_versions WHERE flow_id = $1 AND version = $2`

	var definition []byte

	err := r.db.QueryRowContext(ctx, query, id, version).Scan(&definition)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError("GetVersion", "flow", id, persistence.ErrFlowVersionGone)
		}

		return nil, fmt.Errorf("failed to scan flow version: %w", err)
	}

	flow := &models.FlowDefinition{}

	err = json.Unmarshal(definition, flow)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal flow version: %w", err)
	}

	return flow, nil
}

// Save upserts the current definition and records an immutable version
// snapshot in the same transaction.
func (r *FlowRepository) Save(ctx context.Context, flow *models.FlowDefinition) error {
	triggerJSON, err := json.Marshal(flow.Trigger)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger: %w", err)
	}

	stepsJSON, err := json.Marshal(flow.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}

	definition, err := json.Marshal(flow)
	if err != nil {
		return fmt.Errorf("failed to marshal definition: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	upsert := `
		INSERT INTO flows (id, name, trigger, steps, is_active, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			trigger = EXCLUDED.trigger,
			steps = EXCLUDED.steps,
			is_active = EXCLUDED.is_active,
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at
	`

	_, err = tx.ExecContext(ctx, upsert,
		flow.ID, flow.Name, triggerJSON, stepsJSON, flow.IsActive, flow.Version, flow.CreatedAt, flow.UpdatedAt)
	if err != nil {
		_ = tx.Rollback()

		return persistence.NewStoreError("Save", "flow", flow.ID, err)
	}

	snapshot := `
		INSERT INTO flow_versions (flow_id, version, definition)
		VALUES ($1, $2, $3)
		ON CONFLICT (flow_id, version) DO UPDATE SET definition = EXCLUDED.definition
	`

	_, err = tx.ExecContext(ctx, snapshot, flow.ID, flow.Version, definition)
	if err != nil {
		_ = tx.Rollback()

		return persistence.NewStoreError("Save", "flow", flow.ID, err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit flow save: %w", err)
	}

	return nil
}

// Delete removes the current definition. Version snapshots stay for pinned
// in-flight runs.
func (r *FlowRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM flows WHERE id = $1`, id)
	if err != nil {
		return persistence.NewStoreError("Delete", "flow", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}

	if affected == 0 {
		return persistence.NewStoreError("Delete", "flow", id, persistence.ErrFlowNotFound)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *FlowRepository) scanFlow(row rowScanner) (*models.FlowDefinition, error) {
	flow := &models.FlowDefinition{}

	var triggerJSON, stepsJSON []byte

	err := row.Scan(
		&flow.ID, &flow.Name, &triggerJSON, &stepsJSON,
		&flow.IsActive, &flow.Version, &flow.CreatedAt, &flow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(triggerJSON, &flow.Trigger)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger: %w", err)
	}

	err = json.Unmarshal(stepsJSON, &flow.Steps)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
	}

	return flow, nil
}

func (r *FlowRepository) scanFlows(rows *sql.Rows) ([]*models.FlowDefinition, error) {
	flows := make([]*models.FlowDefinition, 0)

	for rows.Next() {
		flow, err := r.scanFlow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flow: %w", err)
		}

		flows = append(flows, flow)
	}

	err := rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating flows: %w", err)
	}

	return flows, nil
}

func (r *FlowRepository) closeRows(ctx context.Context, rows *sql.Rows) {
	err := rows.Close()
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}
