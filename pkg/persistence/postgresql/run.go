package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dealdrip/dealdrip/pkg/models"
	"github.com/dealdrip/dealdrip/pkg/persistence"
)

// RunRepository handles run-related database operations.
type RunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewRunRepository(db *sql.DB, logger *slog.Logger) *RunRepository {
	return &RunRepository{db: db, logger: logger}
}

const runColumns = `
	id
  , flow_id
  , flow_version
  , recipient_id
  , context
  , queue
  , status
  , wake_at
  , attempts
  , steps_run
  , last_error
  , created_at
  , updated_at
`

func (r *RunRepository) Save(ctx context.Context, run *models.Run) error {
	contextJSON, err := json.Marshal(run.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal run context: %w", err)
	}

	queueJSON, err := json.Marshal(run.Queue)
	if err != nil {
		return fmt.Errorf("failed to marshal run queue: %w", err)
	}

	query := `
		INSERT INTO runs (id, flow_id, flow_version, recipient_id, context, queue, status, wake_at, attempts, steps_run, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			context = EXCLUDED.context,
			queue = EXCLUDED.queue,
			status = EXCLUDED.status,
			wake_at = EXCLUDED.wake_at,
			attempts = EXCLUDED.attempts,
			steps_run = EXCLUDED.steps_run,
			last_error = EXCLUDED.last_error,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		run.ID, run.FlowID, run.FlowVersion, run.RecipientID, contextJSON, queueJSON,
		string(run.Status), run.WakeAt, run.Attempts, run.StepsRun, nullableString(run.LastError),
		run.CreatedAt, run.UpdatedAt)
	if err != nil {
		return persistence.NewStoreError("Save", "run", run.ID, err)
	}

	return nil
}

func (r *RunRepository) GetByID(ctx context.Context, id string) (*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = $1`

	run, err := r.scanRun(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError("GetByID", "run", id, persistence.ErrRunNotFound)
		}

		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	return run, nil
}

func (r *RunRepository) ListByFlow(ctx context.Context, flowID string, status models.RunStatus) ([]*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE flow_id = $1`
	args := []any{flowID}

	if status != "" {
		query += ` AND status = $2`
		args = append(args, string(status))
	}

	query += ` ORDER BY created_at ASC`

	return r.queryRuns(ctx, query, args...)
}

func (r *RunRepository) ListByStatus(ctx context.Context, status models.RunStatus) ([]*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE status = $1 ORDER BY created_at ASC`

	return r.queryRuns(ctx, query, string(status))
}

func (r *RunRepository) FindActive(ctx context.Context, flowID, recipientID string) (*models.Run, error) {
	query := `SELECT ` + runColumns + `
		FROM runs
		WHERE flow_id = $1 AND recipient_id = $2 AND status NOT IN ('completed', 'failed', 'cancelled')
		LIMIT 1`

	run, err := r.scanRun(r.db.QueryRowContext(ctx, query, flowID, recipientID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan active run: %w", err)
	}

	return run, nil
}

func (r *RunRepository) ListDue(ctx context.Context, now time.Time) ([]*models.Run, error) {
	query := `SELECT ` + runColumns + `
		FROM runs
		WHERE status = 'waiting' AND wake_at <= $1
		ORDER BY wake_at ASC`

	return r.queryRuns(ctx, query, now)
}

func (r *RunRepository) queryRuns(ctx context.Context, query string, args ...any) ([]*models.Run, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	runs := make([]*models.Run, 0)

	for rows.Next() {
		run, err := r.scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		runs = append(runs, run)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

func (r *RunRepository) scanRun(row rowScanner) (*models.Run, error) {
	run := &models.Run{}

	var (
		contextJSON []byte
		queueJSON   []byte
		status      string
		lastError   sql.NullString
	)

	err := row.Scan(
		&run.ID, &run.FlowID, &run.FlowVersion, &run.RecipientID, &contextJSON, &queueJSON,
		&status, &run.WakeAt, &run.Attempts, &run.StepsRun, &lastError, &run.CreatedAt, &run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	run.Status = models.RunStatus(status)
	run.LastError = lastError.String

	if len(contextJSON) > 0 {
		err = json.Unmarshal(contextJSON, &run.Context)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal run context: %w", err)
		}
	}

	err = json.Unmarshal(queueJSON, &run.Queue)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal run queue: %w", err)
	}

	return run, nil
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
