package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/dealdrip/dealdrip/pkg/models"
	"github.com/dealdrip/dealdrip/pkg/persistence"
)

// AttemptRepository is the append-only delivery attempt log.
type AttemptRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewAttemptRepository(db *sql.DB, logger *slog.Logger) *AttemptRepository {
	return &AttemptRepository{db: db, logger: logger}
}

const attemptColumns = `
	id
  , run_id
  , flow_id
  , step_id
  , channel
  , recipient
  , attempt_number
  , outcome
  , cost
  , error
  , timestamp
`

func (r *AttemptRepository) Append(ctx context.Context, attempt *models.DeliveryAttempt) error {
	// The unique (run_id, step_id, attempt_number) index makes replays after a
	// crash no-ops instead of duplicate rows.
	query := `
		INSERT INTO delivery_attempts (id, run_id, flow_id, step_id, channel, recipient, attempt_number, outcome, cost, error, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (run_id, step_id, attempt_number) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, query,
		attempt.ID, attempt.RunID, attempt.FlowID, attempt.StepID, string(attempt.Channel),
		attempt.Recipient, attempt.AttemptNumber, string(attempt.Outcome), attempt.Cost,
		nullableString(attempt.Error), attempt.Timestamp)
	if err != nil {
		return persistence.NewStoreError("Append", "attempt", attempt.ID, err)
	}

	return nil
}

func (r *AttemptRepository) List(ctx context.Context) ([]*models.DeliveryAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM delivery_attempts ORDER BY timestamp ASC`

	return r.queryAttempts(ctx, query)
}

func (r *AttemptRepository) ListByRun(ctx context.Context, runID string) ([]*models.DeliveryAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM delivery_attempts WHERE run_id = $1 ORDER BY timestamp ASC`

	return r.queryAttempts(ctx, query, runID)
}

func (r *AttemptRepository) queryAttempts(ctx context.Context, query string, args ...any) ([]*models.DeliveryAttempt, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	attempts := make([]*models.DeliveryAttempt, 0)

	for rows.Next() {
		attempt := &models.DeliveryAttempt{}

		var channel, outcome string

		var errText sql.NullString

		err := rows.Scan(
			&attempt.ID, &attempt.RunID, &attempt.FlowID, &attempt.StepID, &channel,
			&attempt.Recipient, &attempt.AttemptNumber, &outcome, &attempt.Cost,
			&errText, &attempt.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}

		attempt.Channel = models.Channel(channel)
		attempt.Outcome = models.AttemptOutcome(outcome)
		attempt.Error = errText.String

		attempts = append(attempts, attempt)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating attempts: %w", err)
	}

	return attempts, nil
}

// EngagementRepository is the append-only open/click log.
type EngagementRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewEngagementRepository(db *sql.DB, logger *slog.Logger) *EngagementRepository {
	return &EngagementRepository{db: db, logger: logger}
}

func (r *EngagementRepository) Append(ctx context.Context, event *models.EngagementEvent) error {
	query := `
		INSERT INTO engagement_events (id, run_id, flow_id, channel, type, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, query,
		event.ID, nullableString(event.RunID), event.FlowID, string(event.Channel),
		string(event.Type), event.Timestamp)
	if err != nil {
		return persistence.NewStoreError("Append", "engagement", event.ID, err)
	}

	return nil
}

func (r *EngagementRepository) List(ctx context.Context) ([]*models.EngagementEvent, error) {
	query := `
		SELECT id, run_id, flow_id, channel, type, timestamp
		FROM engagement_events
		ORDER BY timestamp ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query engagements: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	events := make([]*models.EngagementEvent, 0)

	for rows.Next() {
		event := &models.EngagementEvent{}

		var runID sql.NullString

		var channel, kind string

		err := rows.Scan(&event.ID, &runID, &event.FlowID, &channel, &kind, &event.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to scan engagement: %w", err)
		}

		event.RunID = runID.String
		event.Channel = models.Channel(channel)
		event.Type = models.EngagementType(kind)

		events = append(events, event)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating engagements: %w", err)
	}

	return events, nil
}
