package services

import (
	"context"
	"fmt"

	"github.com/dealdrip/dealdrip/pkg/models"
	"github.com/dealdrip/dealdrip/pkg/persistence"
)

// Run exposes run state for the admin API. Runs are owned by the scheduler;
// this service only reads them.
type Run struct {
	persistence persistence.Persistence
}

func NewRun(p persistence.Persistence) *Run {
	return &Run{persistence: p}
}

// FetchByID retrieves a run with its delivery attempts.
func (s *Run) FetchByID(ctx context.Context, id string) (*models.Run, []*models.DeliveryAttempt, error) {
	run, err := s.persistence.Runs().GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	attempts, err := s.persistence.Attempts().ListByRun(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load attempts for run %s: %w", id, err)
	}

	return run, attempts, nil
}

// List retrieves the runs of a flow, optionally filtered by status.
func (s *Run) List(ctx context.Context, flowID string, status string) ([]*models.Run, error) {
	if flowID == "" {
		return nil, ErrFlowIDRequired
	}

	runStatus := models.RunStatus(status)
	if status != "" && !validRunStatus(runStatus) {
		return nil, NewValidationError("List", "INVALID_STATUS",
			fmt.Sprintf("unknown run status %q", status), ErrInvalidRunStatus)
	}

	return s.persistence.Runs().ListByFlow(ctx, flowID, runStatus)
}

func validRunStatus(status models.RunStatus) bool {
	switch status {
	case models.RunStatusPending, models.RunStatusRunning, models.RunStatusWaiting,
		models.RunStatusCompleted, models.RunStatusFailed, models.RunStatusCancelled:
		return true
	default:
		return false
	}
}
