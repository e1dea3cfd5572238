package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dealdrip/dealdrip/pkg/models"
	"github.com/dealdrip/dealdrip/pkg/persistence"
)

// RunCanceller terminates the in-flight runs of a flow. The scheduler
// satisfies it.
type RunCanceller interface {
	CancelFlow(ctx context.Context, flowID, reason string) (int, error)
}

// Flow is the flow authoring service. Every edit bumps the version and keeps
// the previous revision available to runs pinned against it.
type Flow struct {
	persistence persistence.Persistence
	canceller   RunCanceller
}

// NewFlow creates a new flow service. The canceller may be nil in read-only
// deployments; Delete then leaves in-flight runs to finish.
func NewFlow(p persistence.Persistence, canceller RunCanceller) *Flow {
	return &Flow{
		persistence: p,
		canceller:   canceller,
	}
}

// HealthCheck checks the health of the persistence layer.
func (s *Flow) HealthCheck(ctx context.Context) (string, bool) {
	if s.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := s.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// List retrieves all flow definitions.
func (s *Flow) List(ctx context.Context) ([]*models.FlowDefinition, error) {
	return s.persistence.Flows().List(ctx)
}

// FetchByID retrieves a flow by its ID.
func (s *Flow) FetchByID(ctx context.Context, id string) (*models.FlowDefinition, error) {
	return s.persistence.Flows().GetByID(ctx, id)
}

// Create validates and stores a new flow as version 1. New flows start
// inactive; activation is an explicit toggle.
func (s *Flow) Create(ctx context.Context, flow *models.FlowDefinition) (*models.FlowDefinition, error) {
	if flow == nil {
		return nil, ErrFlowNil
	}

	now := time.Now().UTC()

	if flow.ID == "" {
		flow.ID = uuid.New().String()
	}

	flow.Version = 1
	flow.IsActive = false
	flow.CreatedAt = now
	flow.UpdatedAt = now

	if err := flow.Validate(); err != nil {
		return nil, err
	}

	if err := s.persistence.Flows().Save(ctx, flow); err != nil {
		return nil, fmt.Errorf("failed to create flow: %w", err)
	}

	return flow, nil
}

// Update validates and stores a new revision of an existing flow. In-flight
// runs keep executing the revision they pinned at creation. An optimistic
// version check rejects concurrent edits.
func (s *Flow) Update(ctx context.Context, flowID string, flow *models.FlowDefinition) (*models.FlowDefinition, error) {
	if flow == nil {
		return nil, ErrFlowNil
	}

	existing, err := s.persistence.Flows().GetByID(ctx, flowID)
	if err != nil {
		return nil, err
	}

	if flow.Version != 0 && flow.Version != existing.Version {
		return nil, NewValidationError("Update", "VERSION_CONFLICT",
			fmt.Sprintf("flow %s is at version %d, request targeted %d", flowID, existing.Version, flow.Version),
			ErrVersionConflict)
	}

	flow.ID = flowID
	flow.Version = existing.Version + 1
	flow.IsActive = existing.IsActive
	flow.CreatedAt = existing.CreatedAt
	flow.UpdatedAt = time.Now().UTC()

	if err := flow.Validate(); err != nil {
		return nil, err
	}

	if err := s.persistence.Flows().Save(ctx, flow); err != nil {
		return nil, fmt.Errorf("failed to update flow: %w", err)
	}

	return flow, nil
}

// Toggle activates or deactivates a flow without creating a revision.
// Activation re-validates the definition, so a draft with no steps stays
// inactive. Deactivation stops new runs from being created; in-flight runs
// finish.
func (s *Flow) Toggle(ctx context.Context, flowID string, active bool) (*models.FlowDefinition, error) {
	flow, err := s.persistence.Flows().GetByID(ctx, flowID)
	if err != nil {
		return nil, err
	}

	if flow.IsActive == active {
		return flow, nil
	}

	flow.IsActive = active

	if err := flow.Validate(); err != nil {
		flow.IsActive = !active

		return nil, err
	}

	flow.UpdatedAt = time.Now().UTC()

	if err := s.persistence.Flows().Save(ctx, flow); err != nil {
		return nil, fmt.Errorf("failed to toggle flow: %w", err)
	}

	return flow, nil
}

// Delete removes a flow and cancels its in-flight runs. Version snapshots
// stay behind so historical runs remain explicable.
func (s *Flow) Delete(ctx context.Context, flowID string) error {
	if _, err := s.persistence.Flows().GetByID(ctx, flowID); err != nil {
		return err
	}

	if s.canceller != nil {
		if _, err := s.canceller.CancelFlow(ctx, flowID, "flow deleted"); err != nil {
			return fmt.Errorf("failed to cancel runs of flow %s: %w", flowID, err)
		}
	}

	if err := s.persistence.Flows().Delete(ctx, flowID); err != nil {
		return fmt.Errorf("failed to delete flow: %w", err)
	}

	return nil
}
