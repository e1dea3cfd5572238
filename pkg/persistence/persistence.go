// Package persistence provides the storage abstraction for flows, runs,
// delivery attempts, engagement events and templates.
package persistence

import (
	"context"
	"time"

	"github.com/dealdrip/dealdrip/pkg/models"
)

// FlowRepository stores flow definitions. Every save keeps an immutable
// version snapshot so runs can pin the revision they were created against.
type FlowRepository interface {
	List(ctx context.Context) ([]*models.FlowDefinition, error)
	ListActiveByTrigger(ctx context.Context, trigger models.TriggerType) ([]*models.FlowDefinition, error)
	GetByID(ctx context.Context, id string) (*models.FlowDefinition, error)
	GetVersion(ctx context.Context, id string, version int) (*models.FlowDefinition, error)
	Save(ctx context.Context, flow *models.FlowDefinition) error
	Delete(ctx context.Context, id string) error
}

// RunRepository stores runs, indexed by flow+state for scheduler scans, by
// wake time for the waker and by (flow, recipient) for idempotent triggering.
type RunRepository interface {
	Save(ctx context.Context, run *models.Run) error
	GetByID(ctx context.Context, id string) (*models.Run, error)
	ListByFlow(ctx context.Context, flowID string, status models.RunStatus) ([]*models.Run, error)
	ListByStatus(ctx context.Context, status models.RunStatus) ([]*models.Run, error)
	FindActive(ctx context.Context, flowID, recipientID string) (*models.Run, error)
	ListDue(ctx context.Context, now time.Time) ([]*models.Run, error)
}

// AttemptRepository is the append-only delivery attempt log.
type AttemptRepository interface {
	Append(ctx context.Context, attempt *models.DeliveryAttempt) error
	ListByRun(ctx context.Context, runID string) ([]*models.DeliveryAttempt, error)
	List(ctx context.Context) ([]*models.DeliveryAttempt, error)
}

// EngagementRepository is the append-only open/click log.
type EngagementRepository interface {
	Append(ctx context.Context, event *models.EngagementEvent) error
	List(ctx context.Context) ([]*models.EngagementEvent, error)
}

// TemplateRepository stores message templates.
type TemplateRepository interface {
	GetByID(ctx context.Context, id string) (*models.MessageTemplate, error)
	List(ctx context.Context) ([]*models.MessageTemplate, error)
	Save(ctx context.Context, tmpl *models.MessageTemplate) error
}

type Persistence interface {
	Flows() FlowRepository
	Runs() RunRepository
	Attempts() AttemptRepository
	Engagements() EngagementRepository
	Templates() TemplateRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
