// Package triggers turns domain events from the platform (signups, deal
// activity, inactivity scans, broadcasts) into runs of matching flows.
package triggers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dealdrip/dealdrip/pkg/eventbus"
	"github.com/dealdrip/dealdrip/pkg/events"
	"github.com/dealdrip/dealdrip/pkg/models"
	"github.com/dealdrip/dealdrip/pkg/persistence"
)

// Recipient is one resolved audience member.
type Recipient struct {
	ID      string
	Context map[string]any
}

// AudienceResolver expands a broadcast audience filter into concrete
// recipients. Implementations query the user directory of the host platform.
type AudienceResolver interface {
	Resolve(ctx context.Context, audience models.AudienceFilter, country, dealID string) ([]Recipient, error)
}

// RunEnqueuer hands freshly created runs to the scheduler.
type RunEnqueuer interface {
	Enqueue(runID string)
}

// Listener matches incoming trigger events against active flow definitions
// and creates at most one run per (flow, recipient) pair.
type Listener struct {
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	enqueuer    RunEnqueuer
	resolver    AudienceResolver
	logger      *slog.Logger
}

func NewListener(p persistence.Persistence, publisher eventbus.EventPublisher, enqueuer RunEnqueuer, resolver AudienceResolver, logger *slog.Logger) *Listener {
	return &Listener{
		persistence: p,
		publisher:   publisher,
		enqueuer:    enqueuer,
		resolver:    resolver,
		logger:      logger.With("module", "triggers"),
	}
}

// OnEvent processes one trigger event and returns the IDs of the runs it
// created. Malformed events are rejected; unknown trigger types are logged and
// skipped so new platform events never break the engine.
func (l *Listener) OnEvent(ctx context.Context, event events.TriggerEvent) ([]string, error) {
	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("invalid trigger event %s: %w", event.ID, err)
	}

	if !models.KnownTriggerType(event.Type) {
		l.logger.WarnContext(ctx, "Ignoring unknown trigger type",
			"event_id", event.ID, "type", event.Type)

		return nil, nil
	}

	flows, err := l.persistence.Flows().ListActiveByTrigger(ctx, event.Type)
	if err != nil {
		return nil, fmt.Errorf("failed to list flows for trigger %s: %w", event.Type, err)
	}

	var created []string

	for _, flow := range flows {
		if !matches(flow.Trigger, event) {
			continue
		}

		recipients, err := l.recipients(ctx, flow, event)
		if err != nil {
			return created, err
		}

		for _, recipient := range recipients {
			run, err := l.createRun(ctx, flow, recipient, event)
			if err != nil {
				return created, err
			}

			if run == nil {
				continue
			}

			created = append(created, run.ID)
		}
	}

	return created, nil
}

// matches checks the trigger conditions a flow pins beyond the bare type.
func matches(spec models.TriggerSpec, event events.TriggerEvent) bool {
	switch event.Type {
	case models.TriggerDealExpiring:
		return spec.DaysBeforeExpiry == event.Days
	case models.TriggerInactiveUser:
		return spec.IdleDays == event.IdleDays
	case models.TriggerDealSaved:
		return spec.DealID == "" || spec.DealID == event.DealID
	case models.TriggerCustomBroadcast:
		if spec.Audience != "" && spec.Audience != event.Audience {
			return false
		}

		if event.Audience == models.AudienceByCountry && spec.Country != "" && spec.Country != event.Country {
			return false
		}

		return true
	default:
		return true
	}
}

func (l *Listener) recipients(ctx context.Context, flow *models.FlowDefinition, event events.TriggerEvent) ([]Recipient, error) {
	if event.Type != models.TriggerCustomBroadcast {
		if !l.audienceAdmits(flow.Trigger, event) {
			return nil, nil
		}

		return []Recipient{{ID: event.RecipientID, Context: event.Context}}, nil
	}

	if l.resolver == nil {
		l.logger.WarnContext(ctx, "Broadcast event received with no audience resolver configured",
			"event_id", event.ID)

		return nil, nil
	}

	recipients, err := l.resolver.Resolve(ctx, event.Audience, event.Country, event.DealID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve audience %s: %w", event.Audience, err)
	}

	return recipients, nil
}

// audienceAdmits applies a flow's audience filter to a single-recipient event
// using the recipient context snapshot.
func (l *Listener) audienceAdmits(spec models.TriggerSpec, event events.TriggerEvent) bool {
	switch spec.Audience {
	case models.AudienceByCountry:
		country, _ := event.Context["country"].(string)

		return spec.Country == "" || spec.Country == country
	case models.AudienceSavedDealFollowers:
		dealID, _ := event.Context["saved_deal_id"].(string)

		return spec.DealID == "" || spec.DealID == dealID
	default:
		return true
	}
}

// createRun persists a pending run unless an active one already exists for the
// (flow, recipient) pair. Returns nil when the event was a duplicate.
func (l *Listener) createRun(ctx context.Context, flow *models.FlowDefinition, recipient Recipient, event events.TriggerEvent) (*models.Run, error) {
	existing, err := l.persistence.Runs().FindActive(ctx, flow.ID, recipient.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check for active run: %w", err)
	}

	if existing != nil {
		l.logger.DebugContext(ctx, "Skipping duplicate trigger, run already active",
			"flow_id", flow.ID, "recipient_id", recipient.ID, "run_id", existing.ID)

		return nil, nil
	}

	run := models.NewRun(uuid.New().String(), flow, recipient.ID, recipient.Context)

	err = l.persistence.Runs().Save(ctx, run)
	if err != nil {
		return nil, fmt.Errorf("failed to save run: %w", err)
	}

	l.logger.InfoContext(ctx, "Run created",
		"run_id", run.ID, "flow_id", flow.ID, "flow_version", run.FlowVersion,
		"recipient_id", recipient.ID, "trigger", event.Type)

	if l.publisher != nil {
		createdEvent := events.RunCreated{
			BaseEvent:   events.NewBaseEvent(events.RunCreatedEvent, flow.ID),
			RunID:       run.ID,
			FlowVersion: run.FlowVersion,
			RecipientID: recipient.ID,
			TriggerType: string(event.Type),
		}

		if err := l.publisher.Publish(ctx, flow.ID, createdEvent); err != nil {
			l.logger.ErrorContext(ctx, "Failed to publish run created event",
				"run_id", run.ID, "error", err)
		}
	}

	if l.enqueuer != nil {
		l.enqueuer.Enqueue(run.ID)
	}

	return run, nil
}
