package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dealdrip/dealdrip/pkg/models"
)

var (
	ErrMissingRecipient = errors.New("trigger event requires a recipient")
	ErrMissingAudience  = errors.New("broadcast event requires an audience filter")
	ErrMissingEventType = errors.New("trigger event requires a type")
	ErrInvalidDays      = errors.New("trigger event days must be positive")
)

// TriggerEvent is a typed domain event emitted by the platform services
// (signup, deal activity, inactivity scans, manual broadcasts). The listener
// matches it against active flow definitions to create runs.
type TriggerEvent struct {
	ID        string             `json:"id"`
	Type      models.TriggerType `json:"type"`
	Timestamp time.Time          `json:"timestamp"`

	// RecipientID addresses a single recipient. Broadcast events leave it
	// empty and carry an audience filter instead.
	RecipientID string `json:"recipient_id,omitempty"`

	// Context carries the recipient attributes known at emit time. It becomes
	// the run's context snapshot.
	Context map[string]any `json:"context,omitempty"`

	Days     int `json:"days,omitempty"`      // deal_expiring
	IdleDays int `json:"idle_days,omitempty"` // inactive_user

	Audience models.AudienceFilter `json:"audience,omitempty"` // custom_broadcast
	Country  string                `json:"country,omitempty"`
	DealID   string                `json:"deal_id,omitempty"`
}

func (e TriggerEvent) GetType() EventType {
	return TriggerReceivedEvent
}

// Validate rejects malformed events before any state change.
func (e *TriggerEvent) Validate() error {
	if e.Type == "" {
		return ErrMissingEventType
	}

	switch e.Type {
	case models.TriggerCustomBroadcast:
		if e.Audience == "" {
			return ErrMissingAudience
		}
	case models.TriggerDealExpiring:
		if e.RecipientID == "" {
			return ErrMissingRecipient
		}

		if e.Days <= 0 {
			return fmt.Errorf("%w: days=%d", ErrInvalidDays, e.Days)
		}
	case models.TriggerInactiveUser:
		if e.RecipientID == "" {
			return ErrMissingRecipient
		}

		if e.IdleDays <= 0 {
			return fmt.Errorf("%w: idle_days=%d", ErrInvalidDays, e.IdleDays)
		}
	default:
		if e.RecipientID == "" {
			return ErrMissingRecipient
		}
	}

	return nil
}

// NewTriggerEvent creates a trigger event for a single recipient.
func NewTriggerEvent(triggerType models.TriggerType, recipientID string, context map[string]any) TriggerEvent {
	return TriggerEvent{
		ID:          uuid.New().String(),
		Type:        triggerType,
		Timestamp:   time.Now().UTC(),
		RecipientID: recipientID,
		Context:     context,
	}
}

// NewBroadcastEvent creates a manual broadcast event carrying an audience
// filter resolved to recipients by an external audience resolver.
func NewBroadcastEvent(audience models.AudienceFilter, country, dealID string) TriggerEvent {
	return TriggerEvent{
		ID:        uuid.New().String(),
		Type:      models.TriggerCustomBroadcast,
		Timestamp: time.Now().UTC(),
		Audience:  audience,
		Country:   country,
		DealID:    dealID,
	}
}
