// Package events defines the event types the engine publishes and consumes.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/dealdrip/dealdrip/pkg/models"
)

type EventType string

// Topic is the bus topic every engine event travels on. Consumers filter by
// the event-type metadata header.
const Topic = "dealdrip.engine.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Run lifecycle events.
	RunCreatedEvent   EventType = "run.created"
	RunCompletedEvent EventType = "run.completed"
	RunFailedEvent    EventType = "run.failed"
	RunCancelledEvent EventType = "run.cancelled"

	// Delivery events.
	MessageSentEvent   EventType = "message.sent"
	MessageFailedEvent EventType = "message.failed"

	// Engagement events.
	EngagementRecordedEvent EventType = "engagement.recorded"

	// Domain trigger events.
	TriggerReceivedEvent EventType = "trigger.received"

	// Operational control events.
	ChannelToggledEvent EventType = "channel.toggled"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	FlowID    string         `json:"flow_id,omitempty"`
	WorkerID  string         `json:"worker_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type RunCreated struct {
	BaseEvent

	RunID       string `json:"run_id"`
	FlowVersion int    `json:"flow_version"`
	RecipientID string `json:"recipient_id"`
	TriggerType string `json:"trigger_type"`
}

func (e RunCreated) GetType() EventType {
	return RunCreatedEvent
}

type RunCompleted struct {
	BaseEvent

	RunID    string        `json:"run_id"`
	Duration time.Duration `json:"duration"`
	StepsRun int           `json:"steps_run"`
}

func (e RunCompleted) GetType() EventType {
	return RunCompletedEvent
}

type RunFailed struct {
	BaseEvent

	RunID  string `json:"run_id"`
	StepID string `json:"step_id"`
	Error  string `json:"error"`
}

func (e RunFailed) GetType() EventType {
	return RunFailedEvent
}

type RunCancelled struct {
	BaseEvent

	RunID  string `json:"run_id"`
	Reason string `json:"reason"`
}

func (e RunCancelled) GetType() EventType {
	return RunCancelledEvent
}

type MessageSent struct {
	BaseEvent

	RunID         string         `json:"run_id"`
	StepID        string         `json:"step_id"`
	Channel       models.Channel `json:"channel"`
	AttemptNumber int            `json:"attempt_number"`
	Cost          float64        `json:"cost"`
}

func (e MessageSent) GetType() EventType {
	return MessageSentEvent
}

type MessageFailed struct {
	BaseEvent

	RunID         string         `json:"run_id"`
	StepID        string         `json:"step_id"`
	Channel       models.Channel `json:"channel"`
	AttemptNumber int            `json:"attempt_number"`
	Error         string         `json:"error"`
	Retryable     bool           `json:"retryable"`
}

func (e MessageFailed) GetType() EventType {
	return MessageFailedEvent
}

type EngagementRecorded struct {
	BaseEvent

	RunID   string                `json:"run_id,omitempty"`
	Channel models.Channel        `json:"channel"`
	Kind    models.EngagementType `json:"kind"`
}

func (e EngagementRecorded) GetType() EventType {
	return EngagementRecordedEvent
}

// ChannelToggled propagates a kill switch change to every running worker.
type ChannelToggled struct {
	BaseEvent

	Channel models.Channel `json:"channel"`
	Enabled bool           `json:"enabled"`
}

func (e ChannelToggled) GetType() EventType {
	return ChannelToggledEvent
}

func NewBaseEvent(eventType EventType, flowID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		FlowID:    flowID,
		Metadata:  make(map[string]any),
	}
}
