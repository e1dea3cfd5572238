package models

import (
	"fmt"
	"time"
)

// AttemptOutcome is the result of one delivery attempt.
type AttemptOutcome string

const (
	OutcomeSent      AttemptOutcome = "sent"
	OutcomeDelivered AttemptOutcome = "delivered"
	OutcomeBounced   AttemptOutcome = "bounced"
	OutcomeFailed    AttemptOutcome = "failed"
)

// DeliveryAttempt records one try at sending a message step. Attempts are
// immutable once written; a step accumulates multiple rows only through
// retries.
type DeliveryAttempt struct {
	ID            string         `json:"id"`
	RunID         string         `json:"run_id"`
	FlowID        string         `json:"flow_id"`
	StepID        string         `json:"step_id"`
	Channel       Channel        `json:"channel"`
	Recipient     string         `json:"recipient"`
	AttemptNumber int            `json:"attempt_number"`
	Outcome       AttemptOutcome `json:"outcome"`
	Cost          float64        `json:"cost"`
	Error         string         `json:"error,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// IdempotencyKey identifies an attempt uniquely across redeliveries, so a
// retry never duplicate-sends past a message that already went out.
func (a *DeliveryAttempt) IdempotencyKey() string {
	return fmt.Sprintf("%s:%s:%d", a.RunID, a.StepID, a.AttemptNumber)
}

// EngagementType is a post-delivery recipient signal.
type EngagementType string

const (
	EngagementOpened  EngagementType = "opened"
	EngagementClicked EngagementType = "clicked"
)

// EngagementEvent is an append-only open/click signal tied to a run or to a
// flow+channel aggregate.
type EngagementEvent struct {
	ID        string         `json:"id"`
	RunID     string         `json:"run_id,omitempty"`
	FlowID    string         `json:"flow_id"`
	Channel   Channel        `json:"channel"`
	Type      EngagementType `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
}
