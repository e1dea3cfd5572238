// Package audit records every delivery attempt in an append-only log and
// exports it as flat records for spend reconciliation.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dealdrip/dealdrip/pkg/models"
	"github.com/dealdrip/dealdrip/pkg/persistence"
)

// Record is one exported audit row. Engagement flags are joined per run, so a
// click on any message of the run marks all of its sent rows.
type Record struct {
	Timestamp     time.Time      `json:"timestamp"`
	FlowID        string         `json:"flow_id"`
	RunID         string         `json:"run_id"`
	StepID        string         `json:"step_id"`
	Channel       models.Channel `json:"channel"`
	Recipient     string         `json:"recipient"`
	Audience      string         `json:"audience"`
	AttemptNumber int            `json:"attempt_number"`
	Status        string         `json:"status"`
	Delivered     bool           `json:"delivered"`
	Opened        bool           `json:"opened"`
	Clicked       bool           `json:"clicked"`
	Cost          float64        `json:"cost"`
	Error         string         `json:"error,omitempty"`
}

// Sink appends delivery attempts to durable storage. Failed attempts are
// recorded with zero cost so retries stay visible in the export.
type Sink struct {
	persistence persistence.Persistence
	logger      *slog.Logger
}

func NewSink(p persistence.Persistence, logger *slog.Logger) *Sink {
	return &Sink{
		persistence: p,
		logger:      logger.With("module", "audit"),
	}
}

// Record appends one attempt to the log.
func (s *Sink) Record(ctx context.Context, attempt *models.DeliveryAttempt) error {
	err := s.persistence.Attempts().Append(ctx, attempt)
	if err != nil {
		return fmt.Errorf("failed to record delivery attempt: %w", err)
	}

	s.logger.InfoContext(ctx, "Delivery attempt recorded",
		"run_id", attempt.RunID,
		"step_id", attempt.StepID,
		"channel", attempt.Channel,
		"attempt", attempt.AttemptNumber,
		"outcome", attempt.Outcome,
		"cost", attempt.Cost)

	return nil
}

// Export joins the attempt log with engagement events and flow audiences into
// flat records ordered by timestamp.
func (s *Sink) Export(ctx context.Context) ([]Record, error) {
	attempts, err := s.persistence.Attempts().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list delivery attempts: %w", err)
	}

	engagements, err := s.persistence.Engagements().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list engagement events: %w", err)
	}

	opened := make(map[string]bool)
	clicked := make(map[string]bool)

	for _, event := range engagements {
		switch event.Type {
		case models.EngagementOpened:
			opened[event.RunID] = true
		case models.EngagementClicked:
			clicked[event.RunID] = true
		}
	}

	delivered := make(map[string]bool)

	for _, attempt := range attempts {
		if attempt.Outcome == models.OutcomeDelivered {
			delivered[attempt.RunID] = true
		}
	}

	audiences := make(map[string]string)

	flows, err := s.persistence.Flows().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list flows: %w", err)
	}

	for _, flow := range flows {
		audiences[flow.ID] = string(flow.Trigger.Audience)
	}

	records := make([]Record, 0, len(attempts))

	for _, attempt := range attempts {
		if attempt.Outcome == models.OutcomeDelivered {
			// Delivery receipts fold into the sent row's Delivered flag.
			continue
		}

		records = append(records, Record{
			Timestamp:     attempt.Timestamp,
			FlowID:        attempt.FlowID,
			RunID:         attempt.RunID,
			StepID:        attempt.StepID,
			Channel:       attempt.Channel,
			Recipient:     attempt.Recipient,
			Audience:      audiences[attempt.FlowID],
			AttemptNumber: attempt.AttemptNumber,
			Status:        string(attempt.Outcome),
			Delivered:     attempt.Outcome == models.OutcomeSent && delivered[attempt.RunID],
			Opened:        attempt.Outcome == models.OutcomeSent && opened[attempt.RunID],
			Clicked:       attempt.Outcome == models.OutcomeSent && clicked[attempt.RunID],
			Cost:          attempt.Cost,
			Error:         attempt.Error,
		})
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})

	return records, nil
}
