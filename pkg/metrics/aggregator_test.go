package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealdrip/dealdrip/pkg/models"
	"github.com/dealdrip/dealdrip/pkg/persistence/file"
)

func attempt(flowID, stepID string, channel models.Channel, outcome models.AttemptOutcome, cost float64) *models.DeliveryAttempt {
	return &models.DeliveryAttempt{
		ID:        flowID + "-" + stepID + "-" + string(outcome),
		RunID:     "run-1",
		FlowID:    flowID,
		StepID:    stepID,
		Channel:   channel,
		Outcome:   outcome,
		Cost:      cost,
		Timestamp: time.Now().UTC(),
	}
}

func engagement(flowID string, channel models.Channel, kind models.EngagementType) *models.EngagementEvent {
	return &models.EngagementEvent{
		ID:        flowID + "-" + string(kind),
		RunID:     "run-1",
		FlowID:    flowID,
		Channel:   channel,
		Type:      kind,
		Timestamp: time.Now().UTC(),
	}
}

func TestAggregatorFunnelRates(t *testing.T) {
	agg := NewAggregator(prometheus.NewRegistry())

	for range 4 {
		agg.RecordAttempt(attempt("flow-1", "step-1", models.ChannelEmail, models.OutcomeSent, 0.001))
	}

	agg.RecordAttempt(attempt("flow-1", "step-1", models.ChannelEmail, models.OutcomeDelivered, 0))
	agg.RecordAttempt(attempt("flow-1", "step-1", models.ChannelEmail, models.OutcomeDelivered, 0))

	agg.RecordEngagement(engagement("flow-1", models.ChannelEmail, models.EngagementOpened))
	agg.RecordEngagement(engagement("flow-1", models.ChannelEmail, models.EngagementClicked))

	snap := agg.FlowSnapshot("flow-1")
	assert.Equal(t, int64(4), snap.Sent)
	assert.Equal(t, int64(2), snap.Delivered)
	assert.InDelta(t, 0.5, snap.OpenRate, 1e-9)
	assert.InDelta(t, 1.0, snap.ClickRate, 1e-9)
	assert.InDelta(t, 0.004, snap.Cost, 1e-9)
	assert.InDelta(t, 0.004, snap.CostPerClick, 1e-9)
}

func TestAggregatorZeroDenominators(t *testing.T) {
	agg := NewAggregator(prometheus.NewRegistry())

	agg.RecordAttempt(attempt("flow-1", "step-1", models.ChannelSMS, models.OutcomeSent, 0.045))

	snap := agg.FlowSnapshot("flow-1")
	assert.Zero(t, snap.OpenRate)
	assert.Zero(t, snap.ClickRate)
	assert.Zero(t, snap.CostPerClick)
}

func TestAggregatorFailedAttemptsDoNotMoveFunnel(t *testing.T) {
	agg := NewAggregator(prometheus.NewRegistry())

	agg.RecordAttempt(attempt("flow-1", "step-1", models.ChannelSMS, models.OutcomeFailed, 0))
	agg.RecordAttempt(attempt("flow-1", "step-1", models.ChannelSMS, models.OutcomeBounced, 0))

	assert.Equal(t, Snapshot{}, agg.FlowSnapshot("flow-1"))
	assert.Equal(t, Snapshot{}, agg.GlobalSnapshot())
}

func TestAggregatorStepAndChannelRollups(t *testing.T) {
	agg := NewAggregator(prometheus.NewRegistry())

	agg.RecordAttempt(attempt("flow-1", "step-1", models.ChannelSMS, models.OutcomeSent, 0.045))
	agg.RecordAttempt(attempt("flow-1", "step-2", models.ChannelWhatsApp, models.OutcomeSent, 0.03))
	agg.RecordAttempt(attempt("flow-2", "step-1", models.ChannelSMS, models.OutcomeSent, 0.045))

	assert.Equal(t, int64(1), agg.StepSnapshot("flow-1", "step-1").Sent)
	assert.Equal(t, int64(1), agg.StepSnapshot("flow-1", "step-2").Sent)
	assert.Zero(t, agg.StepSnapshot("flow-1", "step-3").Sent)
	assert.Equal(t, int64(2), agg.ChannelSnapshot(models.ChannelSMS).Sent)
	assert.Equal(t, int64(3), agg.GlobalSnapshot().Sent)
}

func TestAggregatorRebuildMatchesIncremental(t *testing.T) {
	ctx := context.Background()

	store := file.NewPersistence(t.TempDir())

	incremental := NewAggregator(prometheus.NewRegistry())

	log := []*models.DeliveryAttempt{
		attempt("flow-1", "step-1", models.ChannelEmail, models.OutcomeSent, 0.001),
		attempt("flow-1", "step-1", models.ChannelEmail, models.OutcomeDelivered, 0),
		attempt("flow-1", "step-2", models.ChannelSMS, models.OutcomeSent, 0.045),
	}
	for _, a := range log {
		require.NoError(t, store.Attempts().Append(ctx, a))
		incremental.RecordAttempt(a)
	}

	opened := engagement("flow-1", models.ChannelEmail, models.EngagementOpened)
	require.NoError(t, store.Engagements().Append(ctx, opened))
	incremental.RecordEngagement(opened)

	rebuilt := NewAggregator(prometheus.NewRegistry())
	require.NoError(t, rebuilt.Rebuild(ctx, store.Attempts(), store.Engagements()))

	assert.Equal(t, incremental.GlobalSnapshot(), rebuilt.GlobalSnapshot())
	assert.Equal(t, incremental.FlowSnapshot("flow-1"), rebuilt.FlowSnapshot("flow-1"))
	assert.Equal(t, incremental.ChannelSnapshot(models.ChannelEmail), rebuilt.ChannelSnapshot(models.ChannelEmail))
}
