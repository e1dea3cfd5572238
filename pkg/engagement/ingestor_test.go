package engagement

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealdrip/dealdrip/pkg/log"
	"github.com/dealdrip/dealdrip/pkg/metrics"
	"github.com/dealdrip/dealdrip/pkg/models"
	"github.com/dealdrip/dealdrip/pkg/persistence/file"
)

func newIngestor(t *testing.T) (*Ingestor, *file.Persistence, *metrics.Aggregator) {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	aggregator := metrics.NewAggregator(prometheus.NewRegistry())
	ingestor := NewIngestor("", nil, store, aggregator, nil, log.WithModule("test"))

	return ingestor, store, aggregator
}

func seedSentAttempt(t *testing.T, store *file.Persistence) {
	t.Helper()

	require.NoError(t, store.Attempts().Append(context.Background(), &models.DeliveryAttempt{
		ID:            "att-1",
		RunID:         "run-1",
		FlowID:        "flow-1",
		StepID:        "step-1",
		Channel:       models.ChannelEmail,
		AttemptNumber: 1,
		Outcome:       models.OutcomeSent,
		Cost:          0.001,
		Timestamp:     time.Now().UTC(),
	}))
}

func TestIngestClickAppendsEventAndCounts(t *testing.T) {
	ctx := context.Background()
	ingestor, store, aggregator := newIngestor(t)
	seedSentAttempt(t, store)

	require.NoError(t, ingestor.Ingest(ctx, "run-1", "flow-1", models.ChannelEmail, "clicked", time.Now().UTC()))

	events, err := store.Engagements().List(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EngagementClicked, events[0].Type)

	assert.Equal(t, int64(1), aggregator.FlowSnapshot("flow-1").Clicked)
}

func TestIngestResolvesFlowAndChannelFromAttempts(t *testing.T) {
	ctx := context.Background()
	ingestor, store, aggregator := newIngestor(t)
	seedSentAttempt(t, store)

	require.NoError(t, ingestor.Ingest(ctx, "run-1", "", "", "opened", time.Time{}))

	events, err := store.Engagements().List(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "flow-1", events[0].FlowID)
	assert.Equal(t, models.ChannelEmail, events[0].Channel)
	assert.False(t, events[0].Timestamp.IsZero())

	assert.Equal(t, int64(1), aggregator.ChannelSnapshot(models.ChannelEmail).Opened)
}

func TestIngestDeliveryReceiptAppendsAttemptRow(t *testing.T) {
	ctx := context.Background()
	ingestor, store, aggregator := newIngestor(t)
	seedSentAttempt(t, store)

	require.NoError(t, ingestor.Ingest(ctx, "run-1", "", "", "delivered", time.Now().UTC()))

	attempts, err := store.Attempts().ListByRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, models.OutcomeDelivered, attempts[1].Outcome)
	assert.Zero(t, attempts[1].Cost)

	assert.Equal(t, int64(1), aggregator.FlowSnapshot("flow-1").Delivered)
}

func TestIngestUnknownKindIsDropped(t *testing.T) {
	ctx := context.Background()
	ingestor, store, _ := newIngestor(t)
	seedSentAttempt(t, store)

	require.NoError(t, ingestor.Ingest(ctx, "run-1", "flow-1", models.ChannelEmail, "forwarded", time.Now().UTC()))

	events, err := store.Engagements().List(ctx)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestIngestWithoutSentAttemptFails(t *testing.T) {
	ingestor, _, _ := newIngestor(t)

	err := ingestor.Ingest(context.Background(), "run-unknown", "", "", "opened", time.Now().UTC())
	require.Error(t, err)
}
