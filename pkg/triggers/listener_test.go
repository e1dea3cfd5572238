package triggers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealdrip/dealdrip/pkg/events"
	"github.com/dealdrip/dealdrip/pkg/log"
	"github.com/dealdrip/dealdrip/pkg/models"
	"github.com/dealdrip/dealdrip/pkg/persistence/file"
)

type recordingEnqueuer struct {
	runIDs []string
}

func (r *recordingEnqueuer) Enqueue(runID string) {
	r.runIDs = append(r.runIDs, runID)
}

type staticResolver struct {
	recipients []Recipient
}

func (s *staticResolver) Resolve(_ context.Context, _ models.AudienceFilter, _, _ string) ([]Recipient, error) {
	return s.recipients, nil
}

func signupFlow(id string, active bool) *models.FlowDefinition {
	return &models.FlowDefinition{
		ID:   id,
		Name: "Welcome",
		Trigger: models.TriggerSpec{
			Type: models.TriggerUserSignup,
		},
		Steps: []models.Step{
			models.MessageStepOf("welcome", models.ChannelEmail, "tpl-welcome", "deals@dealdrip.example"),
		},
		IsActive: active,
		Version:  1,
	}
}

func newListener(t *testing.T, flows ...*models.FlowDefinition) (*Listener, *file.Persistence, *recordingEnqueuer) {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	for _, flow := range flows {
		require.NoError(t, store.Flows().Save(context.Background(), flow))
	}

	enqueuer := &recordingEnqueuer{}
	listener := NewListener(store, nil, enqueuer, nil, log.WithModule("test"))

	return listener, store, enqueuer
}

func TestListenerCreatesRunForMatchingFlow(t *testing.T) {
	ctx := context.Background()
	listener, store, enqueuer := newListener(t, signupFlow("flow-1", true))

	event := events.NewTriggerEvent(models.TriggerUserSignup, "user-1", map[string]any{"email": "u1@example.com"})

	created, err := listener.OnEvent(ctx, event)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, created, enqueuer.runIDs)

	run, err := store.Runs().GetByID(ctx, created[0])
	require.NoError(t, err)
	assert.Equal(t, "flow-1", run.FlowID)
	assert.Equal(t, 1, run.FlowVersion)
	assert.Equal(t, "user-1", run.RecipientID)
	assert.Equal(t, models.RunStatusPending, run.Status)
	assert.Equal(t, []string{"welcome"}, run.Queue)
	assert.Equal(t, "u1@example.com", run.Context["email"])
}

func TestListenerIgnoresInactiveFlows(t *testing.T) {
	listener, _, enqueuer := newListener(t, signupFlow("flow-1", false))

	created, err := listener.OnEvent(context.Background(),
		events.NewTriggerEvent(models.TriggerUserSignup, "user-1", nil))
	require.NoError(t, err)
	assert.Empty(t, created)
	assert.Empty(t, enqueuer.runIDs)
}

func TestListenerDuplicateEventCreatesNoSecondRun(t *testing.T) {
	ctx := context.Background()
	listener, _, enqueuer := newListener(t, signupFlow("flow-1", true))

	event := events.NewTriggerEvent(models.TriggerUserSignup, "user-1", nil)

	first, err := listener.OnEvent(ctx, event)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := listener.OnEvent(ctx, event)
	require.NoError(t, err)
	assert.Empty(t, second)
	assert.Len(t, enqueuer.runIDs, 1)
}

func TestListenerMatchesExpiryWindow(t *testing.T) {
	ctx := context.Background()

	flow := signupFlow("flow-exp", true)
	flow.Trigger = models.TriggerSpec{
		Type:             models.TriggerDealExpiring,
		DaysBeforeExpiry: 3,
	}

	listener, _, _ := newListener(t, flow)

	miss := events.NewTriggerEvent(models.TriggerDealExpiring, "user-1", nil)
	miss.Days = 7

	created, err := listener.OnEvent(ctx, miss)
	require.NoError(t, err)
	assert.Empty(t, created)

	hit := events.NewTriggerEvent(models.TriggerDealExpiring, "user-1", nil)
	hit.Days = 3

	created, err = listener.OnEvent(ctx, hit)
	require.NoError(t, err)
	assert.Len(t, created, 1)
}

func TestListenerRejectsMalformedEvent(t *testing.T) {
	listener, _, _ := newListener(t)

	_, err := listener.OnEvent(context.Background(), events.TriggerEvent{
		ID:   "evt-1",
		Type: models.TriggerUserSignup,
	})
	require.ErrorIs(t, err, events.ErrMissingRecipient)
}

func TestListenerIgnoresUnknownTriggerType(t *testing.T) {
	listener, _, _ := newListener(t)

	created, err := listener.OnEvent(context.Background(), events.TriggerEvent{
		ID:          "evt-1",
		Type:        models.TriggerType("deal_unsaved"),
		RecipientID: "user-1",
	})
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestListenerAudienceFilterByCountry(t *testing.T) {
	ctx := context.Background()

	flow := signupFlow("flow-uk", true)
	flow.Trigger.Audience = models.AudienceByCountry
	flow.Trigger.Country = "UK"

	listener, _, _ := newListener(t, flow)

	created, err := listener.OnEvent(ctx,
		events.NewTriggerEvent(models.TriggerUserSignup, "user-1", map[string]any{"country": "DE"}))
	require.NoError(t, err)
	assert.Empty(t, created)

	created, err = listener.OnEvent(ctx,
		events.NewTriggerEvent(models.TriggerUserSignup, "user-2", map[string]any{"country": "UK"}))
	require.NoError(t, err)
	assert.Len(t, created, 1)
}

func TestListenerBroadcastFansOutViaResolver(t *testing.T) {
	ctx := context.Background()

	flow := signupFlow("flow-bc", true)
	flow.Trigger = models.TriggerSpec{
		Type:     models.TriggerCustomBroadcast,
		Audience: models.AudienceAll,
	}

	store := file.NewPersistence(t.TempDir())
	require.NoError(t, store.Flows().Save(ctx, flow))

	resolver := &staticResolver{recipients: []Recipient{
		{ID: "user-1", Context: map[string]any{"email": "u1@example.com"}},
		{ID: "user-2", Context: map[string]any{"email": "u2@example.com"}},
	}}
	enqueuer := &recordingEnqueuer{}
	listener := NewListener(store, nil, enqueuer, resolver, log.WithModule("test"))

	created, err := listener.OnEvent(ctx, events.NewBroadcastEvent(models.AudienceAll, "", ""))
	require.NoError(t, err)
	assert.Len(t, created, 2)
	assert.Len(t, enqueuer.runIDs, 2)
}

func TestListenerBroadcastWithoutResolverIsSkipped(t *testing.T) {
	ctx := context.Background()

	flow := signupFlow("flow-bc", true)
	flow.Trigger = models.TriggerSpec{
		Type:     models.TriggerCustomBroadcast,
		Audience: models.AudienceAll,
	}

	listener, _, _ := newListener(t, flow)

	created, err := listener.OnEvent(ctx, events.NewBroadcastEvent(models.AudienceAll, "", ""))
	require.NoError(t, err)
	assert.Empty(t, created)
}
