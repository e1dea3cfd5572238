package file

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealdrip/dealdrip/pkg/models"
	"github.com/dealdrip/dealdrip/pkg/persistence"
)

func testFlow(id string, version int) *models.FlowDefinition {
	now := time.Now().UTC()

	return &models.FlowDefinition{
		ID:      id,
		Name:    "Welcome sequence",
		Trigger: models.TriggerSpec{Type: models.TriggerUserSignup},
		Steps: []models.Step{
			models.MessageStepOf("s1", models.ChannelEmail, "tpl-welcome", "deals@acme.io"),
		},
		IsActive:  true,
		Version:   version,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestFlowRepository_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	p := NewPersistence(t.TempDir())

	flow := testFlow("flow-1", 1)
	require.NoError(t, p.Flows().Save(ctx, flow))

	loaded, err := p.Flows().GetByID(ctx, "flow-1")
	require.NoError(t, err)
	assert.Equal(t, flow.Name, loaded.Name)
	assert.Equal(t, 1, loaded.Version)
	require.Len(t, loaded.Steps, 1)
	assert.Equal(t, models.StepTypeMessage, loaded.Steps[0].Type)
}

func TestFlowRepository_VersionSnapshotsSurviveEdits(t *testing.T) {
	ctx := context.Background()
	p := NewPersistence(t.TempDir())

	v1 := testFlow("flow-1", 1)
	require.NoError(t, p.Flows().Save(ctx, v1))

	v2 := testFlow("flow-1", 2)
	v2.Steps = append(v2.Steps, models.DelayStepOf("s2", 1, models.DelayUnitDays))
	require.NoError(t, p.Flows().Save(ctx, v2))

	pinned, err := p.Flows().GetVersion(ctx, "flow-1", 1)
	require.NoError(t, err)
	assert.Len(t, pinned.Steps, 1)

	current, err := p.Flows().GetByID(ctx, "flow-1")
	require.NoError(t, err)
	assert.Len(t, current.Steps, 2)
}

func TestFlowRepository_VersionSnapshotsSurviveDelete(t *testing.T) {
	ctx := context.Background()
	p := NewPersistence(t.TempDir())

	require.NoError(t, p.Flows().Save(ctx, testFlow("flow-1", 1)))
	require.NoError(t, p.Flows().Delete(ctx, "flow-1"))

	_, err := p.Flows().GetByID(ctx, "flow-1")
	require.ErrorIs(t, err, persistence.ErrFlowNotFound)

	pinned, err := p.Flows().GetVersion(ctx, "flow-1", 1)
	require.NoError(t, err)
	assert.Equal(t, "flow-1", pinned.ID)
}

func TestFlowRepository_ListActiveByTrigger(t *testing.T) {
	ctx := context.Background()
	p := NewPersistence(t.TempDir())

	active := testFlow("flow-active", 1)
	require.NoError(t, p.Flows().Save(ctx, active))

	inactive := testFlow("flow-inactive", 1)
	inactive.IsActive = false
	require.NoError(t, p.Flows().Save(ctx, inactive))

	other := testFlow("flow-other", 1)
	other.Trigger.Type = models.TriggerDealSaved
	require.NoError(t, p.Flows().Save(ctx, other))

	matched, err := p.Flows().ListActiveByTrigger(ctx, models.TriggerUserSignup)
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, "flow-active", matched[0].ID)
}

func TestRunRepository_FindActive(t *testing.T) {
	ctx := context.Background()
	p := NewPersistence(t.TempDir())
	flow := testFlow("flow-1", 1)

	run := models.NewRun("run-1", flow, "user-1", nil)
	require.NoError(t, p.Runs().Save(ctx, run))

	found, err := p.Runs().FindActive(ctx, "flow-1", "user-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "run-1", found.ID)

	run.Transition(models.RunStatusCompleted)
	require.NoError(t, p.Runs().Save(ctx, run))

	found, err = p.Runs().FindActive(ctx, "flow-1", "user-1")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestRunRepository_ListDue(t *testing.T) {
	ctx := context.Background()
	p := NewPersistence(t.TempDir())
	flow := testFlow("flow-1", 1)
	now := time.Now().UTC()

	due := models.NewRun("run-due", flow, "user-1", nil)
	due.Sleep(now.Add(-time.Minute))
	require.NoError(t, p.Runs().Save(ctx, due))

	future := models.NewRun("run-future", flow, "user-2", nil)
	future.Sleep(now.Add(time.Hour))
	require.NoError(t, p.Runs().Save(ctx, future))

	runs, err := p.Runs().ListDue(ctx, now)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-due", runs[0].ID)
}

func TestRunRepository_ListByFlowAndStatus(t *testing.T) {
	ctx := context.Background()
	p := NewPersistence(t.TempDir())
	flow := testFlow("flow-1", 1)

	failed := models.NewRun("run-failed", flow, "user-1", nil)
	failed.Fail("retry budget exhausted")
	require.NoError(t, p.Runs().Save(ctx, failed))

	pending := models.NewRun("run-pending", flow, "user-2", nil)
	require.NoError(t, p.Runs().Save(ctx, pending))

	runs, err := p.Runs().ListByFlow(ctx, "flow-1", models.RunStatusFailed)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "retry budget exhausted", runs[0].LastError)

	all, err := p.Runs().ListByFlow(ctx, "flow-1", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestAttemptRepository_AppendAndList(t *testing.T) {
	ctx := context.Background()
	p := NewPersistence(t.TempDir())

	attempt := &models.DeliveryAttempt{
		ID:            "att-1",
		RunID:         "run-1",
		FlowID:        "flow-1",
		StepID:        "s1",
		Channel:       models.ChannelSMS,
		AttemptNumber: 1,
		Outcome:       models.OutcomeSent,
		Cost:          0.045,
		Timestamp:     time.Now().UTC(),
	}
	require.NoError(t, p.Attempts().Append(ctx, attempt))

	byRun, err := p.Attempts().ListByRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, byRun, 1)
	assert.Equal(t, models.OutcomeSent, byRun[0].Outcome)
}

func TestAttemptRepository_AppendIsIdempotentPerAttempt(t *testing.T) {
	ctx := context.Background()
	p := NewPersistence(t.TempDir())

	attempt := &models.DeliveryAttempt{
		ID:            "att-1",
		RunID:         "run-1",
		FlowID:        "flow-1",
		StepID:        "s1",
		Channel:       models.ChannelSMS,
		AttemptNumber: 1,
		Outcome:       models.OutcomeSent,
		Timestamp:     time.Now().UTC(),
	}
	require.NoError(t, p.Attempts().Append(ctx, attempt))

	// A replay of the same run/step/attempt carries a fresh row ID but must
	// not produce a second row.
	replay := *attempt
	replay.ID = "att-2"
	require.NoError(t, p.Attempts().Append(ctx, &replay))

	next := *attempt
	next.ID = "att-3"
	next.AttemptNumber = 2
	next.Timestamp = attempt.Timestamp.Add(time.Second)
	require.NoError(t, p.Attempts().Append(ctx, &next))

	byRun, err := p.Attempts().ListByRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, byRun, 2)
	assert.Equal(t, "att-1", byRun[0].ID)
}

func TestTemplateRepository(t *testing.T) {
	ctx := context.Background()
	p := NewPersistence(t.TempDir())

	_, err := p.Templates().GetByID(ctx, "missing")
	require.ErrorIs(t, err, persistence.ErrTemplateNotFound)

	tmpl := &models.MessageTemplate{
		ID:      "tpl-1",
		Name:    "Welcome SMS",
		Channel: models.ChannelSMS,
		Body:    "Hi {{.first_name}}!",
	}
	require.NoError(t, p.Templates().Save(ctx, tmpl))

	loaded, err := p.Templates().GetByID(ctx, "tpl-1")
	require.NoError(t, err)
	assert.Equal(t, "Welcome SMS", loaded.Name)
}
