package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealdrip/dealdrip/pkg/models"
	"github.com/dealdrip/dealdrip/pkg/persistence/file"
)

type fakeCanceller struct {
	flowIDs []string
}

func (f *fakeCanceller) CancelFlow(_ context.Context, flowID, _ string) (int, error) {
	f.flowIDs = append(f.flowIDs, flowID)

	return 1, nil
}

func draftFlow() *models.FlowDefinition {
	return &models.FlowDefinition{
		Name:    "Welcome series",
		Trigger: models.TriggerSpec{Type: models.TriggerUserSignup},
		Steps: []models.Step{
			models.MessageStepOf("welcome", models.ChannelEmail, "tpl-1", "deals@dealdrip.example"),
		},
	}
}

func TestFlowCreateStartsInactiveAtVersionOne(t *testing.T) {
	ctx := context.Background()
	store := file.NewPersistence(t.TempDir())
	svc := NewFlow(store, nil)

	created, err := svc.Create(ctx, draftFlow())
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, 1, created.Version)
	assert.False(t, created.IsActive)
	assert.False(t, created.CreatedAt.IsZero())
}

func TestFlowCreateRejectsInvalidDefinition(t *testing.T) {
	ctx := context.Background()
	svc := NewFlow(file.NewPersistence(t.TempDir()), nil)

	flow := draftFlow()
	flow.Steps = append(flow.Steps,
		models.MessageStepOf("welcome", models.ChannelSMS, "tpl-2", "dealdrip"))

	_, err := svc.Create(ctx, flow)
	require.ErrorIs(t, err, models.ErrDuplicateStepID)
	assert.True(t, IsValidationError(err))

	_, err = svc.Create(ctx, nil)
	require.ErrorIs(t, err, ErrFlowNil)
	assert.True(t, IsValidationError(err))
}

func TestFlowCreateAcceptsSteplessDraft(t *testing.T) {
	ctx := context.Background()
	svc := NewFlow(file.NewPersistence(t.TempDir()), nil)

	flow := draftFlow()
	flow.Steps = nil

	created, err := svc.Create(ctx, flow)
	require.NoError(t, err)
	assert.False(t, created.IsActive)
}

func TestFlowUpdateBumpsVersionAndKeepsOldRevision(t *testing.T) {
	ctx := context.Background()
	store := file.NewPersistence(t.TempDir())
	svc := NewFlow(store, nil)

	created, err := svc.Create(ctx, draftFlow())
	require.NoError(t, err)

	edited := draftFlow()
	edited.Name = "Welcome series v2"
	edited.Version = created.Version

	updated, err := svc.Update(ctx, created.ID, edited)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)

	original, err := store.Flows().GetVersion(ctx, created.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "Welcome series", original.Name)
}

func TestFlowUpdateDetectsConcurrentEdit(t *testing.T) {
	ctx := context.Background()
	svc := NewFlow(file.NewPersistence(t.TempDir()), nil)

	created, err := svc.Create(ctx, draftFlow())
	require.NoError(t, err)

	stale := draftFlow()
	stale.Version = created.Version + 5

	_, err = svc.Update(ctx, created.ID, stale)
	require.ErrorIs(t, err, ErrVersionConflict)
	assert.True(t, IsConflictError(err))
}

func TestFlowToggleDoesNotCreateRevision(t *testing.T) {
	ctx := context.Background()
	store := file.NewPersistence(t.TempDir())
	svc := NewFlow(store, nil)

	created, err := svc.Create(ctx, draftFlow())
	require.NoError(t, err)

	toggled, err := svc.Toggle(ctx, created.ID, true)
	require.NoError(t, err)
	assert.True(t, toggled.IsActive)
	assert.Equal(t, 1, toggled.Version)

	active, err := store.Flows().ListActiveByTrigger(ctx, models.TriggerUserSignup)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestFlowToggleRejectsActivatingSteplessDraft(t *testing.T) {
	ctx := context.Background()
	store := file.NewPersistence(t.TempDir())
	svc := NewFlow(store, nil)

	flow := draftFlow()
	flow.Steps = nil

	created, err := svc.Create(ctx, flow)
	require.NoError(t, err)

	_, err = svc.Toggle(ctx, created.ID, true)
	require.ErrorIs(t, err, models.ErrFlowNoSteps)
	assert.True(t, IsValidationError(err))

	// The stored flow stays inactive.
	stored, err := svc.FetchByID(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
}

func TestFlowDeleteCancelsRuns(t *testing.T) {
	ctx := context.Background()
	store := file.NewPersistence(t.TempDir())
	canceller := &fakeCanceller{}
	svc := NewFlow(store, canceller)

	created, err := svc.Create(ctx, draftFlow())
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, created.ID))
	assert.Equal(t, []string{created.ID}, canceller.flowIDs)

	_, err = svc.FetchByID(ctx, created.ID)
	assert.True(t, IsNotFoundError(err))

	// The version snapshot survives deletion.
	snapshot, err := store.Flows().GetVersion(ctx, created.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, created.ID, snapshot.ID)
}
