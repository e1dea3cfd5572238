package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealdrip/dealdrip/pkg/models"
	"github.com/dealdrip/dealdrip/pkg/persistence/file"
)

func TestTemplateSaveAssignsIDAndVersion(t *testing.T) {
	ctx := context.Background()
	svc := NewTemplate(file.NewPersistence(t.TempDir()))

	saved, err := svc.Save(ctx, &models.MessageTemplate{
		Name:    "Welcome SMS",
		Channel: models.ChannelSMS,
		Body:    "Hi {{.name}}, welcome to DealDrip!",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
	assert.Equal(t, 1, saved.Version)

	saved.Body = "Hi {{.name}}!"

	again, err := svc.Save(ctx, saved)
	require.NoError(t, err)
	assert.Equal(t, 2, again.Version)
}

func TestTemplateSaveDerivesLimitClassFromChannel(t *testing.T) {
	ctx := context.Background()
	svc := NewTemplate(file.NewPersistence(t.TempDir()))

	tests := []struct {
		channel models.Channel
		class   models.LimitClass
	}{
		{models.ChannelSMS, models.LimitClassShort},
		{models.ChannelWhatsApp, models.LimitClassStandard},
		{models.ChannelEmail, models.LimitClassUnbounded},
	}

	for _, tt := range tests {
		saved, err := svc.Save(ctx, &models.MessageTemplate{
			Name:    "Welcome " + string(tt.channel),
			Channel: tt.channel,
			Body:    "Hi {{.name}}!",
		})
		require.NoError(t, err)
		assert.Equal(t, tt.class, saved.LimitClass, "channel %s", tt.channel)
	}

	// An explicit class is left alone.
	saved, err := svc.Save(ctx, &models.MessageTemplate{
		Name:       "Short email",
		Channel:    models.ChannelEmail,
		LimitClass: models.LimitClassShort,
		Body:       "Hi!",
	})
	require.NoError(t, err)
	assert.Equal(t, models.LimitClassShort, saved.LimitClass)
}

func TestTemplateSaveRejectsUnknownChannel(t *testing.T) {
	svc := NewTemplate(file.NewPersistence(t.TempDir()))

	_, err := svc.Save(context.Background(), &models.MessageTemplate{
		Name:    "Pigeon post",
		Channel: models.Channel("pigeon"),
		Body:    "coo",
	})
	require.ErrorIs(t, err, ErrTemplateChannel)
	assert.True(t, IsValidationError(err))
}

func TestTemplateSaveRejectsBrokenBody(t *testing.T) {
	svc := NewTemplate(file.NewPersistence(t.TempDir()))

	_, err := svc.Save(context.Background(), &models.MessageTemplate{
		Name:    "Broken",
		Channel: models.ChannelEmail,
		Body:    "Hi {{.name", // unclosed action
	})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}

func TestTemplateTokens(t *testing.T) {
	ctx := context.Background()
	svc := NewTemplate(file.NewPersistence(t.TempDir()))

	saved, err := svc.Save(ctx, &models.MessageTemplate{
		Name:    "Digest",
		Channel: models.ChannelEmail,
		Subject: "Deals for {{.name}}",
		Body:    "{{.name}}, check out {{.dealTitle}}.",
	})
	require.NoError(t, err)

	tokens, err := svc.Tokens(ctx, saved.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"name", "dealTitle", "name"}, tokens)
}
