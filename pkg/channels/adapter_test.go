package channels

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealdrip/dealdrip/pkg/models"
)

func TestSwitchboard_DefaultsEnabled(t *testing.T) {
	switchboard := NewSwitchboard()

	for _, channel := range models.AllChannels() {
		assert.True(t, switchboard.Enabled(channel), "channel %s should start enabled", channel)
	}
}

func TestSwitchboard_Toggle(t *testing.T) {
	switchboard := NewSwitchboard()

	switchboard.SetEnabled(models.ChannelWhatsApp, false)
	assert.False(t, switchboard.Enabled(models.ChannelWhatsApp))
	assert.True(t, switchboard.Enabled(models.ChannelSMS))

	switchboard.SetEnabled(models.ChannelWhatsApp, true)
	assert.True(t, switchboard.Enabled(models.ChannelWhatsApp))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(ErrChannelDisabled))
	assert.True(t, Retryable(&DeliveryError{Channel: models.ChannelSMS, Reason: "timeout"}))
	assert.False(t, Retryable(ErrMessageTooLong))
	assert.False(t, Retryable(errors.New("other")))
}

func TestStringAddress(t *testing.T) {
	address, err := StringAddress(map[string]any{"email": "ana@example.com"}, "email")
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", address)

	_, err = StringAddress(map[string]any{}, "email")
	require.ErrorIs(t, err, ErrMissingAddress)

	_, err = StringAddress(map[string]any{"email": 42}, "email")
	require.ErrorIs(t, err, ErrMissingAddress)
}

func TestRenderForChannel_LimitCountsCharactersNotBytes(t *testing.T) {
	limit := models.ChannelSMS.MaxMessageLength()

	// Each rune is two bytes in UTF-8; a byte count would reject this.
	tmpl := &models.MessageTemplate{
		ID:      "tpl-accents",
		Channel: models.ChannelSMS,
		Body:    strings.Repeat("é", limit),
	}

	result, err := RenderForChannel(models.ChannelSMS, tmpl, nil)
	require.NoError(t, err)
	assert.Equal(t, limit*2, len(result.Output))

	tmpl.Body = strings.Repeat("é", limit+1)

	_, err = RenderForChannel(models.ChannelSMS, tmpl, nil)
	require.ErrorIs(t, err, ErrMessageTooLong)
}

func TestRenderForChannel_MissingTokenDoesNotBlock(t *testing.T) {
	tmpl := &models.MessageTemplate{
		ID:      "tpl-1",
		Channel: models.ChannelWhatsApp,
		Body:    "Hi {{.first_name}}!",
	}

	result, err := RenderForChannel(models.ChannelWhatsApp, tmpl, nil)
	require.NoError(t, err)
	assert.Equal(t, "Hi [first_name]!", result.Output)
	assert.Len(t, result.Warnings, 1)
}
