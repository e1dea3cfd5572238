// Package sms implements the SMS channel adapter with its 160 character limit.
package sms

import (
	"context"
	"time"

	"github.com/dealdrip/dealdrip/pkg/channels"
	"github.com/dealdrip/dealdrip/pkg/models"
	"github.com/dealdrip/dealdrip/pkg/template"
)

type Adapter struct {
	switchboard *channels.Switchboard
	provider    channels.Provider
}

func NewAdapter(switchboard *channels.Switchboard, provider channels.Provider) *Adapter {
	return &Adapter{switchboard: switchboard, provider: provider}
}

func (a *Adapter) Channel() models.Channel {
	return models.ChannelSMS
}

func (a *Adapter) Render(tmpl *models.MessageTemplate, context map[string]any) (template.Result, error) {
	return channels.RenderForChannel(models.ChannelSMS, tmpl, context)
}

func (a *Adapter) Address(context map[string]any) (string, error) {
	return channels.StringAddress(context, "phone")
}

func (a *Adapter) Send(ctx context.Context, rendered, from, to string) (*channels.Receipt, error) {
	if !a.switchboard.Enabled(models.ChannelSMS) {
		return nil, channels.ErrChannelDisabled
	}

	ref, err := a.provider(ctx, from, to, rendered)
	if err != nil {
		return nil, &channels.DeliveryError{Channel: models.ChannelSMS, Reason: err.Error()}
	}

	return &channels.Receipt{
		ProviderRef: ref,
		Cost:        models.ChannelSMS.UnitCost(),
		SentAt:      time.Now().UTC(),
	}, nil
}
