// Package email implements the email channel adapter. Email has no length
// ceiling; the subject line is rendered with the same token rules as the body.
package email

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
	return models.ChannelEmail
}

func (a *Adapter) Render(tmpl *models.MessageTemplate, context map[string]any) (template.Result, error) {
	result, err := channels.RenderForChannel(models.ChannelEmail, tmpl, context)
	if err != nil {
		return result, err
	}

	if tmpl.Subject != "" {
		subject, err := template.Render(tmpl.Subject, context)
		if err != nil {
			return result, err
		}

		result.Output = subject.Output + "\n\n" + result.Output
		result.Warnings = append(result.Warnings, subject.Warnings...)
	}

	return result, nil
}

func (a *Adapter) Address(context map[string]any) (string, error) {
	return channels.StringAddress(context, "email")
}

func (a *Adapter) Send(ctx context.Context, rendered, from, to string) (*channels.Receipt, error) {
	if !a.switchboard.Enabled(models.ChannelEmail) {
		return nil, channels.ErrChannelDisabled
	}

	ref, err := a.provider(ctx, from, to, rendered)
	if err != nil {
		return nil, &channels.DeliveryError{Channel: models.ChannelEmail, Reason: err.Error()}
	}

	return &channels.Receipt{
		ProviderRef: ref,
		Cost:        models.ChannelEmail.UnitCost(),
		SentAt:      time.Now().UTC(),
	}, nil
}
