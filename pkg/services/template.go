package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dealdrip/dealdrip/pkg/models"
	"github.com/dealdrip/dealdrip/pkg/persistence"
	"github.com/dealdrip/dealdrip/pkg/template"
)

// Template manages message templates and reports the tokens a template body
// references, so the admin UI can preview required context fields.
type Template struct {
	persistence persistence.Persistence
}

func NewTemplate(p persistence.Persistence) *Template {
	return &Template{persistence: p}
}

// List retrieves all templates.
func (s *Template) List(ctx context.Context) ([]*models.MessageTemplate, error) {
	return s.persistence.Templates().List(ctx)
}

// FetchByID retrieves a template by its ID.
func (s *Template) FetchByID(ctx context.Context, id string) (*models.MessageTemplate, error) {
	return s.persistence.Templates().GetByID(ctx, id)
}

// Save validates and stores a template. The body is parsed up front so broken
// token syntax fails at authoring time, not at send time.
func (s *Template) Save(ctx context.Context, tmpl *models.MessageTemplate) (*models.MessageTemplate, error) {
	if tmpl == nil {
		return nil, ErrTemplateNil
	}

	if !tmpl.Channel.Valid() {
		return nil, NewValidationError("Save", "INVALID_CHANNEL",
			fmt.Sprintf("unknown channel %q", tmpl.Channel), ErrTemplateChannel)
	}

	if _, err := template.Render(tmpl.Body, nil); err != nil {
		return nil, NewValidationError("Save", "INVALID_TEMPLATE",
			fmt.Sprintf("template body does not parse: %v", err), ErrInvalidRequest)
	}

	if tmpl.LimitClass == "" {
		tmpl.LimitClass = models.LimitClassFor(tmpl.Channel)
	}

	now := time.Now().UTC()

	if tmpl.ID == "" {
		tmpl.ID = uuid.New().String()
		tmpl.CreatedAt = now
	}

	tmpl.Version++
	tmpl.UpdatedAt = now

	if err := s.persistence.Templates().Save(ctx, tmpl); err != nil {
		return nil, fmt.Errorf("failed to save template: %w", err)
	}

	return tmpl, nil
}

// Tokens lists the context fields a template references.
func (s *Template) Tokens(ctx context.Context, id string) ([]string, error) {
	tmpl, err := s.persistence.Templates().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	tokens := template.Tokens(tmpl.Body)
	if tmpl.Subject != "" {
		tokens = append(tokens, template.Tokens(tmpl.Subject)...)
	}

	return tokens, nil
}
