package models

import "time"

// LimitClass tags a template with the length budget it was authored for.
type LimitClass string

const (
	LimitClassShort     LimitClass = "short"     // fits SMS
	LimitClassStandard  LimitClass = "standard"  // fits WhatsApp
	LimitClassUnbounded LimitClass = "unbounded" // email only
)

// LimitClassFor returns the limit class implied by a channel's length budget.
func LimitClassFor(channel Channel) LimitClass {
	switch channel {
	case ChannelSMS:
		return LimitClassShort
	case ChannelWhatsApp:
		return LimitClassStandard
	default:
		return LimitClassUnbounded
	}
}

// MessageTemplate is a named, versioned message body with {{token}}
// placeholders, tagged by channel and character-limit class.
type MessageTemplate struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"    validate:"required,min=3"`
	Channel    Channel    `json:"channel" validate:"required"`
	LimitClass LimitClass `json:"limit_class"`
	Subject    string     `json:"subject,omitempty"` // email only
	Body       string     `json:"body"    validate:"required"`
	Version    int        `json:"version"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
