// Package channels defines the delivery channel abstraction: rendering with
// per-channel constraints, the process-wide kill switch and the send contract
// every adapter satisfies.
package channels

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/dealdrip/dealdrip/pkg/models"
	"github.com/dealdrip/dealdrip/pkg/template"
)

var (
	// ErrMessageTooLong is returned by Render when the rendered message
	// exceeds the channel ceiling. Messages are never silently truncated.
	ErrMessageTooLong = errors.New("rendered message exceeds channel length limit")

	// ErrChannelDisabled is returned by Send while the channel kill switch is
	// off. The scheduler treats it as retryable; the switch may be flipped
	// back before the retry budget runs out.
	ErrChannelDisabled = errors.New("channel is disabled")

	// ErrMissingAddress is returned when the recipient context lacks the
	// address the channel delivers to.
	ErrMissingAddress = errors.New("recipient address missing from context")

	// ErrWrongChannel is returned when a template tagged for another channel
	// is sent through this adapter.
	ErrWrongChannel = errors.New("template channel does not match adapter")
)

// DeliveryError is a transient provider failure. The scheduler retries it.
type DeliveryError struct {
	Channel models.Channel
	Reason  string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery failed on %s: %s", e.Channel, e.Reason)
}

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	var deliveryErr *DeliveryError

	return errors.Is(err, ErrChannelDisabled) || errors.As(err, &deliveryErr)
}

// Receipt is the acknowledgment a provider returns for an accepted send.
type Receipt struct {
	ProviderRef string
	Cost        float64
	SentAt      time.Time
}

// Provider performs the wire-level send. Provider wire formats are out of
// scope here; production deployments inject the real client.
type Provider func(ctx context.Context, from, to, message string) (providerRef string, err error)

// Adapter renders templates and performs sends for one channel.
type Adapter interface {
	Channel() models.Channel
	Render(tmpl *models.MessageTemplate, context map[string]any) (template.Result, error)
	Address(context map[string]any) (string, error)
	Send(ctx context.Context, rendered, from, to string) (*Receipt, error)
}

// Switchboard is the process-wide per-channel kill switch. Adapters consult it
// at send time, never cached per run, so a toggle takes effect for in-flight
// runs immediately.
type Switchboard struct {
	mu       sync.RWMutex
	disabled map[models.Channel]bool
}

func NewSwitchboard() *Switchboard {
	return &Switchboard{disabled: make(map[models.Channel]bool)}
}

func (s *Switchboard) Enabled(channel models.Channel) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return !s.disabled[channel]
}

func (s *Switchboard) SetEnabled(channel models.Channel, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.disabled[channel] = !enabled
}

// Registry holds one adapter per channel.
type Registry struct {
	adapters map[models.Channel]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	byChannel := make(map[models.Channel]Adapter, len(adapters))
	for _, adapter := range adapters {
		byChannel[adapter.Channel()] = adapter
	}

	return &Registry{adapters: byChannel}
}

// For returns the adapter registered for the channel.
func (r *Registry) For(channel models.Channel) (Adapter, error) {
	adapter, ok := r.adapters[channel]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for channel %q", channel)
	}

	return adapter, nil
}

// RenderForChannel renders a template and enforces the channel length ceiling.
// Shared by the concrete adapters.
func RenderForChannel(channel models.Channel, tmpl *models.MessageTemplate, context map[string]any) (template.Result, error) {
	if tmpl.Channel != channel {
		return template.Result{}, fmt.Errorf("%w: template %s is %s", ErrWrongChannel, tmpl.ID, tmpl.Channel)
	}

	result, err := template.Render(tmpl.Body, context)
	if err != nil {
		return result, err
	}

	// Ceilings are character counts, so multi-byte text is measured in runes.
	limit := channel.MaxMessageLength()
	if length := utf8.RuneCountInString(result.Output); limit > 0 && length > limit {
		return result, fmt.Errorf("%w: %d > %d chars on %s", ErrMessageTooLong, length, limit, channel)
	}

	return result, nil
}

// StringAddress extracts a non-empty string attribute from the context.
func StringAddress(context map[string]any, key string) (string, error) {
	value, ok := context[key].(string)
	if !ok || value == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingAddress, key)
	}

	return value, nil
}
