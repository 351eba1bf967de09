package provider

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/example/notify/internal/notification"
)

type SMSClient interface {
	Name() string
	SendSMS(ctx context.Context, to, content, reference, sender string) error
}

type EmailClient interface {
	Name() string
	SendEmail(ctx context.Context, from, to, subject, body, htmlBody, replyTo string) (string, error)
}

// Definition is one configured delivery provider. The active flag is shared
// mutable state across concurrent dispatches; it is toggled via compare-and-swap
// so a failed send circuit-breaks the provider without a redeploy.
type Definition struct {
	Identifier            string
	Channel               notification.Channel
	Priority              int
	SupportsInternational bool
	SMS                   SMSClient
	Email                 EmailClient

	active atomic.Bool
}

func NewDefinition(identifier string, channel notification.Channel, priority int) *Definition {
	d := &Definition{Identifier: identifier, Channel: channel, Priority: priority}
	d.active.Store(true)
	return d
}

func (d *Definition) WithSMS(client SMSClient, international bool) *Definition {
	d.SMS = client
	d.SupportsInternational = international
	return d
}

func (d *Definition) WithEmail(client EmailClient) *Definition {
	d.Email = client
	return d
}

func (d *Definition) Active() bool { return d.active.Load() }

type NoActiveProviderError struct {
	Channel        notification.Channel
	NotificationID uuid.UUID
}

func (e *NoActiveProviderError) Error() string {
	return fmt.Sprintf("no active %s providers for notification %s", e.Channel, e.NotificationID)
}

// Registry holds providers in configuration order, which breaks priority ties.
type Registry struct {
	providers []*Definition
}

func NewRegistry(defs ...*Definition) *Registry {
	return &Registry{providers: defs}
}

// Select returns the highest-priority (lowest rank) active provider for the
// channel. For SMS, international traffic is restricted to providers that
// support it. An empty active set fails closed with NoActiveProviderError.
func (r *Registry) Select(channel notification.Channel, international bool, notificationID uuid.UUID) (*Definition, error) {
	var best *Definition
	for _, d := range r.providers {
		if d.Channel != channel || !d.active.Load() {
			continue
		}
		if channel == notification.ChannelSMS && international && !d.SupportsInternational {
			continue
		}
		if best == nil || d.Priority < best.Priority {
			best = d
		}
	}
	if best == nil {
		return nil, &NoActiveProviderError{Channel: channel, NotificationID: notificationID}
	}
	return best, nil
}

// Deactivate circuit-breaks a provider after a transport failure. It reports
// whether this call flipped the flag; a false return means another dispatch
// already disabled it, or the identifier is unknown.
func (r *Registry) Deactivate(identifier string) bool {
	if d := r.find(identifier); d != nil {
		return d.active.CompareAndSwap(true, false)
	}
	return false
}

// Activate re-enables a circuit-broken provider.
func (r *Registry) Activate(identifier string) bool {
	if d := r.find(identifier); d != nil {
		return d.active.CompareAndSwap(false, true)
	}
	return false
}

func (r *Registry) find(identifier string) *Definition {
	for _, d := range r.providers {
		if d.Identifier == identifier {
			return d
		}
	}
	return nil
}
