package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

type KeyType string

const (
	KeyTypeNormal KeyType = "normal"
	KeyTypeTest   KeyType = "test"
	KeyTypeTeam   KeyType = "team"
)

type Status string

const (
	StatusCreated          Status = "created"
	StatusSending          Status = "sending"
	StatusSent             Status = "sent"
	StatusDelivered        Status = "delivered"
	StatusPermanentFailure Status = "permanent-failure"
	StatusTemporaryFailure Status = "temporary-failure"
	StatusTechnicalFailure Status = "technical-failure"
)

// Terminal reports whether no further transition is permitted from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusDelivered, StatusPermanentFailure, StatusTemporaryFailure, StatusTechnicalFailure:
		return true
	}
	return false
}

// CanTransition encodes the notification lifecycle: created moves to a
// sending-family status (or straight to technical-failure when the tenant is
// inactive), and only a sending-family status may be resolved by a delivery
// callback.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusCreated:
		return to == StatusSending || to == StatusSent || to == StatusTechnicalFailure
	case StatusSending, StatusSent:
		return to == StatusDelivered || to == StatusPermanentFailure || to == StatusTemporaryFailure
	default:
		return false
	}
}

type Notification struct {
	ID              uuid.UUID
	TenantID        uuid.UUID
	Channel         Channel
	To              string
	TemplateID      string
	TemplateVersion int
	Personalisation map[string]string
	Status          Status
	Reference       string
	BillableUnits   int
	KeyType         KeyType
	International   bool
	CreatedAt       time.Time
	SentAt          *time.Time
	SentBy          string
}

// Tenant is the sending organisation a notification belongs to.
type Tenant struct {
	ID             uuid.UUID
	Name           string
	Active         bool
	ResearchMode   bool
	EmailFrom      string
	DefaultSender  string
	DefaultReplyTo string
	Branding       string
}

type Store interface {
	GetNotification(ctx context.Context, id uuid.UUID) (Notification, error)
	GetTenant(ctx context.Context, id uuid.UUID) (Tenant, error)

	// MarkSent persists the post-dispatch fields (status, sent_at, sent_by,
	// reference, billable_units) only while the row is still in created.
	MarkSent(ctx context.Context, n Notification) (bool, error)

	// RollbackToCreated reverts a simulated dispatch so it can be retried.
	RollbackToCreated(ctx context.Context, id uuid.UUID) error

	MarkTechnicalFailure(ctx context.Context, id uuid.UUID) error

	// UpdateStatusByReference applies a terminal callback status to the
	// notification holding the provider reference, only while it is in a
	// sending-family status. The bool reports whether a row matched.
	UpdateStatusByReference(ctx context.Context, reference string, status Status) (Notification, bool, error)

	SMSSenderOverride(ctx context.Context, id uuid.UUID) (string, bool, error)
	EmailReplyToOverride(ctx context.Context, id uuid.UUID) (string, bool, error)
}
