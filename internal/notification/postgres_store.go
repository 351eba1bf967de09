package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const selectNotification = `
SELECT id, tenant_id, channel, recipient, template_id, template_version,
       personalisation, status, reference, billable_units, key_type,
       international, created_at, sent_at, sent_by
FROM notifications
WHERE id = $1
`

const selectTenant = `
SELECT id, name, active, research_mode, email_from, default_sender,
       default_reply_to, branding
FROM tenants
WHERE id = $1
`

const markSent = `
UPDATE notifications
SET status = $2, sent_at = $3, sent_by = $4, reference = $5, billable_units = $6
WHERE id = $1 AND status = 'created'
`

const rollbackToCreated = `
UPDATE notifications
SET status = 'created', sent_at = NULL, sent_by = '', reference = '', billable_units = 0
WHERE id = $1
`

const markTechnicalFailure = `
UPDATE notifications
SET status = 'technical-failure'
WHERE id = $1 AND status = 'created'
`

const updateStatusByReference = `
UPDATE notifications
SET status = $2
WHERE reference = $1 AND status IN ('sending', 'sent')
RETURNING id, tenant_id, channel, recipient, template_id, template_version,
          personalisation, status, reference, billable_units, key_type,
          international, created_at, sent_at, sent_by
`

const selectSenderOverride = `
SELECT sender FROM notification_sms_senders WHERE notification_id = $1
`

const selectReplyToOverride = `
SELECT reply_to FROM notification_email_reply_to WHERE notification_id = $1
`

var ErrNotFound = errors.New("notification not found")

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) GetNotification(ctx context.Context, id uuid.UUID) (Notification, error) {
	n, err := scanNotification(s.pool.QueryRow(ctx, selectNotification, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Notification{}, ErrNotFound
		}
		return Notification{}, fmt.Errorf("get notification: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) GetTenant(ctx context.Context, id uuid.UUID) (Tenant, error) {
	var t Tenant
	row := s.pool.QueryRow(ctx, selectTenant, id)
	if err := row.Scan(&t.ID, &t.Name, &t.Active, &t.ResearchMode, &t.EmailFrom,
		&t.DefaultSender, &t.DefaultReplyTo, &t.Branding); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Tenant{}, ErrNotFound
		}
		return Tenant{}, fmt.Errorf("get tenant: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) MarkSent(ctx context.Context, n Notification) (bool, error) {
	tag, err := s.pool.Exec(ctx, markSent,
		n.ID, string(n.Status), n.SentAt, n.SentBy, n.Reference, n.BillableUnits)
	if err != nil {
		return false, fmt.Errorf("mark sent: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) RollbackToCreated(ctx context.Context, id uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, rollbackToCreated, id); err != nil {
		return fmt.Errorf("rollback notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkTechnicalFailure(ctx context.Context, id uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, markTechnicalFailure, id); err != nil {
		return fmt.Errorf("mark technical failure: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateStatusByReference(ctx context.Context, reference string, status Status) (Notification, bool, error) {
	n, err := scanNotification(s.pool.QueryRow(ctx, updateStatusByReference, reference, string(status)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Notification{}, false, nil
		}
		return Notification{}, false, fmt.Errorf("update status by reference: %w", err)
	}
	return n, true, nil
}

func (s *PostgresStore) SMSSenderOverride(ctx context.Context, id uuid.UUID) (string, bool, error) {
	return s.lookupOverride(ctx, selectSenderOverride, id)
}

func (s *PostgresStore) EmailReplyToOverride(ctx context.Context, id uuid.UUID) (string, bool, error) {
	return s.lookupOverride(ctx, selectReplyToOverride, id)
}

func (s *PostgresStore) lookupOverride(ctx context.Context, query string, id uuid.UUID) (string, bool, error) {
	var value string
	if err := s.pool.QueryRow(ctx, query, id).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("lookup override: %w", err)
	}
	return value, true, nil
}

func scanNotification(row pgx.Row) (Notification, error) {
	var (
		n               Notification
		channel         string
		status          string
		keyType         string
		personalisation []byte
		sentAt          *time.Time
	)
	if err := row.Scan(&n.ID, &n.TenantID, &channel, &n.To, &n.TemplateID,
		&n.TemplateVersion, &personalisation, &status, &n.Reference,
		&n.BillableUnits, &keyType, &n.International, &n.CreatedAt, &sentAt,
		&n.SentBy); err != nil {
		return Notification{}, err
	}
	if len(personalisation) > 0 {
		if err := json.Unmarshal(personalisation, &n.Personalisation); err != nil {
			return Notification{}, fmt.Errorf("decode personalisation: %w", err)
		}
	}
	n.Channel = Channel(channel)
	n.Status = Status(status)
	n.KeyType = KeyType(keyType)
	n.SentAt = sentAt
	return n, nil
}
