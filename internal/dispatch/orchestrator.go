package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/notify/internal/notification"
	"github.com/example/notify/internal/provider"
	"github.com/example/notify/internal/template"
)

var (
	dispatchCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_dispatched_total",
		Help: "Notifications handed to a delivery provider",
	}, []string{"channel", "provider"})
	sendLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "notification_send_duration_seconds",
		Help:    "Time from notification creation to provider hand-off",
		Buckets: prometheus.DefBuckets,
	}, []string{"channel"})
)

// Responder produces the canonical delivery response for research-mode and
// test-key traffic in place of a real provider call.
type Responder interface {
	SMSResponse(ctx context.Context, providerName, reference, to string) error
	EmailResponse(ctx context.Context, providerName, reference, to string) error
}

// Stats receives the initial-dispatch event consumed by the statistics
// collaborator.
type Stats interface {
	InitialDispatch(ctx context.Context, n notification.Notification) error
}

type Orchestrator struct {
	Store       notification.Store
	Templates   template.Store
	Registry    *provider.Registry
	Responder   Responder
	Stats       Stats
	EmailDomain string
	Logger      zerolog.Logger

	tracer trace.Tracer
}

func NewOrchestrator(store notification.Store, templates template.Store, registry *provider.Registry,
	responder Responder, stats Stats, emailDomain string, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		Store:       store,
		Templates:   templates,
		Registry:    registry,
		Responder:   responder,
		Stats:       stats,
		EmailDomain: emailDomain,
		Logger:      logger,
		tracer:      otel.Tracer("dispatch"),
	}
}

// sendPlan carries the channel-specific half of a dispatch: how to mint a
// simulated reference, how to simulate the provider response, and how to
// perform the real send. The shared lifecycle logic lives in deliver.
type sendPlan struct {
	def               *provider.Definition
	simulateReference func(n *notification.Notification) string
	simulate          func(ctx context.Context, providerName, reference, to string) error
	send              func(ctx context.Context, n *notification.Notification) (notification.Status, error)
}

func (o *Orchestrator) SendSMS(ctx context.Context, id uuid.UUID) error {
	ctx, span := o.tracer.Start(ctx, "send_sms")
	defer span.End()
	span.SetAttributes(attribute.String("notification.id", id.String()))

	n, tenant, proceed, err := o.load(ctx, id)
	if err != nil || !proceed {
		return err
	}

	def, err := o.Registry.Select(notification.ChannelSMS, n.International, n.ID)
	if err != nil {
		o.Logger.Error().Str("notification_id", n.ID.String()).Msg("sms dispatch failed as no active providers")
		return err
	}

	tpl, err := o.Templates.GetTemplate(ctx, n.TemplateID, n.TemplateVersion)
	if err != nil {
		return fmt.Errorf("load template for %s: %w", n.ID, err)
	}
	msg := template.RenderSMS(tpl, n.Personalisation, tenant.Name)

	plan := sendPlan{
		def: def,
		// SMS providers echo back the reference we hand them, so the
		// internal id doubles as the provider reference.
		simulateReference: func(n *notification.Notification) string { return n.ID.String() },
		simulate:          o.Responder.SMSResponse,
		send: func(ctx context.Context, n *notification.Notification) (notification.Status, error) {
			sender, ok, err := o.Store.SMSSenderOverride(ctx, n.ID)
			if err != nil {
				return "", err
			}
			if !ok {
				sender = tenant.DefaultSender
			}
			if err := def.SMS.SendSMS(ctx, n.To, msg.Content, n.ID.String(), sender); err != nil {
				return "", err
			}
			n.Reference = n.ID.String()
			n.BillableUnits = msg.Fragments
			if n.International {
				return notification.StatusSent, nil
			}
			return notification.StatusSending, nil
		},
	}
	return o.deliver(ctx, &n, tenant, plan)
}

func (o *Orchestrator) SendEmail(ctx context.Context, id uuid.UUID) error {
	ctx, span := o.tracer.Start(ctx, "send_email")
	defer span.End()
	span.SetAttributes(attribute.String("notification.id", id.String()))

	n, tenant, proceed, err := o.load(ctx, id)
	if err != nil || !proceed {
		return err
	}

	def, err := o.Registry.Select(notification.ChannelEmail, false, n.ID)
	if err != nil {
		o.Logger.Error().Str("notification_id", n.ID.String()).Msg("email dispatch failed as no active providers")
		return err
	}

	tpl, err := o.Templates.GetTemplate(ctx, n.TemplateID, n.TemplateVersion)
	if err != nil {
		return fmt.Errorf("load template for %s: %w", n.ID, err)
	}
	msg := template.RenderEmail(tpl, n.Personalisation)

	plan := sendPlan{
		def:               def,
		simulateReference: func(*notification.Notification) string { return uuid.NewString() },
		simulate:          o.Responder.EmailResponse,
		send: func(ctx context.Context, n *notification.Notification) (notification.Status, error) {
			from := fmt.Sprintf("%q <%s@%s>", tenant.Name, tenant.EmailFrom, o.EmailDomain)
			replyTo, ok, err := o.Store.EmailReplyToOverride(ctx, n.ID)
			if err != nil {
				return "", err
			}
			if !ok {
				replyTo = tenant.DefaultReplyTo
			}
			reference, err := def.Email.SendEmail(ctx, from, n.To, msg.Subject, msg.Body, msg.HTMLBody, replyTo)
			if err != nil {
				return "", err
			}
			n.Reference = reference
			return notification.StatusSending, nil
		},
	}
	return o.deliver(ctx, &n, tenant, plan)
}

// load fetches the notification and its tenant and applies the two
// preconditions shared by both channels: an inactive tenant short-circuits to
// technical-failure without touching provider selection, and anything no
// longer in created is left alone.
func (o *Orchestrator) load(ctx context.Context, id uuid.UUID) (notification.Notification, notification.Tenant, bool, error) {
	n, err := o.Store.GetNotification(ctx, id)
	if err != nil {
		return notification.Notification{}, notification.Tenant{}, false, fmt.Errorf("load notification %s: %w", id, err)
	}
	tenant, err := o.Store.GetTenant(ctx, n.TenantID)
	if err != nil {
		return notification.Notification{}, notification.Tenant{}, false, fmt.Errorf("load tenant for %s: %w", id, err)
	}

	if !tenant.Active {
		if err := o.Store.MarkTechnicalFailure(ctx, n.ID); err != nil {
			return notification.Notification{}, notification.Tenant{}, false, err
		}
		o.Logger.Warn().
			Str("notification_id", n.ID.String()).
			Str("tenant_id", tenant.ID.String()).
			Msg("send to provider is not allowed: tenant is inactive")
		return notification.Notification{}, notification.Tenant{}, false, nil
	}

	if n.Status != notification.StatusCreated {
		o.Logger.Info().
			Str("notification_id", n.ID.String()).
			Str("status", string(n.Status)).
			Msg("notification not in created, skipping dispatch")
		return notification.Notification{}, notification.Tenant{}, false, nil
	}
	return n, tenant, true, nil
}

func (o *Orchestrator) deliver(ctx context.Context, n *notification.Notification, tenant notification.Tenant, plan sendPlan) error {
	if tenant.ResearchMode || n.KeyType == notification.KeyTypeTest {
		return o.deliverSimulated(ctx, n, plan)
	}

	status, err := plan.send(ctx, n)
	if err != nil {
		// Circuit-break the provider and surface the failure with the
		// notification untouched; the worker owns retry.
		o.Registry.Deactivate(plan.def.Identifier)
		o.Logger.Warn().
			Err(err).
			Str("notification_id", n.ID.String()).
			Str("provider", plan.def.Identifier).
			Msg("provider send failed, provider deactivated")
		return fmt.Errorf("send %s via %s: %w", n.Channel, plan.def.Identifier, err)
	}

	if err := o.markSent(ctx, n, plan.def.Identifier, status); err != nil {
		return err
	}
	o.finish(ctx, *n)
	return nil
}

// deliverSimulated handles research-mode and test-key traffic: no provider
// contact, zero billable units, a synthetic reference, and an immediate
// canonical response from the responder. A responder failure rolls the
// notification back to created so the worker can re-attempt the whole
// dispatch; this is the only rollback path in the system.
func (o *Orchestrator) deliverSimulated(ctx context.Context, n *notification.Notification, plan sendPlan) error {
	n.BillableUnits = 0
	n.Reference = plan.simulateReference(n)
	if err := o.markSent(ctx, n, plan.def.Identifier, notification.StatusSending); err != nil {
		return err
	}

	if err := plan.simulate(ctx, plan.def.Identifier, n.Reference, n.To); err != nil {
		if rbErr := o.Store.RollbackToCreated(ctx, n.ID); rbErr != nil {
			return fmt.Errorf("rollback after simulated response failure: %w", rbErr)
		}
		return fmt.Errorf("simulated %s response for %s: %w", n.Channel, n.ID, err)
	}

	o.finish(ctx, *n)
	return nil
}

func (o *Orchestrator) markSent(ctx context.Context, n *notification.Notification, providerName string, status notification.Status) error {
	now := time.Now().UTC()
	n.SentAt = &now
	n.SentBy = providerName
	n.Status = status

	changed, err := o.Store.MarkSent(ctx, *n)
	if err != nil {
		return fmt.Errorf("persist sent notification %s: %w", n.ID, err)
	}
	if !changed {
		o.Logger.Warn().
			Str("notification_id", n.ID.String()).
			Msg("notification left created while dispatch was in flight")
	}
	return nil
}

func (o *Orchestrator) finish(ctx context.Context, n notification.Notification) {
	if err := o.Stats.InitialDispatch(ctx, n); err != nil {
		o.Logger.Error().Err(err).Str("notification_id", n.ID.String()).Msg("failed to emit dispatch event")
	}

	dispatchCounter.WithLabelValues(string(n.Channel), n.SentBy).Inc()
	sendLatency.WithLabelValues(string(n.Channel)).Observe(time.Since(n.CreatedAt).Seconds())

	o.Logger.Info().
		Str("notification_id", n.ID.String()).
		Str("provider", n.SentBy).
		Str("status", string(n.Status)).
		Int("billable_units", n.BillableUnits).
		Msgf("%s sent to provider", n.Channel)
}
