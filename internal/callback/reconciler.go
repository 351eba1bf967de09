package callback

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/example/notify/internal/notification"
)

var (
	callbackCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provider_callbacks_total",
		Help: "Delivery callbacks reconciled, by provider and resulting status",
	}, []string{"provider", "status"})
	callbackLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "callback_elapsed_seconds",
		Help:    "Time between provider hand-off and delivery callback",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})
)

// Stats receives the outcome event consumed by the statistics collaborator.
type Stats interface {
	Outcome(ctx context.Context, n notification.Notification) error
}

// ValidationError reports the required fields missing from a callback payload.
type ValidationError struct {
	Client string
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s callback failed: %s missing", e.Client, strings.Join(e.Fields, ", "))
}

// UnknownStatusError marks a provider status code this core does not
// understand, which is a new status class rather than a malformed request.
type UnknownStatusError struct {
	Client string
	Status string
}

func (e *UnknownStatusError) Error() string {
	return fmt.Sprintf("%s callback failed: status %s not found", e.Client, e.Status)
}

type providerResponse struct {
	message string
	success bool
	status  notification.Status
}

var sesResponses = map[string]providerResponse{
	"Delivery":  {message: "Delivered", success: true, status: notification.StatusDelivered},
	"Permanent": {message: "Hard bounced", success: false, status: notification.StatusPermanentFailure},
	"Temporary": {message: "Soft bounced", success: false, status: notification.StatusTemporaryFailure},
	"Complaint": {message: "Complaint", success: true, status: notification.StatusDelivered},
}

// Delivery-report status codes per SMS provider.
var smsResponses = map[string]map[string]providerResponse{
	"mmg": {
		"2": {message: "Permanent failure", success: false, status: notification.StatusPermanentFailure},
		"3": {message: "Delivered", success: true, status: notification.StatusDelivered},
		"4": {message: "Temporary failure", success: false, status: notification.StatusTemporaryFailure},
		"5": {message: "Rejected", success: false, status: notification.StatusPermanentFailure},
	},
	"firetext": {
		"0": {message: "Delivered", success: true, status: notification.StatusDelivered},
		"1": {message: "Permanent failure", success: false, status: notification.StatusPermanentFailure},
		"2": {message: "Temporary failure", success: false, status: notification.StatusTemporaryFailure},
	},
}

type Reconciler struct {
	Store  notification.Store
	Stats  Stats
	Logger zerolog.Logger
}

// ProcessSES reconciles an SES delivery report delivered through SNS: the
// outer payload wraps the real message as a JSON string under "Message".
func (r *Reconciler) ProcessSES(ctx context.Context, body []byte) error {
	const client = "SES"

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("%s callback failed: invalid json", client)
	}
	if err := validateFields(client, envelope, "Message"); err != nil {
		return err
	}

	var inner string
	if err := json.Unmarshal(envelope["Message"], &inner); err != nil {
		return fmt.Errorf("%s callback failed: invalid json", client)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(inner), &fields); err != nil {
		return fmt.Errorf("%s callback failed: invalid json", client)
	}
	if err := validateFields(client, fields, "notificationType"); err != nil {
		return err
	}

	var message struct {
		NotificationType string `json:"notificationType"`
		Mail             struct {
			MessageID string `json:"messageId"`
		} `json:"mail"`
		Bounce struct {
			BounceType string `json:"bounceType"`
		} `json:"bounce"`
	}
	if err := json.Unmarshal([]byte(inner), &message); err != nil {
		return fmt.Errorf("%s callback failed: invalid json", client)
	}

	statusKey := message.NotificationType
	if statusKey == "Bounce" {
		// Every non-permanent bounce collapses to a single temporary class.
		if message.Bounce.BounceType == "Permanent" {
			statusKey = "Permanent"
		} else {
			statusKey = "Temporary"
		}
	}

	response, ok := sesResponses[statusKey]
	if !ok {
		return &UnknownStatusError{Client: client, Status: statusKey}
	}

	if message.Mail.MessageID == "" {
		return &ValidationError{Client: client, Fields: []string{"messageId"}}
	}

	return r.reconcile(ctx, "ses", message.Mail.MessageID, response)
}

// SMSReport is a normalised SMS delivery receipt.
type SMSReport struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

func (r *Reconciler) ProcessSMS(ctx context.Context, providerName string, report SMSReport) error {
	client := strings.ToUpper(providerName)

	var missing []string
	if report.Reference == "" {
		missing = append(missing, "reference")
	}
	if report.Status == "" {
		missing = append(missing, "status")
	}
	if len(missing) > 0 {
		return &ValidationError{Client: client, Fields: missing}
	}

	statuses, ok := smsResponses[providerName]
	if !ok {
		return fmt.Errorf("%s callback failed: unsupported provider", client)
	}
	response, ok := statuses[report.Status]
	if !ok {
		return &UnknownStatusError{Client: client, Status: report.Status}
	}

	return r.reconcile(ctx, providerName, report.Reference, response)
}

// reconcile applies the terminal status by provider reference. A missing
// reference means the callback is late, duplicated, or for a notification
// already resolved; that is success, not an error.
func (r *Reconciler) reconcile(ctx context.Context, providerName, reference string, response providerResponse) error {
	n, found, err := r.Store.UpdateStatusByReference(ctx, reference, response.status)
	if err != nil {
		return fmt.Errorf("update status by reference: %w", err)
	}
	if !found {
		r.Logger.Warn().
			Str("provider", providerName).
			Str("reference", reference).
			Str("status", string(response.status)).
			Msg("callback ignored: notification not found or already updated from sending")
		return nil
	}

	if response.success {
		r.Logger.Info().
			Str("notification_id", n.ID.String()).
			Str("reference", reference).
			Str("status", string(response.status)).
			Msg("delivery callback reconciled")
	} else {
		r.Logger.Info().
			Str("notification_id", n.ID.String()).
			Str("reference", reference).
			Str("message", response.message).
			Msg("delivery failed")
	}

	callbackCounter.WithLabelValues(providerName, string(response.status)).Inc()
	if n.SentAt != nil {
		callbackLatency.WithLabelValues(providerName).Observe(time.Since(*n.SentAt).Seconds())
	}

	if err := r.Stats.Outcome(ctx, n); err != nil {
		r.Logger.Error().Err(err).Str("notification_id", n.ID.String()).Msg("failed to emit outcome event")
	}
	return nil
}

func validateFields(client string, data map[string]json.RawMessage, required ...string) error {
	var missing []string
	for _, field := range required {
		if _, ok := data[field]; !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return &ValidationError{Client: client, Fields: missing}
	}
	return nil
}
