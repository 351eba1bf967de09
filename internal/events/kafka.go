// Package events publishes notification state-change events for the
// statistics collaborator.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/notify/internal/notification"
)

type KafkaHook struct {
	Writer *kafka.Writer
}

func (h *KafkaHook) InitialDispatch(ctx context.Context, n notification.Notification) error {
	return h.emit(ctx, "initial-dispatch", n, 0)
}

func (h *KafkaHook) Outcome(ctx context.Context, n notification.Notification) error {
	var elapsed time.Duration
	if n.SentAt != nil {
		elapsed = time.Since(*n.SentAt)
	}
	return h.emit(ctx, "outcome", n, elapsed)
}

func (h *KafkaHook) emit(ctx context.Context, kind string, n notification.Notification, elapsed time.Duration) error {
	event := map[string]any{
		"event":           kind,
		"notification_id": n.ID,
		"tenant_id":       n.TenantID,
		"channel":         n.Channel,
		"status":          n.Status,
		"provider":        n.SentBy,
		"billable_units":  n.BillableUnits,
		"emitted_at":      time.Now().UTC(),
	}
	if elapsed > 0 {
		event["elapsed_ms"] = elapsed.Milliseconds()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", kind, err)
	}
	return h.Writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(n.ID.String()),
		Value: payload,
	})
}
