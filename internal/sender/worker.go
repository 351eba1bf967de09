// Package sender consumes queued notification ids and drives the dispatch
// orchestrator, owning the retry policy for failed attempts.
package sender

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/example/notify/internal/notification"
)

type QueuedNotification struct {
	NotificationID uuid.UUID            `json:"notification_id"`
	Channel        notification.Channel `json:"channel"`
}

type Dispatcher interface {
	SendSMS(ctx context.Context, id uuid.UUID) error
	SendEmail(ctx context.Context, id uuid.UUID) error
}

type Worker struct {
	ReaderFactory func() *kafka.Reader
	DLQWriter     *kafka.Writer
	Dispatcher    Dispatcher
	Logger        zerolog.Logger

	// MaxElapsed bounds retrying one notification before it goes to the DLQ.
	MaxElapsed time.Duration
}

func (w *Worker) Run(ctx context.Context) error {
	if w.Dispatcher == nil {
		return errors.New("sender worker requires a dispatcher")
	}
	reader := w.ReaderFactory()
	defer reader.Close()

	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			return fmt.Errorf("fetch message: %w", err)
		}

		var queued QueuedNotification
		if err := json.Unmarshal(m.Value, &queued); err != nil {
			w.Logger.Error().Err(err).Msg("failed to decode queued notification")
			_ = reader.CommitMessages(ctx, m)
			continue
		}

		if err := w.dispatchWithRetry(ctx, queued); err != nil {
			w.Logger.Error().
				Err(err).
				Str("notification_id", queued.NotificationID.String()).
				Msg("dispatch attempts exhausted, sending to DLQ")
			if err := w.writeDLQ(ctx, m.Value, queued); err != nil {
				return err
			}
		}

		if err := reader.CommitMessages(ctx, m); err != nil {
			return fmt.Errorf("commit message: %w", err)
		}
	}
}

func (w *Worker) dispatchWithRetry(ctx context.Context, queued QueuedNotification) error {
	op := backoff.NewExponentialBackOff()
	op.MaxElapsedTime = w.MaxElapsed
	if op.MaxElapsedTime == 0 {
		op.MaxElapsedTime = 30 * time.Second
	}
	return backoff.Retry(func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return w.dispatch(attemptCtx, queued)
	}, backoff.WithContext(op, ctx))
}

func (w *Worker) dispatch(ctx context.Context, queued QueuedNotification) error {
	switch queued.Channel {
	case notification.ChannelSMS:
		return w.Dispatcher.SendSMS(ctx, queued.NotificationID)
	case notification.ChannelEmail:
		return w.Dispatcher.SendEmail(ctx, queued.NotificationID)
	default:
		return backoff.Permanent(fmt.Errorf("unknown channel %q", queued.Channel))
	}
}

func (w *Worker) writeDLQ(ctx context.Context, original []byte, queued QueuedNotification) error {
	if err := w.DLQWriter.WriteMessages(ctx, kafka.Message{
		Key:   []byte(queued.NotificationID.String()),
		Value: original,
	}); err != nil {
		return fmt.Errorf("write dlq message: %w", err)
	}
	return nil
}
