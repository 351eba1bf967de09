package callback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/example/notify/internal/notification"
)

type fakeStore struct {
	notification.Store
	notifications map[string]notification.Notification
	updates       int
}

func newFakeStore() *fakeStore {
	return &fakeStore{notifications: map[string]notification.Notification{}}
}

func (s *fakeStore) add(status notification.Status, reference string) notification.Notification {
	sentAt := time.Now().UTC().Add(-time.Minute)
	n := notification.Notification{
		ID:        uuid.New(),
		Channel:   notification.ChannelEmail,
		Status:    status,
		Reference: reference,
		SentAt:    &sentAt,
	}
	s.notifications[reference] = n
	return n
}

func (s *fakeStore) UpdateStatusByReference(ctx context.Context, reference string, status notification.Status) (notification.Notification, bool, error) {
	n, ok := s.notifications[reference]
	if !ok {
		return notification.Notification{}, false, nil
	}
	if n.Status != notification.StatusSending && n.Status != notification.StatusSent {
		return notification.Notification{}, false, nil
	}
	n.Status = status
	s.notifications[reference] = n
	s.updates++
	return n, true, nil
}

type fakeStats struct {
	outcomes int
}

func (s *fakeStats) Outcome(ctx context.Context, n notification.Notification) error {
	s.outcomes++
	return nil
}

func newReconciler(store *fakeStore, stats *fakeStats) *Reconciler {
	return &Reconciler{Store: store, Stats: stats, Logger: zerolog.Nop()}
}

func sesPayload(t *testing.T, message map[string]any) []byte {
	t.Helper()
	inner, err := json.Marshal(message)
	if err != nil {
		t.Fatalf("marshal inner message: %v", err)
	}
	outer, err := json.Marshal(map[string]string{"Message": string(inner)})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return outer
}

func bouncePayload(t *testing.T, reference, bounceType string) []byte {
	return sesPayload(t, map[string]any{
		"notificationType": "Bounce",
		"mail":             map[string]any{"messageId": reference},
		"bounce":           map[string]any{"bounceType": bounceType},
	})
}

func TestProcessSESDelivery(t *testing.T) {
	store := newFakeStore()
	stats := &fakeStats{}
	store.add(notification.StatusSending, "ref-1")

	payload := sesPayload(t, map[string]any{
		"notificationType": "Delivery",
		"mail":             map[string]any{"messageId": "ref-1"},
	})
	if err := newReconciler(store, stats).ProcessSES(context.Background(), payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := store.notifications["ref-1"].Status; got != notification.StatusDelivered {
		t.Fatalf("expected delivered, got %s", got)
	}
	if stats.outcomes != 1 {
		t.Fatalf("expected one outcome event, got %d", stats.outcomes)
	}
}

func TestProcessSESPermanentBounceIsIdempotent(t *testing.T) {
	store := newFakeStore()
	stats := &fakeStats{}
	store.add(notification.StatusSending, "ref-2")
	r := newReconciler(store, stats)

	payload := bouncePayload(t, "ref-2", "Permanent")
	if err := r.ProcessSES(context.Background(), payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := store.notifications["ref-2"].Status; got != notification.StatusPermanentFailure {
		t.Fatalf("expected permanent-failure, got %s", got)
	}

	// The identical callback again is success with no further transition.
	if err := r.ProcessSES(context.Background(), payload); err != nil {
		t.Fatalf("duplicate callback should succeed: %v", err)
	}
	if store.updates != 1 {
		t.Fatalf("expected exactly one update, got %d", store.updates)
	}
	if got := store.notifications["ref-2"].Status; got != notification.StatusPermanentFailure {
		t.Fatalf("status changed on duplicate callback: %s", got)
	}
}

func TestProcessSESNonPermanentBouncesAreTemporary(t *testing.T) {
	for _, bounceType := range []string{"Transient", "Undetermined", ""} {
		t.Run("bounce "+bounceType, func(t *testing.T) {
			store := newFakeStore()
			store.add(notification.StatusSent, "ref-3")

			err := newReconciler(store, &fakeStats{}).ProcessSES(context.Background(), bouncePayload(t, "ref-3", bounceType))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := store.notifications["ref-3"].Status; got != notification.StatusTemporaryFailure {
				t.Fatalf("expected temporary-failure, got %s", got)
			}
		})
	}
}

func TestProcessSESUnknownReferenceIsSuccess(t *testing.T) {
	store := newFakeStore()
	existing := store.add(notification.StatusSending, "ref-4")

	payload := sesPayload(t, map[string]any{
		"notificationType": "Delivery",
		"mail":             map[string]any{"messageId": "never-seen"},
	})
	if err := newReconciler(store, &fakeStats{}).ProcessSES(context.Background(), payload); err != nil {
		t.Fatalf("unknown reference must not be an error: %v", err)
	}
	if got := store.notifications[existing.Reference].Status; got != notification.StatusSending {
		t.Fatalf("existing notifications must be untouched, got %s", got)
	}
}

func TestProcessSESCallbackBeforeDispatchIsNoOp(t *testing.T) {
	store := newFakeStore()
	store.add(notification.StatusCreated, "ref-5")

	payload := sesPayload(t, map[string]any{
		"notificationType": "Delivery",
		"mail":             map[string]any{"messageId": "ref-5"},
	})
	if err := newReconciler(store, &fakeStats{}).ProcessSES(context.Background(), payload); err != nil {
		t.Fatalf("early callback must not be an error: %v", err)
	}
	if got := store.notifications["ref-5"].Status; got != notification.StatusCreated {
		t.Fatalf("created notification must not transition, got %s", got)
	}
}

func TestProcessSESMissingFields(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		fields  []string
	}{
		{"missing Message", []byte(`{}`), []string{"Message"}},
		{
			"missing notificationType",
			sesPayload(t, map[string]any{"mail": map[string]any{"messageId": "x"}}),
			[]string{"notificationType"},
		},
		{
			"missing messageId",
			sesPayload(t, map[string]any{"notificationType": "Delivery"}),
			[]string{"messageId"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := newReconciler(newFakeStore(), &fakeStats{}).ProcessSES(context.Background(), tc.payload)
			var validation *ValidationError
			if !errors.As(err, &validation) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if fmt.Sprint(validation.Fields) != fmt.Sprint(tc.fields) {
				t.Fatalf("expected fields %v, got %v", tc.fields, validation.Fields)
			}
		})
	}
}

func TestProcessSESUnknownStatus(t *testing.T) {
	payload := sesPayload(t, map[string]any{
		"notificationType": "Rendered",
		"mail":             map[string]any{"messageId": "ref-6"},
	})
	err := newReconciler(newFakeStore(), &fakeStats{}).ProcessSES(context.Background(), payload)
	var unknown *UnknownStatusError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownStatusError, got %v", err)
	}
	if unknown.Status != "Rendered" {
		t.Fatalf("error should carry the unknown status, got %q", unknown.Status)
	}
}

func TestProcessSESInvalidJSON(t *testing.T) {
	err := newReconciler(newFakeStore(), &fakeStats{}).ProcessSES(context.Background(), []byte("not json"))
	if err == nil {
		t.Fatal("expected error for invalid json")
	}
}

func TestProcessSMSDeliveryReport(t *testing.T) {
	tests := []struct {
		provider string
		status   string
		want     notification.Status
	}{
		{"mmg", "2", notification.StatusPermanentFailure},
		{"mmg", "3", notification.StatusDelivered},
		{"mmg", "4", notification.StatusTemporaryFailure},
		{"mmg", "5", notification.StatusPermanentFailure},
		{"firetext", "0", notification.StatusDelivered},
		{"firetext", "1", notification.StatusPermanentFailure},
		{"firetext", "2", notification.StatusTemporaryFailure},
	}

	for _, tc := range tests {
		t.Run(tc.provider+" status "+tc.status, func(t *testing.T) {
			store := newFakeStore()
			store.add(notification.StatusSending, "sms-ref")

			err := newReconciler(store, &fakeStats{}).ProcessSMS(context.Background(), tc.provider, SMSReport{
				Reference: "sms-ref",
				Status:    tc.status,
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := store.notifications["sms-ref"].Status; got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestProcessSMSUnknownStatusCode(t *testing.T) {
	err := newReconciler(newFakeStore(), &fakeStats{}).ProcessSMS(context.Background(), "mmg", SMSReport{
		Reference: "sms-ref",
		Status:    "99",
	})
	var unknown *UnknownStatusError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownStatusError, got %v", err)
	}
}

func TestProcessSMSMissingFields(t *testing.T) {
	err := newReconciler(newFakeStore(), &fakeStats{}).ProcessSMS(context.Background(), "mmg", SMSReport{})
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(validation.Fields) != 2 {
		t.Fatalf("expected both fields reported, got %v", validation.Fields)
	}
}
