package callback

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/example/notify/internal/notification"
)

func newTestServer(store *fakeStore) http.Handler {
	s := &Server{
		Reconciler: newReconciler(store, &fakeStats{}),
		Logger:     zerolog.Nop(),
	}
	return s.Router()
}

func TestEmailCallbackEndpoint(t *testing.T) {
	store := newFakeStore()
	store.add(notification.StatusSending, "ref-http")
	handler := newTestServer(store)

	payload := string(bouncePayload(t, "ref-http", "Permanent"))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/notifications/email/ses", strings.NewReader(payload))
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["result"] != "success" {
		t.Fatalf("expected success result, got %v", body)
	}
	if got := store.notifications["ref-http"].Status; got != notification.StatusPermanentFailure {
		t.Fatalf("expected permanent-failure, got %s", got)
	}

	// Re-posting the identical payload succeeds without a second transition.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/notifications/email/ses", strings.NewReader(payload))
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("duplicate callback should return 200, got %d", rec.Code)
	}
	if store.updates != 1 {
		t.Fatalf("expected one update total, got %d", store.updates)
	}
}

func TestEmailCallbackUnknownReferenceReturnsSuccess(t *testing.T) {
	store := newFakeStore()
	handler := newTestServer(store)

	payload := `{"Message": "{\"notificationType\": \"Delivery\", \"mail\": {\"messageId\": \"missing\"}}"}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/notifications/email/ses", strings.NewReader(payload))
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for unknown reference, got %d", rec.Code)
	}
}

func TestEmailCallbackValidationFailure(t *testing.T) {
	handler := newTestServer(newFakeStore())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/notifications/email/ses", strings.NewReader(`{}`))
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body struct {
		Errors []struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Errors) != 1 || body.Errors[0].Error != "ValidationError" {
		t.Fatalf("unexpected error body: %s", rec.Body.String())
	}
	if !strings.Contains(body.Errors[0].Message, "Message missing") {
		t.Fatalf("error should name the missing field: %s", body.Errors[0].Message)
	}
}

func TestEmailCallbackUnsupportedProvider(t *testing.T) {
	handler := newTestServer(newFakeStore())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/notifications/email/sendgrid", strings.NewReader(`{}`))
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unsupported provider, got %d", rec.Code)
	}
}

func TestSMSCallbackEndpoint(t *testing.T) {
	store := newFakeStore()
	store.add(notification.StatusSending, "sms-http")
	handler := newTestServer(store)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/notifications/sms/mmg", strings.NewReader(`{"reference":"sms-http","status":"3"}`))
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := store.notifications["sms-http"].Status; got != notification.StatusDelivered {
		t.Fatalf("expected delivered, got %s", got)
	}
}
