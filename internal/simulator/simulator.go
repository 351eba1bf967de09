// Package simulator produces the canonical success callbacks for
// research-mode and test-key traffic. Instead of contacting a provider, it
// posts the same delivery report a real provider would, so simulated traffic
// exercises the full reconciliation path.
package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type HTTPResponder struct {
	CallbackBaseURL string
	Client          *http.Client
}

func (r *HTTPResponder) SMSResponse(ctx context.Context, providerName, reference, to string) error {
	var status string
	switch providerName {
	case "mmg":
		status = "3"
	case "firetext":
		status = "0"
	default:
		return fmt.Errorf("no simulated sms response for provider %s", providerName)
	}
	payload := map[string]string{
		"reference": reference,
		"status":    status,
	}
	return r.post(ctx, fmt.Sprintf("%s/notifications/sms/%s", r.CallbackBaseURL, providerName), payload)
}

func (r *HTTPResponder) EmailResponse(ctx context.Context, providerName, reference, to string) error {
	message := map[string]any{
		"notificationType": "Delivery",
		"mail": map[string]any{
			"messageId":   reference,
			"destination": []string{to},
		},
	}
	inner, err := json.Marshal(message)
	if err != nil {
		return err
	}
	payload := map[string]string{
		"Message": string(inner),
	}
	return r.post(ctx, fmt.Sprintf("%s/notifications/email/%s", r.CallbackBaseURL, providerName), payload)
}

func (r *HTTPResponder) post(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := r.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("simulated callback rejected: %s", resp.Status)
	}
	return nil
}
