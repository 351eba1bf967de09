package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type SESClient struct {
	Endpoint string
	APIKey   string
	Client   *http.Client
}

func (c *SESClient) Name() string { return "ses" }

// SendEmail submits the message and returns the provider-assigned message id,
// which later delivery callbacks are keyed by.
func (c *SESClient) SendEmail(ctx context.Context, from, to, subject, body, htmlBody, replyTo string) (string, error) {
	payload := map[string]any{
		"from":      from,
		"to":        to,
		"subject":   subject,
		"text_body": body,
		"html_body": htmlBody,
	}
	if replyTo != "" {
		payload["reply_to"] = replyTo
	}
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint+"/v2/email/outbound-emails", bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.APIKey)

	client := c.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("ses temporary error: %s", resp.Status)
	}
	if resp.StatusCode >= 400 {
		return "", backoff.Permanent(fmt.Errorf("ses permanent error: %s", resp.Status))
	}

	var result struct {
		MessageID string `json:"MessageId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode ses response: %w", err)
	}
	if result.MessageID == "" {
		return "", fmt.Errorf("ses response missing MessageId")
	}
	return result.MessageID, nil
}
