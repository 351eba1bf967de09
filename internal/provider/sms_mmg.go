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

type MMGClient struct {
	Endpoint string
	APIKey   string
	Client   *http.Client
}

func (c *MMGClient) Name() string { return "mmg" }

func (c *MMGClient) SendSMS(ctx context.Context, to, content, reference, sender string) error {
	payload := map[string]any{
		"reqType": "BULK",
		"MSISDN":  to,
		"msg":     content,
		"sender":  sender,
		"cid":     reference,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint+"/api/usertext", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Basic "+c.APIKey)

	client := c.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("mmg temporary error: %s", resp.Status)
	}
	if resp.StatusCode >= 400 {
		return backoff.Permanent(fmt.Errorf("mmg permanent error: %s", resp.Status))
	}
	return nil
}
