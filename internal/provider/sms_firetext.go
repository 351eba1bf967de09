package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type FiretextClient struct {
	Endpoint string
	APIKey   string
	Client   *http.Client
}

func (c *FiretextClient) Name() string { return "firetext" }

func (c *FiretextClient) SendSMS(ctx context.Context, to, content, reference, sender string) error {
	form := url.Values{}
	form.Set("apiKey", c.APIKey)
	form.Set("from", sender)
	form.Set("to", to)
	form.Set("message", content)
	form.Set("reference", reference)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint+"/api/sendsms", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

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
		return fmt.Errorf("firetext temporary error: %s", resp.Status)
	}
	if resp.StatusCode >= 400 {
		return backoff.Permanent(fmt.Errorf("firetext permanent error: %s", resp.Status))
	}
	return nil
}
