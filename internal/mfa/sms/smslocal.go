// Package sms delivers OTP and security texts through the SMS Local HTTP API.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultTimeout = 15 * time.Second

// SMSLocalClient sends SMS via SMS Local API.
// See https://www.smslocal.in/help/otp-sms/ and https://www.smslocal.com/dev/bulkV2.
type SMSLocalClient struct {
	APIKey     string
	BaseURL    string
	Sender     string
	HTTPClient *http.Client
}

// NewSMSLocalClient returns a client that uses the given API key and optional base URL/sender.
func NewSMSLocalClient(apiKey, baseURL, sender string) *SMSLocalClient {
	if baseURL == "" {
		baseURL = "https://www.smslocal.com/dev/bulkV2"
	}
	return &SMSLocalClient{
		APIKey:     apiKey,
		BaseURL:    baseURL,
		Sender:     sender,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

// SendOTP sends the OTP to the given phone number (route=otp; the provider template holds the text).
// phone should be digits only (e.g. country code + number). Does not log the OTP.
func (c *SMSLocalClient) SendOTP(ctx context.Context, phone, otp string) error {
	return c.post(ctx, map[string]interface{}{
		"route":     "otp",
		"numbers":   phone,
		"variables": otp,
	})
}

// SendText sends a free-form transactional message (route=q), used for session-security notices.
func (c *SMSLocalClient) SendText(ctx context.Context, phone, message string) error {
	return c.post(ctx, map[string]interface{}{
		"route":   "q",
		"numbers": phone,
		"message": message,
	})
}

func (c *SMSLocalClient) post(ctx context.Context, body map[string]interface{}) error {
	if c.APIKey == "" {
		return fmt.Errorf("sms: API key not configured")
	}
	if c.Sender != "" {
		body["sender_id"] = c.Sender
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.APIKey)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("sms: request failed status=%d body=%s", resp.StatusCode, string(b))
	}
	return nil
}
