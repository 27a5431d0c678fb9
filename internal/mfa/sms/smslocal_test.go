package sms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewSMSLocalClient_Defaults(t *testing.T) {
	client := NewSMSLocalClient("api-key", "", "")
	if client.APIKey != "api-key" {
		t.Errorf("APIKey = %q, want %q", client.APIKey, "api-key")
	}
	if client.BaseURL != "https://www.smslocal.com/dev/bulkV2" {
		t.Errorf("BaseURL = %q, want default", client.BaseURL)
	}
	if client.HTTPClient == nil || client.HTTPClient.Timeout != defaultTimeout {
		t.Fatal("HTTPClient should be set with the default timeout")
	}
	if c := NewSMSLocalClient("k", "https://custom.sms.local/api", "TEST"); c.BaseURL != "https://custom.sms.local/api" || c.Sender != "TEST" {
		t.Errorf("custom base/sender not kept: %+v", c)
	}
}

func captureServer(t *testing.T, status int, reply string, got *map[string]interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want %q", r.Method, http.MethodPost)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", r.Header.Get("Content-Type"))
		}
		if r.Header.Get("Authorization") != "test-api-key" {
			t.Errorf("Authorization = %q, want test-api-key", r.Header.Get("Authorization"))
		}
		if got != nil {
			if err := json.NewDecoder(r.Body).Decode(got); err != nil {
				t.Errorf("Decode body: %v", err)
			}
		}
		w.WriteHeader(status)
		w.Write([]byte(reply))
	}))
}

func TestSendOTP_Success(t *testing.T) {
	var body map[string]interface{}
	server := captureServer(t, http.StatusOK, `{"status":"success"}`, &body)
	defer server.Close()

	client := NewSMSLocalClient("test-api-key", server.URL, "")
	if err := client.SendOTP(context.Background(), "1234567890", "123456"); err != nil {
		t.Fatalf("SendOTP: %v", err)
	}
	if body["route"] != "otp" || body["numbers"] != "1234567890" || body["variables"] != "123456" {
		t.Errorf("body = %v", body)
	}
	if _, ok := body["sender_id"]; ok {
		t.Error("sender_id should be omitted when no sender is configured")
	}
}

func TestSendText_WithSender(t *testing.T) {
	var body map[string]interface{}
	server := captureServer(t, http.StatusOK, `{}`, &body)
	defer server.Close()

	client := NewSMSLocalClient("test-api-key", server.URL, "AUTHGT")
	if err := client.SendText(context.Background(), "9876543210", "New sign-in"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if body["route"] != "q" || body["message"] != "New sign-in" || body["sender_id"] != "AUTHGT" {
		t.Errorf("body = %v", body)
	}
}

func TestSendOTP_MissingAPIKey(t *testing.T) {
	client := NewSMSLocalClient("", "", "")
	err := client.SendOTP(context.Background(), "1234567890", "123456")
	if err == nil {
		t.Fatal("expected error for missing API key")
	}
	if !strings.Contains(err.Error(), "API key not configured") {
		t.Errorf("error message = %q, want to contain 'API key not configured'", err.Error())
	}
}

func TestSendOTP_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		if ok {
			conn, _, _ := hj.Hijack()
			conn.Close()
		}
	}))
	defer server.Close()

	client := NewSMSLocalClient("api-key", server.URL, "")
	client.HTTPClient = &http.Client{Timeout: 1 * time.Millisecond}

	if err := client.SendOTP(context.Background(), "1234567890", "123456"); err == nil {
		t.Fatal("expected error for HTTP failure")
	}
}

func TestSendOTP_CancelledContext(t *testing.T) {
	server := captureServer(t, http.StatusOK, `{}`, nil)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := NewSMSLocalClient("test-api-key", server.URL, "")
	if err := client.SendOTP(ctx, "1234567890", "123456"); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestSendOTP_NonOKStatus(t *testing.T) {
	testCases := []struct {
		status   int
		reply    string
		wantText string
	}{
		{http.StatusBadRequest, `{"error":"invalid request"}`, "status=400"},
		{http.StatusInternalServerError, `{"error":"server error"}`, "status=500"},
	}
	for _, tc := range testCases {
		server := captureServer(t, tc.status, tc.reply, nil)
		client := NewSMSLocalClient("test-api-key", server.URL, "")
		err := client.SendOTP(context.Background(), "1234567890", "123456")
		server.Close()
		if err == nil {
			t.Fatalf("expected error for status %d", tc.status)
		}
		if !strings.Contains(err.Error(), tc.wantText) || !strings.Contains(err.Error(), "error") {
			t.Errorf("error message = %q, want to contain %q and the body", err.Error(), tc.wantText)
		}
	}
}
