package monitor

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestWebhookAlerterSendsActionLinks(t *testing.T) {
	var received Alert
	var gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Alert-Token")
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &received); err != nil {
			t.Errorf("decode alert: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	alerter, err := NewWebhookAlerter(srv.URL, "https://relay.example.com/", "hook-token", srv.Client())
	if err != nil {
		t.Fatalf("NewWebhookAlerter: %v", err)
	}

	alert := Alert{
		ProjectID:  "acme",
		Reason:     "Memory exhaustion",
		Suggestion: "Restart container with more memory",
		DetectedAt: time.Now().UTC(),
	}
	if err := alerter.SendAlert(context.Background(), alert); err != nil {
		t.Fatalf("SendAlert: %v", err)
	}

	if gotToken != "hook-token" {
		t.Fatalf("token header = %q", gotToken)
	}
	if received.ApplyURL != "https://relay.example.com/apply-fix?projectId=acme" {
		t.Fatalf("apply url = %q", received.ApplyURL)
	}
	if received.IgnoreURL != "https://relay.example.com/ignore-fix?projectId=acme" {
		t.Fatalf("ignore url = %q", received.IgnoreURL)
	}
	if received.Reason != "Memory exhaustion" {
		t.Fatalf("reason = %q", received.Reason)
	}
}

func TestWebhookAlerterRejectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	alerter, err := NewWebhookAlerter(srv.URL, "https://relay.example.com", "", srv.Client())
	if err != nil {
		t.Fatalf("NewWebhookAlerter: %v", err)
	}
	err = alerter.SendAlert(context.Background(), Alert{ProjectID: "acme"})
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	if !strings.Contains(err.Error(), "bad payload") {
		t.Fatalf("error should carry response summary, got %v", err)
	}
}

func TestWebhookAlerterRequiresProjectID(t *testing.T) {
	alerter, err := NewWebhookAlerter("https://hooks.example.com/x", "https://relay.example.com", "", nil)
	if err != nil {
		t.Fatalf("NewWebhookAlerter: %v", err)
	}
	if err := alerter.SendAlert(context.Background(), Alert{}); err == nil {
		t.Fatal("expected error for missing project id")
	}
}

func TestNewWebhookAlerterValidation(t *testing.T) {
	if _, err := NewWebhookAlerter("", "https://relay.example.com", "", nil); err == nil {
		t.Fatal("expected error for empty webhook url")
	}
	if _, err := NewWebhookAlerter("https://hooks.example.com/x", "", "", nil); err == nil {
		t.Fatal("expected error for empty public base url")
	}
}
