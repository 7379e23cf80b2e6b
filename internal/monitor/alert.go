package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultAlertTimeout = 5 * time.Second
	maxErrorBodySize    = 4096
)

// ErrAlertRejected indicates the alert webhook returned a non-success status.
var ErrAlertRejected = errors.New("alert webhook rejected request")

// Alert is one outbound notification for an unreachable backend. The two
// links point at the relay's remediation endpoints.
type Alert struct {
	ProjectID  string    `json:"projectId"`
	Reason     string    `json:"reason"`
	Suggestion string    `json:"suggestion"`
	ApplyURL   string    `json:"applyUrl"`
	IgnoreURL  string    `json:"ignoreUrl"`
	DetectedAt time.Time `json:"detectedAt"`
}

// Alerter dispatches alerts.
type Alerter interface {
	SendAlert(ctx context.Context, alert Alert) error
}

// WebhookAlerter posts alerts as JSON to a configured webhook URL.
type WebhookAlerter struct {
	webhookURL    string
	publicBaseURL string
	token         string
	client        *http.Client
}

// NewWebhookAlerter builds an alerter. publicBaseURL is the externally
// reachable base of the relay, used to construct the action links.
func NewWebhookAlerter(webhookURL, publicBaseURL, token string, client *http.Client) (*WebhookAlerter, error) {
	webhookURL = strings.TrimSpace(webhookURL)
	if webhookURL == "" {
		return nil, errors.New("alert webhook url required")
	}
	publicBaseURL = strings.TrimRight(strings.TrimSpace(publicBaseURL), "/")
	if publicBaseURL == "" {
		return nil, errors.New("alert public base url required")
	}
	if client == nil {
		client = &http.Client{Timeout: defaultAlertTimeout}
	} else if client.Timeout == 0 {
		client.Timeout = defaultAlertTimeout
	}
	return &WebhookAlerter{
		webhookURL:    webhookURL,
		publicBaseURL: publicBaseURL,
		token:         strings.TrimSpace(token),
		client:        client,
	}, nil
}

var _ Alerter = (*WebhookAlerter)(nil)

// SendAlert fills in the action links and posts the alert.
func (a *WebhookAlerter) SendAlert(ctx context.Context, alert Alert) error {
	if strings.TrimSpace(alert.ProjectID) == "" {
		return errors.New("alert requires project id")
	}
	query := url.Values{"projectId": []string{alert.ProjectID}}.Encode()
	alert.ApplyURL = a.publicBaseURL + "/apply-fix?" + query
	alert.IgnoreURL = a.publicBaseURL + "/ignore-fix?" + query

	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("X-Alert-Token", a.token)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("send alert request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		limited := io.LimitReader(resp.Body, maxErrorBodySize)
		buf, _ := io.ReadAll(limited)
		summary := strings.TrimSpace(string(buf))
		if summary == "" {
			summary = resp.Status
		}
		return fmt.Errorf("%w: %s", ErrAlertRejected, summary)
	}
	return nil
}
