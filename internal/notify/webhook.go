// Package notify implements the upload-completion pipeline: content
// digesting, duplicate suppression, event persistence and webhook delivery.
package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dropgate/dropgate/internal/metrics"
)

// ErrDeliveryFailed is returned when a webhook endpoint answers with a
// non-success status or cannot be reached within the timeout.
var ErrDeliveryFailed = errors.New("webhook delivery failed")

// WebhookPayload is the JSON document POSTed to an account's callback
// endpoint for each completed upload.
type WebhookPayload struct {
	ID         string    `json:"id"`
	AccountID  string    `json:"accountId"`
	FilePath   string    `json:"filePath"`
	FileSize   int64     `json:"fileSize"`
	SHA256     string    `json:"sha256"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// WebhookDispatcher performs outbound deliveries. TLS strictness is scoped
// to this dispatcher's transport; it never touches process-wide TLS state.
type WebhookDispatcher struct {
	client *http.Client
}

// NewWebhookDispatcher builds a dispatcher with the given delivery timeout.
// insecureTLS relaxes certificate validation for outbound calls only.
func NewWebhookDispatcher(insecureTLS bool, timeout time.Duration) *WebhookDispatcher {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if insecureTLS {
		if transport.TLSClientConfig == nil {
			transport.TLSClientConfig = &tls.Config{}
		}
		transport.TLSClientConfig.InsecureSkipVerify = true
	}
	return &WebhookDispatcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
	}
}

// Deliver POSTs the payload as JSON. Any non-2xx response, transport error
// or timeout is ErrDeliveryFailed.
func (d *WebhookDispatcher) Deliver(ctx context.Context, url string, payload WebhookPayload) error {
	start := time.Now()
	err := d.deliver(ctx, url, payload)
	if err != nil {
		metrics.RecordWebhookDelivery("failed", time.Since(start))
		return err
	}
	metrics.RecordWebhookDelivery("ok", time.Since(start))
	return nil
}

func (d *WebhookDispatcher) deliver(ctx context.Context, url string, payload WebhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrDeliveryFailed, resp.StatusCode)
	}
	return nil
}
