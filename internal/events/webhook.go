package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const (
	webhookTimeout     = 5 * time.Second
	webhookMaxAttempts = 3
	webhookRetryDelay  = 2 * time.Second
)

// WebhookSink POSTs each event as JSON to a configured endpoint. Delivery is
// at-most-once per attempt with a small bounded retry; persistent failures
// are logged and dropped.
type WebhookSink struct {
	url    string
	secret string
	http   *http.Client
	log    *slog.Logger

	attempts int
	delay    time.Duration
}

func NewWebhookSink(url, secret string, log *slog.Logger) *WebhookSink {
	return &WebhookSink{
		url:      url,
		secret:   secret,
		http:     &http.Client{Timeout: webhookTimeout},
		log:      log,
		attempts: webhookMaxAttempts,
		delay:    webhookRetryDelay,
	}
}

func (s *WebhookSink) Publish(ctx context.Context, e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		s.log.ErrorContext(ctx, "webhook marshal failed", "order_id", e.OrderID, "error", err)
		return
	}

	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				s.log.WarnContext(ctx, "webhook delivery abandoned", "order_id", e.OrderID, "error", ctx.Err())
				return
			case <-time.After(s.delay):
			}
		}
		if lastErr = s.send(ctx, payload); lastErr == nil {
			return
		}
	}
	s.log.ErrorContext(ctx, "webhook delivery failed",
		"order_id", e.OrderID,
		"event", string(e.Type),
		"attempts", s.attempts,
		"error", lastErr,
	)
}

func (s *WebhookSink) send(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.secret != "" {
		req.Header.Set("X-Signature", sign(s.secret, payload))
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
