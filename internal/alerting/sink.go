package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"payment-failure-alerts/internal/storage"
)

// Sink 定义告警投递接口。Delivery failures are the caller's to log; the
// core never retries.
type Sink interface {
	Deliver(ctx context.Context, alert storage.AlertRecord) error
}

// WebhookSink 通过 HTTP POST 推送告警 JSON。
type WebhookSink struct {
	url    string
	client *http.Client
	logger zerolog.Logger
}

// NewWebhookSink constructs a webhook delivery sink.
func NewWebhookSink(url string, timeout time.Duration, logger zerolog.Logger) *WebhookSink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &WebhookSink{
		url:    strings.TrimRight(url, "/"),
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "alert_webhook").Logger(),
	}
}

type webhookPayload struct {
	ID         string            `json:"id"`
	Rule       string            `json:"rule"`
	Severity   string            `json:"severity"`
	Message    string            `json:"message"`
	Gateway    string            `json:"gateway,omitempty"`
	ErrorCode  string            `json:"error_code,omitempty"`
	Thresholds map[string]string `json:"thresholds,omitempty"`
	FailureIDs []int64           `json:"failure_ids,omitempty"`
	FiredAt    time.Time         `json:"fired_at"`
}

// Deliver posts the alert record as JSON and checks for a 2xx response.
func (s *WebhookSink) Deliver(ctx context.Context, alert storage.AlertRecord) error {
	payload := webhookPayload{
		ID:         alert.ID,
		Rule:       alert.Rule,
		Severity:   alert.Severity,
		Message:    alert.Message,
		Gateway:    alert.Gateway,
		ErrorCode:  alert.ErrorCode,
		Thresholds: alert.Thresholds,
		FailureIDs: alert.FailureIDs,
		FiredAt:    alert.FiredAt.UTC(),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook 响应码异常: %d", resp.StatusCode)
	}

	s.logger.Info().Str("rule", alert.Rule).
		Str("severity", alert.Severity).
		Str("gateway", alert.Gateway).
		Msg("告警已发送 (webhook)")
	return nil
}

var _ Sink = (*WebhookSink)(nil)
