package siteguard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// AlertDispatcher fans an alert out to every registered sender. Delivery is
// asynchronous so enforcement code never blocks on a slow webhook.
type AlertDispatcher struct {
	mu      sync.RWMutex
	senders []AlertSender
	webhook AlertSender
	logger  Logger
	timeout time.Duration
}

func NewAlertDispatcher(logger Logger) *AlertDispatcher {
	return &AlertDispatcher{
		logger:  logger,
		timeout: 10 * time.Second,
	}
}

func (d *AlertDispatcher) Register(sender AlertSender) {
	if sender == nil {
		return
	}
	d.mu.Lock()
	d.senders = append(d.senders, sender)
	d.mu.Unlock()
}

// SetWebhook installs or replaces the webhook sender. Kept in its own slot
// so configuration reloads swap the endpoint instead of stacking senders.
// An empty URL removes the webhook.
func (d *AlertDispatcher) SetWebhook(url string) {
	d.mu.Lock()
	if url == "" {
		d.webhook = nil
	} else {
		d.webhook = NewWebhookAlertSender(url)
	}
	d.mu.Unlock()
}

// Dispatch delivers the alert to every sender on its own goroutine. Errors
// are logged, never propagated to the caller.
func (d *AlertDispatcher) Dispatch(alert Alert) {
	if alert.At.IsZero() {
		alert.At = time.Now()
	}
	d.mu.RLock()
	senders := make([]AlertSender, len(d.senders), len(d.senders)+1)
	copy(senders, d.senders)
	if d.webhook != nil {
		senders = append(senders, d.webhook)
	}
	d.mu.RUnlock()

	for _, sender := range senders {
		go func(s AlertSender) {
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			defer cancel()
			if err := s.Send(ctx, alert); err != nil && d.logger != nil {
				d.logger.Warn("alert delivery failed", map[string]any{
					"sender": s.Name(),
					"topic":  alert.Topic,
					"error":  err.Error(),
				})
			}
		}(sender)
	}
}

// LogAlertSender writes alerts to the structured log. Always registered so
// operators see alerts even without a webhook configured.
type LogAlertSender struct {
	logger Logger
}

func NewLogAlertSender(logger Logger) *LogAlertSender {
	return &LogAlertSender{logger: logger}
}

func (s *LogAlertSender) Name() string { return "log" }

func (s *LogAlertSender) Send(_ context.Context, alert Alert) error {
	if s.logger == nil {
		return nil
	}
	fields := map[string]any{
		"topic":   alert.Topic,
		"message": alert.Message,
	}
	for k, v := range alert.Details {
		fields[k] = v
	}
	s.logger.Warn("security alert", fields)
	return nil
}

// WebhookAlertSender POSTs alerts as JSON to an operator-supplied endpoint.
type WebhookAlertSender struct {
	url    string
	client *http.Client
}

func NewWebhookAlertSender(url string) *WebhookAlertSender {
	return &WebhookAlertSender{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (s *WebhookAlertSender) Name() string { return "webhook" }

func (s *WebhookAlertSender) Send(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
