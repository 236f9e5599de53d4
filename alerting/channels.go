package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/instantcocoa/pulse/pkg/cache"
)

// ConsoleChannel writes one rendered line per notification to a writer.
type ConsoleChannel struct {
	id  string
	mu  sync.Mutex
	out io.Writer
}

// NewConsoleChannel creates a console channel writing to out.
func NewConsoleChannel(id string, out io.Writer) *ConsoleChannel {
	return &ConsoleChannel{id: id, out: out}
}

func (c *ConsoleChannel) Notify(ctx context.Context, n Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := fmt.Fprintf(c.out, "[%s] %s severity=%s status=%s %s\n",
		n.Kind,
		n.Alert.CreatedAt.Format(time.RFC3339),
		n.Alert.Severity,
		n.Alert.Status,
		n.Alert.Message,
	)
	return err
}

// WebhookChannel POSTs the notification as JSON to a fixed URL.
type WebhookChannel struct {
	id     string
	url    string
	client *http.Client
}

// NewWebhookChannel creates a webhook channel. A zero timeout defaults
// to 5s; the notify context bounds each request as well.
func NewWebhookChannel(id, url string, timeout time.Duration) *WebhookChannel {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookChannel{
		id:     id,
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type webhookPayload struct {
	Kind        string    `json:"kind"`
	AlertID     string    `json:"alert_id"`
	Rule        string    `json:"rule"`
	Severity    string    `json:"severity"`
	Status      string    `json:"status"`
	Metric      string    `json:"metric"`
	Component   string    `json:"component,omitempty"`
	Value       float64   `json:"value"`
	Threshold   float64   `json:"threshold"`
	Message     string    `json:"message"`
	Fingerprint string    `json:"fingerprint"`
	CreatedAt   time.Time `json:"created_at"`
}

func (w *WebhookChannel) Notify(ctx context.Context, n Notification) error {
	payload := webhookPayload{
		Kind:        n.Kind,
		AlertID:     n.Alert.ID,
		Rule:        n.Alert.RuleName,
		Severity:    string(n.Alert.Severity),
		Status:      string(n.Alert.Status),
		Metric:      n.Alert.Metric,
		Component:   n.Alert.Component,
		Value:       n.Alert.Value,
		Threshold:   n.Alert.Threshold,
		Message:     n.Alert.Message,
		Fingerprint: n.Alert.Fingerprint,
		CreatedAt:   n.Alert.CreatedAt,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// RedisChannel publishes notifications as JSON on a Redis pub/sub channel.
type RedisChannel struct {
	id      string
	client  *cache.Client
	channel string
}

// NewRedisChannel creates a Redis channel publishing to the named pub/sub
// channel.
func NewRedisChannel(id string, client *cache.Client, channel string) *RedisChannel {
	return &RedisChannel{id: id, client: client, channel: channel}
}

func (r *RedisChannel) Notify(ctx context.Context, n Notification) error {
	body, err := json.Marshal(struct {
		Kind  string `json:"kind"`
		Alert Alert  `json:"alert"`
	}{Kind: n.Kind, Alert: n.Alert})
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, body).Err(); err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}
	return nil
}

var (
	_ Notifier = (*ConsoleChannel)(nil)
	_ Notifier = (*WebhookChannel)(nil)
	_ Notifier = (*RedisChannel)(nil)
)
