package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Phathdt/pmm-sub001/internal/metrics"
)

// AlertType categorizes an operator notification.
type AlertType string

const (
	AlertTypeStuck            AlertType = "REBALANCE_STUCK"
	AlertTypeSlippageHigh     AlertType = "SLIPPAGE_HIGH"
	AlertTypeSlippageExceeded AlertType = "SLIPPAGE_EXCEEDED"
	AlertTypeTransferFailed   AlertType = "TRANSFER_FAILED"
	AlertTypeSwapFailed       AlertType = "SWAP_FAILED"
	AlertTypeDepositUnknown   AlertType = "DEPOSIT_UNKNOWN"
)

const channelTimeout = 10 * time.Second

// Alert is a single notification. Subject identifies the entity the alert is
// about (rebalancing id, trade id) and scopes the cooldown.
type Alert struct {
	Type    AlertType
	Subject string
	Title   string
	Message string
	Fields  map[string]string
}

func (a Alert) dedupKey() string {
	return string(a.Type) + ":" + a.Subject
}

type Alerter interface {
	Send(ctx context.Context, alert Alert) error
}

type channel struct {
	name string
	Alerter
}

// MultiAlerter fans out to several channels and suppresses repeats of the
// same (type, subject) inside the cooldown window.
type MultiAlerter struct {
	channels []channel
	cooldown time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time
}

func NewMultiAlerter(cooldown time.Duration, logger *slog.Logger, alerters ...Alerter) *MultiAlerter {
	channels := make([]channel, 0, len(alerters))
	for _, a := range alerters {
		channels = append(channels, channel{name: channelName(a), Alerter: a})
	}
	return &MultiAlerter{
		channels: channels,
		cooldown: cooldown,
		now:      time.Now,
		logger:   logger.With("component", "alerter"),
		lastSent: make(map[string]time.Time),
	}
}

// reserve records a send for key unless one happened within the cooldown.
// Expired entries are dropped on the way.
func (m *MultiAlerter) reserve(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for k, at := range m.lastSent {
		if now.Sub(at) >= m.cooldown {
			delete(m.lastSent, k)
		}
	}
	if _, recent := m.lastSent[key]; recent {
		return false
	}
	m.lastSent[key] = now
	return true
}

// Send delivers to every channel and returns the first delivery error.
func (m *MultiAlerter) Send(ctx context.Context, alert Alert) error {
	if !m.reserve(alert.dedupKey()) {
		m.logger.Debug("alert suppressed by cooldown", "type", alert.Type, "subject", alert.Subject)
		for _, ch := range m.channels {
			metrics.AlertsCooldownSkipped.WithLabelValues(ch.name, string(alert.Type)).Inc()
		}
		return nil
	}

	var firstErr error
	for _, ch := range m.channels {
		err := ch.Send(ctx, alert)
		if err == nil {
			metrics.AlertsSentTotal.WithLabelValues(ch.name, string(alert.Type)).Inc()
			continue
		}
		m.logger.Warn("alert send failed", "channel", ch.name, "type", alert.Type, "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func channelName(a Alerter) string {
	switch a.(type) {
	case *SlackAlerter:
		return "slack"
	case *WebhookAlerter:
		return "webhook"
	case *NoopAlerter:
		return "noop"
	}
	return "unknown"
}

var slackEmoji = map[AlertType]string{
	AlertTypeStuck:            ":rotating_light:",
	AlertTypeSlippageExceeded: ":no_entry:",
	AlertTypeTransferFailed:   ":x:",
	AlertTypeSwapFailed:       ":x:",
	AlertTypeDepositUnknown:   ":rotating_light:",
}

// SlackAlerter posts to a Slack incoming webhook.
type SlackAlerter struct {
	webhookURL string
	client     *http.Client
}

func NewSlackAlerter(webhookURL string) *SlackAlerter {
	return &SlackAlerter{webhookURL: webhookURL, client: &http.Client{Timeout: channelTimeout}}
}

func (s *SlackAlerter) Send(ctx context.Context, alert Alert) error {
	emoji, ok := slackEmoji[alert.Type]
	if !ok {
		emoji = ":warning:"
	}

	lines := []string{
		fmt.Sprintf("%s *[%s]* %s: %s", emoji, alert.Type, alert.Subject, alert.Title),
		alert.Message,
	}
	for _, k := range sortedKeys(alert.Fields) {
		lines = append(lines, fmt.Sprintf("- *%s*: %s", k, alert.Fields[k]))
	}

	msg := struct {
		Text string `json:"text"`
	}{Text: strings.Join(lines, "\n")}
	return deliver(ctx, s.client, "slack", s.webhookURL, msg)
}

type webhookPayload struct {
	Type    AlertType         `json:"type"`
	Subject string            `json:"subject"`
	Title   string            `json:"title"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	Time    string            `json:"time"`
}

// WebhookAlerter posts the alert as JSON to a generic endpoint.
type WebhookAlerter struct {
	url    string
	client *http.Client
}

func NewWebhookAlerter(url string) *WebhookAlerter {
	return &WebhookAlerter{url: url, client: &http.Client{Timeout: channelTimeout}}
}

func (w *WebhookAlerter) Send(ctx context.Context, alert Alert) error {
	return deliver(ctx, w.client, "webhook", w.url, webhookPayload{
		Type:    alert.Type,
		Subject: alert.Subject,
		Title:   alert.Title,
		Message: alert.Message,
		Fields:  alert.Fields,
		Time:    time.Now().UTC().Format(time.RFC3339),
	})
}

// deliver POSTs payload as JSON and treats any non-2xx answer as a failure.
func deliver(ctx context.Context, client *http.Client, name, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: encode payload: %w", name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: post: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("%s: status %d: %s", name, resp.StatusCode, strings.TrimSpace(string(excerpt)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// NoopAlerter is used when no channel is configured.
type NoopAlerter struct{}

func (n *NoopAlerter) Send(_ context.Context, _ Alert) error { return nil }
