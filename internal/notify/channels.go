// Package notify implements the notification channels alerts fan out to.
package notify

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
	"time"

	"agentwarden/internal/schema"
)

// TelegramChannel sends alerts to Telegram. Critical and emergency alerts
// go to the admin chat; everything else to the monitoring channel when one
// is configured.
type TelegramChannel struct {
	botToken      string
	adminChatID   string
	channelChatID string
	client        *http.Client
}

// NewTelegramChannel creates a new Telegram channel.
func NewTelegramChannel(botToken, adminChatID, channelChatID string) *TelegramChannel {
	return &TelegramChannel{
		botToken:      botToken,
		adminChatID:   adminChatID,
		channelChatID: channelChatID,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (t *TelegramChannel) Name() string {
	return "telegram"
}

func (t *TelegramChannel) Send(ctx context.Context, event *schema.SecurityEvent) error {
	chatID := t.channelChatID
	if event.Severity.Rank() >= schema.SeverityCritical.Rank() {
		chatID = t.adminChatID
	}
	// Only critical and emergency alerts reach the admin chat; with no
	// monitoring channel configured, lower severities are not delivered at
	// all rather than promoted.
	if chatID == "" {
		return nil
	}

	text := fmt.Sprintf("%s *[%s] %s*\n\n%s",
		severityEmoji(event.Severity),
		strings.ToUpper(string(event.Severity)),
		escapeMarkdown(event.Title),
		escapeMarkdown(formatDetails(event)),
	)
	if event.AutoResponse != "" {
		text += "\n*Auto response:* " + escapeMarkdown(event.AutoResponse)
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)
	payload := map[string]interface{}{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("telegram returned %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

// WebhookChannel posts the raw event as JSON.
type WebhookChannel struct {
	name    string
	url     string
	headers map[string]string
	client  *http.Client
}

// NewWebhookChannel creates a new webhook channel.
func NewWebhookChannel(name, url string, headers map[string]string) *WebhookChannel {
	return &WebhookChannel{
		name:    name,
		url:     url,
		headers: headers,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (w *WebhookChannel) Name() string {
	return w.name
}

func (w *WebhookChannel) Send(ctx context.Context, event *schema.SecurityEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

// LogChannel writes alerts to the process log. Always registered so that a
// deployment with no external channels still surfaces alerts somewhere.
type LogChannel struct{}

// NewLogChannel creates a new log channel.
func NewLogChannel() *LogChannel {
	return &LogChannel{}
}

func (l *LogChannel) Name() string {
	return "log"
}

func (l *LogChannel) Send(_ context.Context, event *schema.SecurityEvent) error {
	slog.Warn("ALERT",
		"severity", event.Severity,
		"category", event.Category,
		"title", event.Title,
		"auto_response", event.AutoResponse,
	)
	return nil
}

func severityEmoji(sev schema.Severity) string {
	switch sev {
	case schema.SeverityEmergency:
		return "\U0001F6A8"
	case schema.SeverityCritical:
		return "\U0001F534"
	case schema.SeverityWarning:
		return "\U0001F7E1"
	case schema.SeverityInfo:
		return "\U0001F7E2"
	default:
		return "⚪"
	}
}

// formatDetails renders event details as stable key: value lines.
func formatDetails(event *schema.SecurityEvent) string {
	if len(event.Details) == 0 {
		return event.Timestamp.Format("2006-01-02 15:04:05 UTC")
	}
	keys := make([]string, 0, len(event.Details))
	for k := range event.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %v", k, event.Details[k])
	}
	return b.String()
}

func escapeMarkdown(s string) string {
	replacer := strings.NewReplacer(
		"_", "\\_",
		"*", "\\*",
		"[", "\\[",
		"`", "\\`",
	)
	return replacer.Replace(s)
}
