package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ids-dashboard/backend/models"
	"ids-dashboard/backend/system"
)

// WebhookService posts Discord embeds for attacks and system events.
type WebhookService struct {
	webhookURL string
	client     *http.Client
	now        func() time.Time
}

type DiscordEmbed struct {
	Title       string              `json:"title,omitempty"`
	Description string              `json:"description,omitempty"`
	Color       int                 `json:"color,omitempty"`
	Fields      []DiscordEmbedField `json:"fields,omitempty"`
	Footer      *DiscordEmbedFooter `json:"footer,omitempty"`
	Timestamp   string              `json:"timestamp,omitempty"`
}

type DiscordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type DiscordEmbedFooter struct {
	Text string `json:"text"`
}

type DiscordWebhookPayload struct {
	Username string         `json:"username,omitempty"`
	Content  string         `json:"content,omitempty"`
	Embeds   []DiscordEmbed `json:"embeds,omitempty"`
}

// Discord caps a message at ten embeds.
const maxEmbedsPerMessage = 10

const (
	ColorRed    = 0xFF0000 // Attack/Error
	ColorOrange = 0xFFAA00 // Warning/Block
	ColorGreen  = 0x00FF00 // Success
	ColorBlue   = 0x00AAFF // Info
)

func NewWebhookService(url string) *WebhookService {
	return &WebhookService{
		webhookURL: url,
		client:     &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}
}

// IsEnabled returns whether a webhook URL is configured
func (w *WebhookService) IsEnabled() bool {
	return w != nil && w.webhookURL != ""
}

func (w *WebhookService) footer() *DiscordEmbedFooter {
	return &DiscordEmbedFooter{Text: "IDS Dashboard"}
}

func (w *WebhookService) attackEmbed(a models.Alert) DiscordEmbed {
	return DiscordEmbed{
		Title:       "🚨 Attack Detected",
		Description: fmt.Sprintf("Malicious traffic detected from **%s**", a.SrcIP),
		Color:       ColorRed,
		Fields: []DiscordEmbedField{
			{Name: "Source IP", Value: fmt.Sprintf("`%s`", a.SrcIP), Inline: true},
			{Name: "Attack Type", Value: string(a.AttackType.Label()), Inline: true},
			{Name: "Score", Value: fmt.Sprintf("%.2f (threshold %.2f)", a.Score, a.Threshold), Inline: true},
		},
		Footer:    w.footer(),
		Timestamp: a.DetectedAt.UTC().Format(time.RFC3339),
	}
}

// NotifyAttacks sends one embed per alert, batched per message.
func (w *WebhookService) NotifyAttacks(ctx context.Context, alerts []models.Alert) error {
	if !w.IsEnabled() || len(alerts) == 0 {
		return nil
	}
	for start := 0; start < len(alerts); start += maxEmbedsPerMessage {
		end := min(start+maxEmbedsPerMessage, len(alerts))
		embeds := make([]DiscordEmbed, 0, end-start)
		for _, a := range alerts[start:end] {
			embeds = append(embeds, w.attackEmbed(a))
		}
		if err := w.send(ctx, embeds...); err != nil {
			return err
		}
	}
	return nil
}

// SendSystemAlert sends a free-form system notification.
func (w *WebhookService) SendSystemAlert(ctx context.Context, title, message string, color int) error {
	if !w.IsEnabled() {
		return nil
	}
	return w.send(ctx, DiscordEmbed{
		Title:       title,
		Description: message,
		Color:       color,
		Footer:      w.footer(),
		Timestamp:   w.now().UTC().Format(time.RFC3339),
	})
}

// SendTestAlert verifies webhook connectivity.
func (w *WebhookService) SendTestAlert(ctx context.Context) error {
	if !w.IsEnabled() {
		return fmt.Errorf("webhook not configured")
	}
	return w.send(ctx, DiscordEmbed{
		Title:       "✅ Webhook Test",
		Description: "Discord webhook is configured correctly!",
		Color:       ColorGreen,
		Fields: []DiscordEmbedField{
			{Name: "Status", Value: "Connected", Inline: true},
			{Name: "Server Time", Value: w.now().Format("2006-01-02 15:04:05"), Inline: true},
		},
		Footer:    w.footer(),
		Timestamp: w.now().UTC().Format(time.RFC3339),
	})
}

func (w *WebhookService) send(ctx context.Context, embeds ...DiscordEmbed) error {
	payload := DiscordWebhookPayload{
		Username: "IDS Dashboard",
		Embeds:   embeds,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.webhookURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned error status: %d", resp.StatusCode)
	}

	system.Debug("Discord webhook sent (%d embeds)", len(embeds))
	return nil
}
