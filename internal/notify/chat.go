package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/good-yellow-bee/driftwatch/internal/logger"
)

// ChatSender posts structured alert messages to chat incoming webhooks.
type ChatSender struct {
	httpClient *http.Client
	log        zerolog.Logger
}

// NewChatSender creates a chat webhook sender with the given per-call
// timeout.
func NewChatSender(timeout time.Duration) *ChatSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ChatSender{
		httpClient: &http.Client{Timeout: timeout},
		log:        logger.WithComponent("notify.chat"),
	}
}

// Send posts the notification to the webhook URL. Any failure, from a
// missing URL to a non-2xx response to a timeout, is logged and reported
// as delivered=false; chat sends never raise.
func (c *ChatSender) Send(ctx context.Context, n *Notification, webhookURL string) bool {
	if webhookURL == "" {
		c.log.Warn().Str("event_id", n.Event.ID).Msg("chat channel has no webhook url, skipping")
		return false
	}

	payload := buildChatMessage(n.Data)
	jsonData, err := json.Marshal(payload)
	if err != nil {
		c.log.Error().Err(err).Str("event_id", n.Event.ID).Msg("failed to marshal chat payload")
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(jsonData))
	if err != nil {
		c.log.Error().Err(err).Str("event_id", n.Event.ID).Msg("failed to build chat request")
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Error().Err(err).Str("event_id", n.Event.ID).Msg("chat webhook call failed")
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		c.log.Error().
			Int("status", resp.StatusCode).
			Str("event_id", n.Event.ID).
			Str("body", string(body)).
			Msg("chat webhook rejected message")
		return false
	}
	return true
}

// chatMessage is the webhook payload: a plain text fallback plus a
// structured block array.
type chatMessage struct {
	Text   string      `json:"text"`
	Blocks []chatBlock `json:"blocks"`
}

type chatBlock struct {
	Type     string     `json:"type"`
	Text     *chatText  `json:"text,omitempty"`
	Fields   []chatText `json:"fields,omitempty"`
	Elements []chatText `json:"elements,omitempty"`
	Actions  []chatLink `json:"actions,omitempty"`
}

type chatText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type chatLink struct {
	Type string `json:"type"`
	Text string `json:"text"`
	URL  string `json:"url"`
}

func buildChatMessage(data *TemplateData) chatMessage {
	emoji := severityEmoji(data.Severity)

	blocks := []chatBlock{
		{
			Type: "header",
			Text: &chatText{
				Type:  "plain_text",
				Text:  fmt.Sprintf("%s DriftWatch Alert: %s", emoji, data.RuleName),
				Emoji: true,
			},
		},
		{
			Type: "section",
			Fields: []chatText{
				{Type: "mrkdwn", Text: fmt.Sprintf("*Tenant:*\n%s", data.Tenant)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Rule:*\n%s", data.RuleName)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Entity:*\n%s", data.EntityLabel)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Delta:*\n%s", data.Delta)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Severity:*\n%s %s", emoji, strings.ToUpper(data.Severity))},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Confidence:*\n%s", data.Confidence)},
			},
		},
		{
			Type: "section",
			Text: &chatText{Type: "mrkdwn", Text: data.Summary},
		},
	}

	if data.DeepLink != "" {
		blocks = append(blocks, chatBlock{
			Type: "actions",
			Actions: []chatLink{
				{Type: "button", Text: "View in DriftWatch", URL: data.DeepLink},
			},
		})
	}

	blocks = append(blocks, chatBlock{
		Type: "context",
		Elements: []chatText{
			{Type: "mrkdwn", Text: fmt.Sprintf("Event %s | %s", data.EventID, data.TriggeredAt)},
		},
	})

	return chatMessage{
		Text:   fmt.Sprintf("%s %s: %s", emoji, strings.ToUpper(data.Severity), data.Summary),
		Blocks: blocks,
	}
}

func severityEmoji(severity string) string {
	switch severity {
	case "critical":
		return "\U0001F534"
	case "high":
		return "\U0001F7E0"
	case "medium":
		return "\U0001F7E1"
	case "low":
		return "\U0001F7E2"
	default:
		return "⚪"
	}
}
