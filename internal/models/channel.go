package models

import (
	"encoding/json"
	"time"
)

// ChannelType identifies how a notification channel delivers.
type ChannelType string

const (
	ChannelEmail ChannelType = "email"
	// ChannelChatWebhook posts a structured message to a chat incoming
	// webhook, synchronously with a bounded timeout.
	ChannelChatWebhook ChannelType = "chat_webhook"
	// ChannelGenericWebhook enqueues into the webhook delivery queue;
	// it is never sent synchronously by the dispatcher.
	ChannelGenericWebhook ChannelType = "generic_webhook"
)

// NotificationChannel is a tenant-configured delivery target. Name is
// unique per tenant.
type NotificationChannel struct {
	ID      string      `json:"id"`
	Tenant  string      `json:"tenant"`
	Name    string      `json:"name"`
	Type    ChannelType `json:"type"`
	// Config is the JSON-encoded type-specific configuration.
	Config    string    `json:"config"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EmailChannelConfig is the config payload for email channels.
type EmailChannelConfig struct {
	Recipients []string `json:"recipients"`
	// AttachPDF requests the evidence PDF attachment when the tenant's
	// artifact provider can produce one. Attachment failure never blocks
	// the send.
	AttachPDF bool `json:"attach_pdf,omitempty"`
}

// ChatWebhookChannelConfig is the config payload for chat webhook channels.
type ChatWebhookChannelConfig struct {
	WebhookURL string `json:"webhook_url"`
}

// GenericWebhookChannelConfig is the config payload for generic webhook
// channels, pointing at a registered webhook endpoint.
type GenericWebhookChannelConfig struct {
	EndpointID string `json:"endpoint_id"`
}

// SetConfig sets the channel config from a structured value.
func (c *NotificationChannel) SetConfig(config interface{}) error {
	data, err := json.Marshal(config)
	if err != nil {
		return err
	}
	c.Config = string(data)
	return nil
}

// GetConfig unmarshals the channel config into the provided target.
func (c *NotificationChannel) GetConfig(target interface{}) error {
	return json.Unmarshal([]byte(c.Config), target)
}
