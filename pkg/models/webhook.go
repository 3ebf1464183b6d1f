package models

import "time"

// WebhookProvider identifies the envelope format a webhook receives.
type WebhookProvider string

const (
	WebhookProviderGeneric  WebhookProvider = "generic"
	WebhookProviderFacebook WebhookProvider = "facebook"
)

// DefaultSignatureHeader is used when a webhook does not name its own header.
const DefaultSignatureHeader = "x-webhook-signature"

// RateLimitConfig bounds how many requests a webhook accepts per window.
// A zero MaxRequests falls back to the server default.
type RateLimitConfig struct {
	WindowMs    int64 `json:"window_ms,omitempty"    validate:"gte=0"`
	MaxRequests int   `json:"max_requests,omitempty" validate:"gte=0"`
}

// Webhook is the inbound endpoint configuration owned by a tenant.
// For Facebook webhooks ExternalID holds the page id and AccessToken the page token.
type Webhook struct {
	ID                 string          `json:"id"                            validate:"required"`
	TenantID           string          `json:"tenant_id"                     validate:"required"`
	Name               string          `json:"name"`
	Provider           WebhookProvider `json:"provider"                      validate:"required,oneof=generic facebook"`
	ExternalID         string          `json:"external_id,omitempty"         validate:"required_if=Provider facebook"`
	Enabled            bool            `json:"enabled"`
	Secret             string          `json:"secret,omitempty"`
	SignatureAlgorithm string          `json:"signature_algorithm,omitempty" validate:"omitempty,oneof=sha1 sha256 sha512"`
	SignatureEncoding  string          `json:"signature_encoding,omitempty"  validate:"omitempty,oneof=hex base64"`
	SignatureHeader    string          `json:"signature_header,omitempty"`
	AccessToken        string          `json:"access_token,omitempty"`
	RateLimit          RateLimitConfig `json:"rate_limit"`
	Schema             map[string]any  `json:"schema,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// SignatureHeaderName returns the configured header or the default one.
func (w *Webhook) SignatureHeaderName() string {
	if w.SignatureHeader == "" {
		return DefaultSignatureHeader
	}

	return w.SignatureHeader
}

// TriggerType maps the provider to the trigger type workflows subscribe to.
func (w *Webhook) TriggerType() string {
	if w.Provider == WebhookProviderFacebook {
		return TriggerTypeFacebookLead
	}

	return TriggerTypeWebhook
}
