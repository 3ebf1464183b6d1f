// Package facebook adapts Meta Lead Ads webhooks to inbound events.
package facebook

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// SignatureHeader carries the app-secret HMAC of the raw body.
const SignatureHeader = "x-hub-signature-256"

const (
	objectPage    = "page"
	fieldLeadgen  = "leadgen"
	modeSubscribe = "subscribe"
)

var (
	ErrMalformedNotification = errors.New("malformed facebook notification")
	ErrUnsupportedObject     = errors.New("unsupported facebook object")
	ErrVerificationFailed    = errors.New("facebook subscription verification failed")
)

// Notification is the envelope Meta posts for page subscriptions.
type Notification struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Time    int64    `json:"time"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string          `json:"field"`
	Value json.RawMessage `json:"value"`
}

// Lead is one leadgen change value.
type Lead struct {
	LeadgenID   string `json:"leadgen_id"`
	PageID      string `json:"page_id"`
	FormID      string `json:"form_id"`
	AdID        string `json:"ad_id"`
	AdgroupID   string `json:"adgroup_id"`
	CreatedTime int64  `json:"created_time"`
}

// Parse decodes a notification body. Only page notifications are accepted.
func Parse(body []byte) (*Notification, error) {
	var notification Notification

	if err := json.Unmarshal(body, &notification); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedNotification, err)
	}

	if notification.Object != objectPage {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedObject, notification.Object)
	}

	return &notification, nil
}

// Leads returns every leadgen change. Changes of other fields are ignored; a
// leadgen value without leadgen_id is an error.
func (n *Notification) Leads() ([]Lead, error) {
	var leads []Lead

	for _, entry := range n.Entry {
		for _, change := range entry.Changes {
			if change.Field != fieldLeadgen {
				continue
			}

			var lead Lead
			if err := decodeLead(change.Value, &lead); err != nil {
				return nil, err
			}

			if lead.PageID == "" {
				lead.PageID = entry.ID
			}

			leads = append(leads, lead)
		}
	}

	return leads, nil
}

// decodeLead accepts ids sent either as strings or as numbers. Numeric ids keep
// every digit; they routinely exceed what a float64 holds exactly.
func decodeLead(raw json.RawMessage, lead *Lead) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return fmt.Errorf("%w: leadgen value: %w", ErrMalformedNotification, err)
	}

	lead.LeadgenID = idString(fields["leadgen_id"])
	lead.PageID = idString(fields["page_id"])
	lead.FormID = idString(fields["form_id"])
	lead.AdID = idString(fields["ad_id"])
	lead.AdgroupID = idString(fields["adgroup_id"])

	if created, ok := fields["created_time"].(json.Number); ok {
		lead.CreatedTime = unixSeconds(created)
	}

	if lead.LeadgenID == "" {
		return fmt.Errorf("%w: leadgen_id is missing", ErrMalformedNotification)
	}

	return nil
}

func idString(value any) string {
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case json.Number:
		return typed.String()
	default:
		return ""
	}
}

func unixSeconds(value json.Number) int64 {
	if seconds, err := value.Int64(); err == nil {
		return seconds
	}

	seconds, err := value.Float64()
	if err != nil {
		return 0
	}

	return int64(seconds)
}

// Payload is the normalized event payload workflows see.
func (l Lead) Payload() map[string]any {
	payload := map[string]any{
		"leadgen_id":   l.LeadgenID,
		"page_id":      l.PageID,
		"created_time": float64(l.CreatedTime),
	}

	if l.FormID != "" {
		payload["form_id"] = l.FormID
	}

	if l.AdID != "" {
		payload["ad_id"] = l.AdID
	}

	if l.AdgroupID != "" {
		payload["adgroup_id"] = l.AdgroupID
	}

	return payload
}

// VerifySubscription answers the GET handshake Meta sends when the webhook is
// registered. It returns the challenge to echo back.
func VerifySubscription(mode, token, challenge, verifyToken string) (string, error) {
	if verifyToken == "" || mode != modeSubscribe {
		return "", ErrVerificationFailed
	}

	if subtle.ConstantTimeCompare([]byte(token), []byte(verifyToken)) != 1 {
		return "", ErrVerificationFailed
	}

	return challenge, nil
}
