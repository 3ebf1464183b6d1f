package facebook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultGraphURL     = "https://graph.facebook.com/v19.0"
	maxGraphResponse    = 1024 * 1024
	defaultGraphRetries = 2
)

var (
	ErrGraphUnavailable = errors.New("facebook graph unavailable")
	ErrGraphRejected    = errors.New("facebook graph rejected request")
)

// LeadFetcher loads the form answers of a lead.
type LeadFetcher interface {
	FetchLead(ctx context.Context, leadgenID, accessToken string) (*LeadDetails, error)
}

// LeadDetails is the Graph API view of a lead.
type LeadDetails struct {
	ID          string      `json:"id"`
	CreatedTime string      `json:"created_time"`
	FieldData   []FieldData `json:"field_data"`
}

type FieldData struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// Fields flattens field_data. Multi-valued answers are joined with a comma.
func (d *LeadDetails) Fields() map[string]any {
	fields := make(map[string]any, len(d.FieldData))

	for _, field := range d.FieldData {
		if field.Name == "" || len(field.Values) == 0 {
			continue
		}

		fields[field.Name] = strings.Join(field.Values, ",")
	}

	return fields
}

type GraphConfig struct {
	BaseURL string
	Timeout time.Duration
	Retries int
	// RetryWait is the first backoff interval.
	RetryWait time.Duration
}

type GraphClient struct {
	baseURL   string
	retries   int
	retryWait time.Duration
	client    *http.Client
	logger    *slog.Logger
}

func NewGraphClient(cfg GraphConfig, logger *slog.Logger) *GraphClient {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultGraphURL
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	} else if retries == 0 {
		retries = defaultGraphRetries
	}

	retryWait := cfg.RetryWait
	if retryWait <= 0 {
		retryWait = 300 * time.Millisecond
	}

	return &GraphClient{
		baseURL:   baseURL,
		retries:   retries,
		retryWait: retryWait,
		client:    &http.Client{Timeout: timeout},
		logger:    logger.With("module", "facebook_graph"),
	}
}

// FetchLead retrieves a lead by id. Server errors are retried with exponential backoff.
func (c *GraphClient) FetchLead(ctx context.Context, leadgenID, accessToken string) (*LeadDetails, error) {
	if leadgenID == "" || accessToken == "" {
		return nil, fmt.Errorf("%w: leadgen id and access token are required", ErrGraphRejected)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryWait
	policy.MaxElapsedTime = 0

	operation := func() (*LeadDetails, error) {
		details, err := c.fetch(ctx, leadgenID, accessToken)
		if err != nil && !errors.Is(err, ErrGraphUnavailable) {
			return nil, backoff.Permanent(err)
		}

		return details, err
	}

	notify := func(err error, wait time.Duration) {
		c.logger.WarnContext(ctx, "Retrying lead fetch", "leadgen_id", leadgenID, "error", err, "wait", wait)
	}

	return backoff.RetryNotifyWithData(operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.retries)), ctx), notify)
}

func (c *GraphClient) fetch(ctx context.Context, leadgenID, accessToken string) (*LeadDetails, error) {
	query := url.Values{}
	query.Set("access_token", accessToken)
	query.Set("fields", "id,created_time,field_data")

	endpoint := c.baseURL + "/" + url.PathEscape(leadgenID) + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, fmt.Errorf("%w: %v", ErrGraphUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxGraphResponse))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrGraphUnavailable, err)
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: status %d", ErrGraphUnavailable, resp.StatusCode)
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, fmt.Errorf("%w: status %d: %s", ErrGraphRejected, resp.StatusCode, graphErrorMessage(body))
	}

	var details LeadDetails
	if err := json.Unmarshal(body, &details); err != nil {
		return nil, fmt.Errorf("decode lead: %w", err)
	}

	return &details, nil
}

func graphErrorMessage(body []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}

	return http.StatusText(http.StatusBadRequest)
}

// Enrich merges the lead's form answers into payload under "fields" and lifts the
// common contact answers to the top level. Existing payload keys are kept.
func Enrich(payload map[string]any, details *LeadDetails) map[string]any {
	if details == nil {
		return payload
	}

	fields := details.Fields()
	payload["fields"] = fields

	for _, key := range []string{"email", "full_name", "first_name", "last_name", "phone_number"} {
		if _, exists := payload[key]; exists {
			continue
		}

		if value, ok := fields[key]; ok {
			payload[key] = value
		}
	}

	return payload
}
