package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

type HTTPSenderConfig struct {
	URL   string
	Token string
	// RatePerSecond throttles outbound sends; zero disables throttling.
	RatePerSecond float64
	Burst         int
	Timeout       time.Duration
}

// HTTPSender posts messages as JSON to a delivery gateway.
type HTTPSender struct {
	url     string
	token   string
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewHTTPSender(cfg HTTPSenderConfig, logger *slog.Logger) *HTTPSender {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 0)

	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}

		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	return &HTTPSender{
		url:     cfg.URL,
		token:   cfg.Token,
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
		logger:  logger.With("module", "messaging", "sender", "http"),
	}
}

type gatewayResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (s *HTTPSender) Send(ctx context.Context, msg Message) (*Receipt, error) {
	err := msg.Validate()
	if err != nil {
		return nil, err
	}

	err = s.limiter.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("wait for send budget: %w", err)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.NewString())

	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var gateway gatewayResponse

	_ = json.Unmarshal(respBody, &gateway)

	receipt := &Receipt{
		ID:      gateway.ID,
		Channel: msg.Channel,
		Status:  gateway.Status,
		SentAt:  time.Now().UTC(),
	}

	if receipt.ID == "" {
		receipt.ID = uuid.NewString()
	}

	if receipt.Status == "" {
		receipt.Status = "accepted"
	}

	s.logger.DebugContext(ctx, "message sent", "channel", msg.Channel, "tenant_id", msg.TenantID, "receipt_id", receipt.ID)

	return receipt, nil
}

// LogSender only logs messages. It is the development default.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger.With("module", "messaging", "sender", "log")}
}

func (s *LogSender) Send(ctx context.Context, msg Message) (*Receipt, error) {
	err := msg.Validate()
	if err != nil {
		return nil, err
	}

	receipt := &Receipt{
		ID:      uuid.NewString(),
		Channel: msg.Channel,
		Status:  "logged",
		SentAt:  time.Now().UTC(),
	}

	s.logger.InfoContext(ctx, "outbound message",
		"receipt_id", receipt.ID,
		"channel", msg.Channel,
		"tenant_id", msg.TenantID,
		"to", msg.To,
		"subject", msg.Subject)

	return receipt, nil
}

var (
	_ Sender = (*HTTPSender)(nil)
	_ Sender = (*LogSender)(nil)
)
