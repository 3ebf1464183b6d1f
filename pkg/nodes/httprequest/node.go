// Package httprequest provides a node that calls an external HTTP endpoint.
package httprequest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gymops/automation/pkg/models"
	"github.com/gymops/automation/pkg/protocol"
)

const maxResponseBytes = 1 << 20

var methods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// HTTPError is returned for responses with status 400 and above.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

type Node struct {
	client *http.Client
}

// New returns a node using client; a nil client uses http.DefaultClient.
// Timeouts come from the node deadline set by the executor.
func New(client *http.Client) *Node {
	if client == nil {
		client = http.DefaultClient
	}

	return &Node{client: client}
}

func (n *Node) Capability() models.Capability {
	return models.CapabilityHTTPRequest
}

func (n *Node) Name() string {
	return "HTTP Request"
}

func (n *Node) Description() string {
	return "Makes an HTTP request to an external API. The response status, headers and body are available to later nodes."
}

func (n *Node) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "Target URL, supports {{path}} expressions",
			},
			"method": map[string]any{
				"type":    "string",
				"enum":    []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
				"default": "GET",
			},
			"headers": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "string"},
			},
			"body": map[string]any{
				"description": "Request body. Objects and arrays are sent as JSON",
			},
		},
		"required": []string{"url"},
	}
}

func (n *Node) Validate(config map[string]any) error {
	rawURL, err := protocol.RequireString(config, "url")
	if err != nil {
		return err
	}

	// Templated URLs are checked after resolution.
	if !strings.Contains(rawURL, "{{") {
		if err := checkURL(rawURL); err != nil {
			return err
		}
	}

	if method := strings.ToUpper(protocol.StringField(config, "method")); method != "" && !methods[method] {
		return fmt.Errorf("%w: unsupported method '%s'", protocol.ErrInvalidConfig, method)
	}

	return nil
}

func (n *Node) Execute(ctx context.Context, input protocol.Input) (protocol.Output, error) {
	if err := n.Validate(input.Config); err != nil {
		return protocol.Output{}, err
	}

	target := protocol.StringField(input.Config, "url")
	if err := checkURL(target); err != nil {
		return protocol.Output{}, err
	}

	method := strings.ToUpper(protocol.StringField(input.Config, "method"))
	if method == "" {
		method = http.MethodGet
	}

	body, isJSON, err := encodeBody(input.Config["body"])
	if err != nil {
		return protocol.Output{}, err
	}

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return protocol.Output{}, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range protocol.StringMap(input.Config, "headers") {
		req.Header.Set(key, value)
	}

	if body != "" && req.Header.Get("Content-Type") == "" {
		if isJSON {
			req.Header.Set("Content-Type", "application/json")
		} else {
			req.Header.Set("Content-Type", "text/plain; charset=utf-8")
		}
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return protocol.Output{}, fmt.Errorf("request failed: %w", err)
	}

	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return protocol.Output{}, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return protocol.Output{}, &HTTPError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	headers := make(map[string]any, len(resp.Header))
	for key := range resp.Header {
		headers[strings.ToLower(key)] = resp.Header.Get(key)
	}

	result := map[string]any{
		"status_code": resp.StatusCode,
		"headers":     headers,
		"body":        string(respBody),
	}

	var decoded any
	if err := json.Unmarshal(respBody, &decoded); err == nil {
		result["json"] = decoded
	}

	return protocol.Output{Data: result}, nil
}

func checkURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return fmt.Errorf("%w: url must be an absolute http(s) URL", protocol.ErrInvalidConfig)
	}

	return nil
}

func encodeBody(body any) (string, bool, error) {
	switch typed := body.(type) {
	case nil:
		return "", false, nil
	case string:
		trimmed := strings.TrimSpace(typed)

		return typed, json.Valid([]byte(trimmed)) && (strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")), nil
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return "", false, fmt.Errorf("%w: body cannot be encoded as JSON", protocol.ErrInvalidConfig)
		}

		return string(encoded), true, nil
	}
}
