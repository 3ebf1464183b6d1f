package httprequest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gymops/automation/pkg/models"
	"github.com/gymops/automation/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNode_Execute_Success(t *testing.T) {
	t.Parallel()

	var received map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))

		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &received)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"id":42}`))
	}))
	t.Cleanup(server.Close)

	node := New(server.Client())
	assert.Equal(t, models.CapabilityHTTPRequest, node.Capability())

	out, err := node.Execute(context.Background(), protocol.Input{Config: map[string]any{
		"url":     server.URL + "/leads",
		"method":  "post",
		"headers": map[string]any{"X-Api-Key": "secret"},
		"body":    map[string]any{"email": "ana@example.com"},
	}})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"email": "ana@example.com"}, received)

	data := out.Data.(map[string]any)
	assert.Equal(t, http.StatusOK, data["status_code"])
	assert.Equal(t, map[string]any{"ok": true, "id": 42.0}, data["json"])
	assert.Equal(t, "application/json", data["headers"].(map[string]any)["content-type"])
}

func TestNode_Execute_ErrorStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	t.Cleanup(server.Close)

	_, err := New(server.Client()).Execute(context.Background(), protocol.Input{Config: map[string]any{"url": server.URL}})
	require.Error(t, err)

	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusBadGateway, httpErr.StatusCode)
	assert.Equal(t, "upstream down", httpErr.Message)
}

func TestNode_Execute_HonoursContext(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(server.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(server.Client()).Execute(ctx, protocol.Input{Config: map[string]any{"url": server.URL}})
	require.ErrorIs(t, err, context.Canceled)
}

func TestNode_Validate(t *testing.T) {
	t.Parallel()

	node := New(nil)

	tests := []struct {
		name    string
		config  map[string]any
		wantErr bool
	}{
		{name: "plain url", config: map[string]any{"url": "https://api.example.com/hook"}},
		{name: "templated url", config: map[string]any{"url": "{{variables.crm_url}}/leads", "method": "PUT"}},
		{name: "missing url", config: map[string]any{}, wantErr: true},
		{name: "relative url", config: map[string]any{"url": "/hook"}, wantErr: true},
		{name: "bad scheme", config: map[string]any{"url": "ftp://example.com"}, wantErr: true},
		{name: "bad method", config: map[string]any{"url": "https://example.com", "method": "TRACE"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := node.Validate(tt.config)
			if tt.wantErr {
				require.ErrorIs(t, err, protocol.ErrInvalidConfig)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestNode_Execute_ResolvedURLStillChecked(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Execute(context.Background(), protocol.Input{Config: map[string]any{"url": ""}})
	require.ErrorIs(t, err, protocol.ErrInvalidConfig)
}
