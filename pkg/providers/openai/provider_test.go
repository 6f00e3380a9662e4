package openaiprovider

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildParams(t *testing.T) {
	params, err := buildParams([]Message{
		{Role: "system", Content: "You are Craig"},
		{Role: "user", Content: "<@U1>: hi"},
		{Role: "assistant", Content: "hello"},
	}, "", map[string]any{"max_tokens": 256, "temperature": 0.7})
	require.NoError(t, err)

	assert.Equal(t, defaultModel, string(params.Model))
	assert.Len(t, params.Messages, 3)
	assert.Equal(t, int64(256), params.MaxCompletionTokens.Value)
	assert.Equal(t, 0.7, params.Temperature.Value)
}

func TestBuildParams_Errors(t *testing.T) {
	_, err := buildParams(nil, "gpt-4o", nil)
	assert.Error(t, err)

	_, err = buildParams([]Message{{Role: "tool", Content: "x"}}, "gpt-4o", nil)
	assert.Error(t, err)
}

func TestNormalizeBaseURL(t *testing.T) {
	assert.Equal(t, defaultBaseURL, normalizeBaseURL(""))
	assert.Equal(t, "http://localhost:8080/v1", normalizeBaseURL(" http://localhost:8080/v1/ "))
}

func TestProvider_ChatRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var reqBody map[string]any
		_ = json.NewDecoder(r.Body).Decode(&reqBody)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"created": 1700000000,
			"model":   reqBody["model"],
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": "Hey there!"},
			}},
			"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15},
		})
	}))
	defer server.Close()

	client := openai.NewClient(
		option.WithAPIKey("test-key"),
		option.WithBaseURL(server.URL),
		option.WithMaxRetries(0),
	)
	p := NewProviderWithClient(&client)

	resp, err := p.Chat(t.Context(), []Message{{Role: "user", Content: "hi"}}, "gpt-4o-mini", nil)
	require.NoError(t, err)
	assert.Equal(t, "Hey there!", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestParseResponse_NoChoices(t *testing.T) {
	_, err := parseResponse(&openai.ChatCompletion{})
	assert.Error(t, err)
}
