package perplexity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatCompletion(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "sonar-pro", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)

		json.NewEncoder(w).Encode(ChatCompletionResponse{ //nolint:errcheck
			ID:    "cmpl-1",
			Model: req.Model,
			Choices: []Choice{
				{Message: Message{Role: "assistant", Content: "PROMPT: a ledger icon"}},
			},
			Usage: Usage{PromptTokens: 50, CompletionTokens: 30},
		})
	}))
	defer ts.Close()

	client := NewClient("test-key", WithBaseURL(ts.URL))
	temp := 0.7
	resp, err := client.ChatCompletion(context.Background(), ChatCompletionRequest{
		Model: "sonar-pro",
		Messages: []Message{
			{Role: "system", Content: "you are a prompt engineer"},
			{Role: "user", Content: "describe a ledger icon"},
		},
		Temperature: &temp,
	})
	require.NoError(t, err)
	assert.Equal(t, "cmpl-1", resp.ID)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "PROMPT: a ledger icon", resp.Choices[0].Message.Content)
	assert.Equal(t, 50, resp.Usage.PromptTokens)
}

func TestChatCompletionRequiresModel(t *testing.T) {
	client := NewClient("test-key")
	_, err := client.ChatCompletion(context.Background(), ChatCompletionRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model is required")
}

func TestChatCompletionAPIError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer ts.Close()

	client := NewClient("test-key", WithBaseURL(ts.URL))
	_, err := client.ChatCompletion(context.Background(), ChatCompletionRequest{
		Model:    "sonar-pro",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "rate limited")
}

func TestChatCompletionBadJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("not json")) //nolint:errcheck
	}))
	defer ts.Close()

	client := NewClient("test-key", WithBaseURL(ts.URL))
	_, err := client.ChatCompletion(context.Background(), ChatCompletionRequest{
		Model:    "sonar-pro",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
}
