// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llm

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/docrag/pkg/config"
)

type chatRequest struct {
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
	Messages  []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func newChatServer(t *testing.T, status int, body string, seen *chatRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !assert.Equal(t, "/chat/completions", r.URL.Path) {
			http.NotFound(w, r)
			return
		}
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if seen != nil {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIClient_Complete(t *testing.T) {
	var seen chatRequest
	srv := newChatServer(t, http.StatusOK, `{
		"id": "chatcmpl-1",
		"object": "chat.completion",
		"model": "gpt-4o-mini",
		"choices": [{"index": 0, "finish_reason": "stop",
			"message": {"role": "assistant", "content": "  The answer is 42.\n"}}],
		"usage": {"prompt_tokens": 120, "completion_tokens": 6, "total_tokens": 126}
	}`, &seen)

	client, err := NewOpenAIClient(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL + "/", MaxTokens: 256})
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, client.Model())

	resp, err := client.Complete(t.Context(), &Request{System: "Be brief.", Prompt: "What is the answer?"})
	require.NoError(t, err)

	assert.Equal(t, "The answer is 42.", resp.Text)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 120, resp.PromptTokens)
	assert.Equal(t, 6, resp.CompletionTokens)

	assert.Equal(t, DefaultModel, seen.Model)
	assert.Equal(t, 256, seen.MaxTokens)
	require.Len(t, seen.Messages, 2)
	assert.Equal(t, "system", seen.Messages[0].Role)
	assert.Equal(t, "Be brief.", seen.Messages[0].Content)
	assert.Equal(t, "user", seen.Messages[1].Role)
}

func TestOpenAIClient_RequestMaxTokensOverride(t *testing.T) {
	var seen chatRequest
	srv := newChatServer(t, http.StatusOK,
		`{"choices": [{"message": {"role": "assistant", "content": "ok"}}]}`, &seen)

	client, err := NewOpenAIClient(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL, MaxTokens: 256})
	require.NoError(t, err)

	_, err = client.Complete(t.Context(), &Request{Prompt: "hi", MaxTokens: 32})
	require.NoError(t, err)
	assert.Equal(t, 32, seen.MaxTokens)
	assert.Len(t, seen.Messages, 1)
}

func TestOpenAIClient_APIErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		temporary bool
	}{
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusBadGateway, true},
		{"unauthorized", http.StatusUnauthorized, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newChatServer(t, tt.status,
				`{"error": {"message": "nope", "type": "invalid_request_error"}}`, nil)
			client, err := NewOpenAIClient(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL})
			require.NoError(t, err)

			_, err = client.Complete(t.Context(), &Request{Prompt: "hi"})
			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.temporary, apiErr.Temporary())
		})
	}
}

func TestOpenAIClient_EmptyChoices(t *testing.T) {
	srv := newChatServer(t, http.StatusOK, `{"choices": []}`, nil)
	client, err := NewOpenAIClient(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = client.Complete(t.Context(), &Request{Prompt: "hi"})
	assert.ErrorContains(t, err, "no completion choices")
}

func TestOpenAIClient_Validation(t *testing.T) {
	_, err := NewOpenAIClient(OpenAIConfig{})
	assert.Error(t, err)

	client, err := NewOpenAIClient(OpenAIConfig{APIKey: "k"})
	require.NoError(t, err)
	_, err = client.Complete(t.Context(), &Request{Prompt: " "})
	assert.Error(t, err)
}

func TestNewClientFromConfig(t *testing.T) {
	cfg := &config.LLMConfig{Provider: "openai", Model: "gpt-4o", APIKey: "k"}
	client, err := NewClientFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", client.Model())

	_, err = NewClientFromConfig(&config.LLMConfig{Provider: "bedrock", APIKey: "k"})
	assert.Error(t, err)

	_, err = NewClientFromConfig(nil)
	assert.Error(t, err)
}
