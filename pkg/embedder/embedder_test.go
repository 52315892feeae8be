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

package embedder

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/docrag/pkg/config"
)

func TestOpenAIEmbedder_EmbedBatch(t *testing.T) {
	var got openaiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		// Out of order on purpose; the client reorders by index.
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[
			{"index":1,"embedding":[0,1,0]},
			{"index":0,"embedding":[1,0,0]}
		]}`))
	}))
	defer server.Close()

	e, err := NewOpenAIEmbedder(OpenAIConfig{APIKey: "sk-test", BaseURL: server.URL, Dimension: 3})
	require.NoError(t, err)

	vectors, err := e.EmbedBatch(t.Context(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0, 0}, {0, 1, 0}}, vectors)

	assert.Equal(t, "text-embedding-3-small", got.Model)
	assert.Equal(t, []string{"first", "second"}, got.Input)
	require.NotNil(t, got.Dimensions)
	assert.Equal(t, 3, *got.Dimensions)
	assert.Equal(t, 3, e.Dimension())
}

func TestOpenAIEmbedder_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.Header().Set("x-ratelimit-remaining-requests", "0")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit","code":"rate_limit_exceeded"}}`))
	}))
	defer server.Close()

	e, err := NewOpenAIEmbedder(OpenAIConfig{APIKey: "sk-test", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = e.Embed(t.Context(), "hello")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "slow down")
	assert.True(t, apiErr.Temporary())
	assert.Equal(t, 7*time.Second, apiErr.RetryAfter())
	assert.Equal(t, 0, apiErr.RateLimit.RequestsRemaining)
}

func TestParseRateLimitHeaders(t *testing.T) {
	h := http.Header{}
	info := ParseRateLimitHeaders(h)
	assert.Zero(t, info.RetryAfter)
	assert.Equal(t, -1, info.RequestsRemaining)
	assert.Equal(t, -1, info.TokensRemaining)

	h.Set("Retry-After", "2")
	h.Set("x-ratelimit-remaining-tokens", "1500")
	info = ParseRateLimitHeaders(h)
	assert.Equal(t, 2*time.Second, info.RetryAfter)
	assert.Equal(t, 1500, info.TokensRemaining)

	h.Set("retry-after-ms", "250")
	assert.Equal(t, 250*time.Millisecond, ParseRateLimitHeaders(h).RetryAfter)

	h = http.Header{}
	h.Set("Retry-After", time.Now().Add(time.Minute).UTC().Format(http.TimeFormat))
	d := ParseRateLimitHeaders(h).RetryAfter
	assert.Greater(t, d, 50*time.Second)
	assert.LessOrEqual(t, d, time.Minute)

	h.Set("Retry-After", "soon")
	assert.Zero(t, ParseRateLimitHeaders(h).RetryAfter)
}

func TestOpenAIEmbedder_CountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[1]}]}`))
	}))
	defer server.Close()

	e, err := NewOpenAIEmbedder(OpenAIConfig{APIKey: "k", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = e.EmbedBatch(t.Context(), []string{"a", "b"})
	assert.ErrorContains(t, err, "1 embeddings for 2 inputs")
}

func TestOllamaEmbedder_EmbedBatch(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/api/embed", r.URL.Path)

		var req ollamaRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)

		resp := ollamaResponse{}
		for range req.Input {
			resp.Embeddings = append(resp.Embeddings, []float32{0.5, 0.5})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	e, err := NewOllamaEmbedder(OllamaConfig{BaseURL: server.URL})
	require.NoError(t, err)
	assert.Equal(t, 768, e.Dimension())

	vectors, err := e.EmbedBatch(t.Context(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Len(t, vectors, 3)
	assert.Equal(t, int32(1), calls.Load())

	empty, err := e.EmbedBatch(t.Context(), nil)
	require.NoError(t, err)
	assert.Nil(t, empty)
	assert.Equal(t, int32(1), calls.Load())
}

func TestOllamaEmbedder_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusBadRequest)
	}))
	defer server.Close()

	e, err := NewOllamaEmbedder(OllamaConfig{BaseURL: server.URL})
	require.NoError(t, err)

	_, err = e.Embed(t.Context(), "x")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.False(t, apiErr.Temporary())
}

func TestAPIError_Temporary(t *testing.T) {
	for status, want := range map[int]bool{
		http.StatusTooManyRequests:     true,
		http.StatusRequestTimeout:      true,
		http.StatusBadGateway:          true,
		http.StatusInternalServerError: true,
		http.StatusUnauthorized:        false,
		http.StatusBadRequest:          false,
	} {
		assert.Equal(t, want, (&APIError{StatusCode: status}).Temporary(), "status %d", status)
	}
}

func TestNewEmbedderFromConfig(t *testing.T) {
	_, err := NewEmbedderFromConfig(nil)
	assert.Error(t, err)

	e, err := NewEmbedderFromConfig(&config.EmbedderConfig{Provider: "ollama", Model: "all-minilm:l6-v2"})
	require.NoError(t, err)
	assert.Equal(t, 384, e.Dimension())
	assert.Equal(t, "all-minilm:l6-v2", e.Model())

	e, err = NewEmbedderFromConfig(&config.EmbedderConfig{Provider: "openai", APIKey: "sk", Model: "text-embedding-3-large"})
	require.NoError(t, err)
	assert.Equal(t, 3072, e.Dimension())

	_, err = NewEmbedderFromConfig(&config.EmbedderConfig{Provider: "cohere"})
	assert.Error(t, err)
}
