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

// Package llm provides the chat model that turns a question and its
// context into an answer.
package llm

import (
	"context"
	"fmt"
	"net/http"
)

// Request is a single-turn completion request.
type Request struct {
	// System is the instruction prepended to the conversation.
	System string

	// Prompt is the user message.
	Prompt string

	// MaxTokens overrides the client's answer length cap when positive.
	MaxTokens int
}

// Response is the model's answer.
type Response struct {
	Text             string
	FinishReason     string
	PromptTokens     int
	CompletionTokens int
}

// Client is a chat completion backend.
type Client interface {
	// Complete returns the model's answer to req.
	Complete(ctx context.Context, req *Request) (*Response, error)

	// Model returns the model name.
	Model() string

	// Close releases resources.
	Close() error
}

// APIError is a non-success response from the chat API.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s chat API returned status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// Temporary reports whether the request may succeed if retried.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode >= 500
}
