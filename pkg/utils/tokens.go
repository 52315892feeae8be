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

package utils

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// CharsPerToken is the character-to-token ratio used wherever an exact
// tokenizer is not consulted (chunk sizing, estimation).
const CharsPerToken = 4

// Tokenizer counts tokens and cuts text to a token budget.
type Tokenizer interface {
	Count(text string) int
	Truncate(text string, maxTokens int) string
}

// TokenCounter handles accurate token counting per model
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
	model    string
	mu       sync.RWMutex
}

var (
	// Cache encodings to avoid repeated initialization
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.RWMutex
)

// NewTokenCounter creates a counter for specific model
func NewTokenCounter(model string) (*TokenCounter, error) {
	cacheMu.RLock()
	cached, exists := encodingCache[model]
	cacheMu.RUnlock()

	if exists {
		return &TokenCounter{encoding: cached, model: model}, nil
	}

	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding(GetEncodingForModel(model))
		if err != nil {
			return nil, fmt.Errorf("failed to get encoding: %w", err)
		}
	}

	cacheMu.Lock()
	encodingCache[model] = encoding
	cacheMu.Unlock()

	return &TokenCounter{encoding: encoding, model: model}, nil
}

// Count returns accurate token count for text
func (tc *TokenCounter) Count(text string) int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()

	return len(tc.encoding.Encode(text, nil, nil))
}

// Truncate returns the longest prefix of text holding at most maxTokens tokens.
func (tc *TokenCounter) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}

	tc.mu.RLock()
	defer tc.mu.RUnlock()

	tokens := tc.encoding.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	return tc.encoding.Decode(tokens[:maxTokens])
}

// GetModel returns the model name this counter is configured for
func (tc *TokenCounter) GetModel() string {
	return tc.model
}

// Estimator approximates token counts at CharsPerToken characters per token.
// It never touches the network and is used when no encoding is available.
type Estimator struct{}

func (Estimator) Count(text string) int {
	return EstimateTokens(text)
}

func (Estimator) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	limit := maxTokens * CharsPerToken
	if len(text) <= limit {
		return text
	}
	// Back off to a rune boundary.
	for limit > 0 && !isRuneStart(text[limit]) {
		limit--
	}
	return text[:limit]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// EstimateTokens provides a rough token estimation, rounding up so that any
// non-empty text counts as at least one token.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + CharsPerToken - 1) / CharsPerToken
}

// NewTokenizer returns a tiktoken counter for model, or the Estimator when the
// encoding cannot be loaded (tiktoken fetches BPE ranks on first use).
func NewTokenizer(model string) Tokenizer {
	tc, err := NewTokenCounter(model)
	if err != nil {
		slog.Warn("Falling back to estimated token counts", "model", model, "error", err)
		return Estimator{}
	}
	return tc
}

// modelEncodings is ordered longest prefix first so overlapping names such
// as "gpt-4.1-mini" and "gpt-4" resolve the same way on every run.
var modelEncodings = []struct {
	prefix   string
	encoding string
}{
	{"text-embedding-3-small", "cl100k_base"},
	{"text-embedding-3-large", "cl100k_base"},
	{"text-embedding-ada", "cl100k_base"},
	{"gpt-3.5-turbo", "cl100k_base"},
	{"gpt-4o-mini", "o200k_base"},
	{"gpt-4.1", "o200k_base"},
	{"gpt-4o", "o200k_base"},
	{"gpt-4", "cl100k_base"},
}

// GetEncodingForModel returns the appropriate encoding name for a model
func GetEncodingForModel(model string) string {
	for _, m := range modelEncodings {
		if strings.HasPrefix(model, m.prefix) {
			return m.encoding
		}
	}
	return "cl100k_base"
}
