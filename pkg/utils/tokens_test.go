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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"one char", "a", 1},
		{"exact multiple", "abcdefgh", 2},
		{"rounds up", "abcdefghi", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EstimateTokens(tt.text))
		})
	}
}

func TestEstimator_Truncate(t *testing.T) {
	e := Estimator{}

	assert.Equal(t, "", e.Truncate("anything", 0))
	assert.Equal(t, "short", e.Truncate("short", 10))

	text := strings.Repeat("abcd", 10)
	out := e.Truncate(text, 3)
	assert.Equal(t, "abcdabcdabcd", out)
	assert.LessOrEqual(t, e.Count(out), 3)
}

func TestEstimator_TruncateRuneBoundary(t *testing.T) {
	// "é" is two bytes; cutting at byte 4 would split the second rune.
	text := "abcé" + "dddd"
	out := Estimator{}.Truncate(text, 1)
	assert.Equal(t, "abc", out)
}

func TestGetEncodingForModel(t *testing.T) {
	assert.Equal(t, "o200k_base", GetEncodingForModel("gpt-4o-mini"))
	assert.Equal(t, "cl100k_base", GetEncodingForModel("text-embedding-3-small"))
	assert.Equal(t, "cl100k_base", GetEncodingForModel("unknown-model"))
}

func TestGetEncodingForModel_OverlappingPrefixes(t *testing.T) {
	cases := map[string]string{
		"gpt-4.1-mini":         "o200k_base",
		"gpt-4o-2024-08-06":    "o200k_base",
		"gpt-4-turbo":          "cl100k_base",
		"gpt-3.5-turbo-0125":   "cl100k_base",
		"text-embedding-ada-2": "cl100k_base",
	}
	for model, want := range cases {
		for range 50 {
			require.Equal(t, want, GetEncodingForModel(model), model)
		}
	}
}

func TestTokenCounter_CountAndTruncate(t *testing.T) {
	counter, err := NewTokenCounter("gpt-4o")
	if err != nil {
		t.Skipf("tiktoken encoding unavailable: %v", err)
	}
	assert.Equal(t, "gpt-4o", counter.GetModel())
	assert.Equal(t, 0, counter.Count(""))

	text := "This is a longer sentence with more words to count tokens accurately."
	total := counter.Count(text)
	require.Greater(t, total, 5)

	cut := counter.Truncate(text, 5)
	assert.LessOrEqual(t, counter.Count(cut), 5)
	assert.True(t, strings.HasPrefix(text, cut))
	assert.Equal(t, text, counter.Truncate(text, total))
}
