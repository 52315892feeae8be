// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"time"
)

// LLMConfig configures the chat model that writes answers.
//
// Any OpenAI-compatible endpoint works; point BaseURL at it.
//
// Example:
//
//	llm:
//	  model: gpt-4o-mini
//	  api_key: ${OPENAI_API_KEY}
//	  temperature: 0.2
type LLMConfig struct {
	// Provider specifies the chat API. Values: "openai"
	Provider string `yaml:"provider,omitempty" json:"provider,omitempty" jsonschema:"enum=openai,default=openai"`

	// Model is the chat model name.
	// Default: gpt-4o-mini
	Model string `yaml:"model,omitempty" json:"model,omitempty"`

	// APIKey for the chat API. Falls back to OPENAI_API_KEY.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty"`

	// BaseURL overrides the API endpoint.
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`

	// Temperature for sampling.
	// Default: 0.2
	Temperature float64 `yaml:"temperature,omitempty" json:"temperature,omitempty" jsonschema:"minimum=0,maximum=2,default=0.2"`

	// MaxTokens caps the answer length.
	// Default: 1024
	MaxTokens int `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty" jsonschema:"minimum=1,default=1024"`

	// Timeout for one completion request.
	// Default: 60s
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// SetDefaults applies default values.
func (c *LLMConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "openai"
	}
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	if c.APIKey == "" {
		c.APIKey = GetProviderAPIKey(c.Provider)
	}
	if c.Temperature == 0 {
		c.Temperature = 0.2
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 1024
	}
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
}

// Validate checks the LLM configuration. A missing API key is reported when
// the first question is asked, so ingestion-only setups stay valid.
func (c *LLMConfig) Validate() error {
	if c.Provider != "openai" {
		return fmt.Errorf("invalid provider %q (valid: openai)", c.Provider)
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must be non-negative")
	}
	return nil
}
