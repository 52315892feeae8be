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

package config

import "fmt"

// EmbedderConfig configures the embedding provider.
//
// Example:
//
//	embedder:
//	  provider: openai
//	  model: text-embedding-3-small
//	  api_key: ${OPENAI_API_KEY}
//
//	embedder:
//	  provider: ollama
//	  model: nomic-embed-text
//	  base_url: http://localhost:11434
type EmbedderConfig struct {
	// Provider specifies the embedding service.
	// Values: "openai", "ollama", "gemini"
	Provider string `yaml:"provider,omitempty" json:"provider,omitempty" jsonschema:"enum=openai,enum=ollama,enum=gemini,default=ollama"`

	// Model is the embedding model name.
	// OpenAI: "text-embedding-3-small", "text-embedding-3-large"
	// Ollama: "nomic-embed-text", "all-minilm:l6-v2"
	// Gemini: "text-embedding-004"
	Model string `yaml:"model,omitempty" json:"model,omitempty"`

	// APIKey for the embedding provider (OpenAI and Gemini require this).
	// Can use environment variable expansion: ${OPENAI_API_KEY}
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty"`

	// BaseURL for the API endpoint.
	// OpenAI default: https://api.openai.com/v1
	// Ollama default: http://localhost:11434
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`

	// Dimension of the embedding vectors (derived from the model if 0).
	Dimension int `yaml:"dimension,omitempty" json:"dimension,omitempty"`

	// Timeout in seconds for API requests (default: 30).
	Timeout int `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// User for OpenAI API (optional).
	User string `yaml:"user,omitempty" json:"user,omitempty"`

	// TaskType for Gemini (default: RETRIEVAL_DOCUMENT).
	TaskType string `yaml:"task_type,omitempty" json:"task_type,omitempty"`
}

// SetDefaults applies default values.
func (c *EmbedderConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "ollama"
	}

	if c.Model == "" {
		switch c.Provider {
		case "openai":
			c.Model = "text-embedding-3-small"
		case "gemini":
			c.Model = "text-embedding-004"
		default:
			c.Model = "nomic-embed-text"
		}
	}

	if c.BaseURL == "" {
		switch c.Provider {
		case "openai":
			c.BaseURL = "https://api.openai.com/v1"
		case "ollama":
			c.BaseURL = "http://localhost:11434"
		}
	}

	if c.APIKey == "" {
		c.APIKey = GetProviderAPIKey(c.Provider)
	}

	if c.Dimension == 0 {
		switch c.Provider {
		case "openai":
			if c.Model == "text-embedding-3-large" {
				c.Dimension = 3072
			} else {
				c.Dimension = 1536
			}
		case "ollama":
			switch c.Model {
			case "all-minilm:l6-v2":
				c.Dimension = 384
			case "mxbai-embed-large":
				c.Dimension = 1024
			default:
				c.Dimension = 768
			}
		case "gemini":
			c.Dimension = 768
		}
	}

	if c.Timeout == 0 {
		c.Timeout = 30
	}

	if c.Provider == "gemini" && c.TaskType == "" {
		c.TaskType = "RETRIEVAL_DOCUMENT"
	}
}

// Validate checks the embedder configuration.
func (c *EmbedderConfig) Validate() error {
	validProviders := map[string]bool{
		"openai": true,
		"ollama": true,
		"gemini": true,
	}

	if !validProviders[c.Provider] {
		return fmt.Errorf("invalid provider %q (valid: openai, ollama, gemini)", c.Provider)
	}

	if (c.Provider == "openai" || c.Provider == "gemini") && c.APIKey == "" {
		return fmt.Errorf("api_key is required for %s embedder", c.Provider)
	}

	if c.Model == "" {
		return fmt.Errorf("model is required")
	}

	if c.Dimension <= 0 {
		return fmt.Errorf("dimension must be positive")
	}

	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative")
	}

	return nil
}
