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

// Package config provides configuration types and loading for docrag.
//
// A configuration file is YAML (JSON is accepted as a fallback). Values may
// reference environment variables with ${VAR}, ${VAR:-default} or $VAR.
// Every section is optional; missing values fall back to Default().
//
// Example:
//
//	logger:
//	  level: info
//
//	embedder:
//	  provider: openai
//	  api_key: ${OPENAI_API_KEY}
//
//	vector_store:
//	  type: chromem
//	  chromem:
//	    persist_path: .docrag/vectors
//
//	rag:
//	  chunk_size: 800
//	  retrieval_top_k: 10
package config

import (
	"fmt"

	"github.com/kadirpekel/docrag/pkg/observability"
	"github.com/kadirpekel/docrag/pkg/vector"
)

// StorageBackend identifies a storage backend type.
type StorageBackend string

const (
	// StorageBackendInMemory uses in-memory storage.
	StorageBackendInMemory StorageBackend = "inmemory"

	// StorageBackendSQL uses SQL database for persistence (default).
	StorageBackendSQL StorageBackend = "sql"
)

// Config is the root configuration.
type Config struct {
	// Logger configures logging.
	Logger LoggerConfig `yaml:"logger,omitempty" json:"logger,omitempty"`

	// Server configures the HTTP API.
	Server ServerConfig `yaml:"server,omitempty" json:"server,omitempty"`

	// Storage selects where document records and collection ownership live.
	Storage StorageConfig `yaml:"storage,omitempty" json:"storage,omitempty"`

	// Database is used when Storage.Backend is "sql".
	Database DatabaseConfig `yaml:"database,omitempty" json:"database,omitempty"`

	// Embedder configures the embedding provider.
	Embedder EmbedderConfig `yaml:"embedder,omitempty" json:"embedder,omitempty"`

	// VectorStore configures the vector database.
	VectorStore vector.ProviderConfig `yaml:"vector_store,omitempty" json:"vector_store,omitempty"`

	// LLM configures the chat model used for answers.
	LLM LLMConfig `yaml:"llm,omitempty" json:"llm,omitempty"`

	// RAG holds chunking, retrieval and pipeline knobs.
	RAG RAGConfig `yaml:"rag,omitempty" json:"rag,omitempty"`

	// Observability configures tracing and metrics.
	Observability observability.Config `yaml:"observability,omitempty" json:"observability,omitempty"`
}

// StorageConfig configures document and catalog storage.
type StorageConfig struct {
	// Backend specifies the storage backend: "sql" (default) or "inmemory".
	Backend StorageBackend `yaml:"backend,omitempty" json:"backend,omitempty" jsonschema:"enum=sql,enum=inmemory,default=sql"`
}

// Default returns a configuration with every section defaulted.
func Default() *Config {
	cfg := newConfig()
	cfg.SetDefaults()
	return cfg
}

// newConfig holds the defaults whose zero value is meaningful, so they
// cannot be applied after decoding.
func newConfig() *Config {
	return &Config{
		RAG: RAGConfig{SimilarityThreshold: -1.0},
	}
}

// SetDefaults applies default values to every section.
func (c *Config) SetDefaults() {
	c.Logger.SetDefaults()
	c.Server.SetDefaults()
	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageBackendSQL
	}
	if c.Storage.Backend == StorageBackendSQL {
		c.Database.SetDefaults()
	}
	c.Embedder.SetDefaults()
	c.VectorStore.SetDefaults()
	c.LLM.SetDefaults()
	c.RAG.SetDefaults()
	c.Observability.SetDefaults()
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Logger.Validate(); err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	switch c.Storage.Backend {
	case StorageBackendInMemory:
	case StorageBackendSQL:
		if err := c.Database.Validate(); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	default:
		return fmt.Errorf("storage: invalid backend %q (valid: sql, inmemory)", c.Storage.Backend)
	}
	if err := c.Embedder.Validate(); err != nil {
		return fmt.Errorf("embedder: %w", err)
	}
	if err := c.VectorStore.Validate(); err != nil {
		return fmt.Errorf("vector_store: %w", err)
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	if err := c.RAG.Validate(); err != nil {
		return fmt.Errorf("rag: %w", err)
	}
	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	return nil
}
