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

// RAGConfig configures chunking, embedding, retrieval and the ingestion
// pipeline.
//
// Example:
//
//	rag:
//	  chunk_size: 800
//	  chunk_overlap: 100
//	  min_chunk_tokens: 50
//	  embedding_batch_size: 100
//	  retrieval_top_k: 10
//	  max_context_tokens: 4000
//	  similarity_threshold: 0.2
//	  stage_timeout: 2m
type RAGConfig struct {
	// ChunkSize is the target chunk size in tokens.
	// Default: 800
	ChunkSize int `yaml:"chunk_size,omitempty" json:"chunk_size,omitempty" jsonschema:"minimum=1,default=800"`

	// ChunkOverlap is the overlap between consecutive chunks in tokens.
	// Default: 100
	ChunkOverlap int `yaml:"chunk_overlap,omitempty" json:"chunk_overlap,omitempty" jsonschema:"minimum=0,default=100"`

	// MinChunkTokens drops chunks smaller than this many tokens.
	// Default: 50
	MinChunkTokens int `yaml:"min_chunk_tokens,omitempty" json:"min_chunk_tokens,omitempty" jsonschema:"minimum=0,default=50"`

	// MaxChunksPerDocument caps the chunks produced for one document.
	// Default: 500
	MaxChunksPerDocument int `yaml:"max_chunks_per_document,omitempty" json:"max_chunks_per_document,omitempty" jsonschema:"minimum=1,default=500"`

	// EmbeddingBatchSize is the number of chunks per embedding request.
	// Default: 100
	EmbeddingBatchSize int `yaml:"embedding_batch_size,omitempty" json:"embedding_batch_size,omitempty" jsonschema:"minimum=1,default=100"`

	// EmbeddingBatchInterval is the minimum pause between embedding batches.
	// Default: 100ms
	EmbeddingBatchInterval time.Duration `yaml:"embedding_batch_interval,omitempty" json:"embedding_batch_interval,omitempty"`

	// RetrievalTopK is the number of nearest chunks fetched per question.
	// Default: 10
	RetrievalTopK int `yaml:"retrieval_top_k,omitempty" json:"retrieval_top_k,omitempty" jsonschema:"minimum=1,default=10"`

	// MaxContextTokens is the token budget for assembled RAG context.
	// Default: 4000
	MaxContextTokens int `yaml:"max_context_tokens,omitempty" json:"max_context_tokens,omitempty" jsonschema:"minimum=1,default=4000"`

	// SimilarityThreshold filters out chunks with a lower cosine similarity.
	// Range -1.0 to 1.0. Default: -1.0 (keep everything)
	SimilarityThreshold float64 `yaml:"similarity_threshold" json:"similarity_threshold" jsonschema:"minimum=-1,maximum=1,default=-1"`

	// ShortLongTokenThreshold is the largest token count still classified
	// as a short document.
	// Default: 15000
	ShortLongTokenThreshold int `yaml:"short_long_token_threshold,omitempty" json:"short_long_token_threshold,omitempty" jsonschema:"minimum=1,default=15000"`

	// TruncatedContextTokens is the prefix of the document used when
	// retrieval is unavailable.
	// Default: 8000
	TruncatedContextTokens int `yaml:"truncated_context_tokens,omitempty" json:"truncated_context_tokens,omitempty" jsonschema:"minimum=1,default=8000"`

	// TokenizerModel selects the tiktoken encoding used for exact counts.
	// Empty uses the 4 characters per token estimate.
	TokenizerModel string `yaml:"tokenizer_model,omitempty" json:"tokenizer_model,omitempty"`

	// Workers bounds concurrent pipeline jobs.
	// Default: 3
	Workers int `yaml:"workers,omitempty" json:"workers,omitempty" jsonschema:"minimum=1,default=3"`

	// StageTimeout bounds each pipeline stage, queueing included.
	// Default: 2m
	StageTimeout time.Duration `yaml:"stage_timeout,omitempty" json:"stage_timeout,omitempty"`

	// Retry configures retries of embedding requests.
	Retry RetryConfig `yaml:"retry,omitempty" json:"retry,omitempty"`
}

// RetryConfig configures exponential backoff for external calls.
type RetryConfig struct {
	// MaxAttempts including the first. Default: 3
	MaxAttempts int `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty"`

	// BaseDelay before the second attempt. Default: 1s
	BaseDelay time.Duration `yaml:"base_delay,omitempty" json:"base_delay,omitempty"`

	// Multiplier applied after each failed attempt. Default: 2
	Multiplier float64 `yaml:"multiplier,omitempty" json:"multiplier,omitempty"`

	// MaxDelay caps a single delay. Default: 30s
	MaxDelay time.Duration `yaml:"max_delay,omitempty" json:"max_delay,omitempty"`

	// Jitter is the random fraction added to each delay. Default: 0.1
	Jitter float64 `yaml:"jitter,omitempty" json:"jitter,omitempty"`
}

// DefaultRAGConfig returns the RAG configuration with every knob defaulted.
func DefaultRAGConfig() RAGConfig {
	c := RAGConfig{SimilarityThreshold: -1.0}
	c.SetDefaults()
	return c
}

// SetDefaults applies default values. SimilarityThreshold is left alone
// because zero is a meaningful threshold; DefaultRAGConfig sets it.
func (c *RAGConfig) SetDefaults() {
	if c.ChunkSize == 0 {
		c.ChunkSize = 800
	}
	if c.ChunkOverlap == 0 {
		c.ChunkOverlap = min(100, c.ChunkSize/4)
	}
	if c.MinChunkTokens == 0 {
		c.MinChunkTokens = min(50, c.ChunkSize/4)
	}
	if c.MaxChunksPerDocument == 0 {
		c.MaxChunksPerDocument = 500
	}
	if c.EmbeddingBatchSize == 0 {
		c.EmbeddingBatchSize = 100
	}
	if c.EmbeddingBatchInterval == 0 {
		c.EmbeddingBatchInterval = 100 * time.Millisecond
	}
	if c.RetrievalTopK == 0 {
		c.RetrievalTopK = 10
	}
	if c.MaxContextTokens == 0 {
		c.MaxContextTokens = 4000
	}
	if c.ShortLongTokenThreshold == 0 {
		c.ShortLongTokenThreshold = 15000
	}
	if c.TruncatedContextTokens == 0 {
		c.TruncatedContextTokens = 8000
	}
	if c.Workers == 0 {
		c.Workers = 3
	}
	if c.StageTimeout == 0 {
		c.StageTimeout = 120 * time.Second
	}
	c.Retry.SetDefaults()
}

// Validate checks the RAG configuration.
func (c *RAGConfig) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive")
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("chunk_overlap must be in [0, chunk_size)")
	}
	if c.MinChunkTokens < 0 {
		return fmt.Errorf("min_chunk_tokens must be non-negative")
	}
	if c.MaxChunksPerDocument <= 0 {
		return fmt.Errorf("max_chunks_per_document must be positive")
	}
	if c.EmbeddingBatchSize <= 0 {
		return fmt.Errorf("embedding_batch_size must be positive")
	}
	if c.EmbeddingBatchInterval < 0 {
		return fmt.Errorf("embedding_batch_interval must be non-negative")
	}
	if c.RetrievalTopK <= 0 {
		return fmt.Errorf("retrieval_top_k must be positive")
	}
	if c.MaxContextTokens <= 0 {
		return fmt.Errorf("max_context_tokens must be positive")
	}
	if c.SimilarityThreshold < -1 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity_threshold must be between -1.0 and 1.0")
	}
	if c.ShortLongTokenThreshold <= 0 {
		return fmt.Errorf("short_long_token_threshold must be positive")
	}
	if c.TruncatedContextTokens <= 0 {
		return fmt.Errorf("truncated_context_tokens must be positive")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.StageTimeout <= 0 {
		return fmt.Errorf("stage_timeout must be positive")
	}
	return c.Retry.Validate()
}

// SetDefaults applies default values.
func (c *RetryConfig) SetDefaults() {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = time.Second
	}
	if c.Multiplier == 0 {
		c.Multiplier = 2
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.Jitter == 0 {
		c.Jitter = 0.1
	}
}

// Validate checks the retry configuration.
func (c *RetryConfig) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if c.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be at least 1")
	}
	if c.Jitter < 0 || c.Jitter > 1 {
		return fmt.Errorf("retry.jitter must be between 0 and 1")
	}
	return nil
}
