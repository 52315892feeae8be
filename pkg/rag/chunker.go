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

package rag

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/kadirpekel/docrag/pkg/utils"
)

// DefaultSeparators are tried in order, coarsest boundary first. The empty
// separator splits between characters and always succeeds.
var DefaultSeparators = []string{"\n\n", "\n", ". ", "! ", "? ", "; ", ": ", ", ", " ", ""}

// Chunk is a contiguous slice of a document's text. Immutable once produced.
type Chunk struct {
	ID         string         `json:"id"`
	Text       string         `json:"text"`
	Index      int            `json:"index"`
	TokenCount int            `json:"token_count"`
	Metadata   map[string]any `json:"metadata"`
}

// ChunkID formats the identifier of the index-th chunk of a document.
func ChunkID(documentID string, index int) string {
	return fmt.Sprintf("%s_chunk_%03d", documentID, index)
}

// ChunkerConfig configures chunking behavior. Sizes are in tokens.
type ChunkerConfig struct {
	// ChunkSize is the target chunk size.
	// Default: 800
	ChunkSize int `yaml:"chunk_size,omitempty"`

	// ChunkOverlap is carried from the end of one chunk into the next.
	// Default: 100 (capped at a quarter of ChunkSize). Negative disables.
	ChunkOverlap int `yaml:"chunk_overlap,omitempty"`

	// MinChunkTokens drops chunks below this size.
	// Default: 50 (capped at a quarter of ChunkSize). Negative disables.
	MinChunkTokens int `yaml:"min_chunk_tokens,omitempty"`

	// MaxChunks caps the chunks produced for one document.
	// Default: 500
	MaxChunks int `yaml:"max_chunks_per_document,omitempty"`

	// Separators override DefaultSeparators.
	Separators []string `yaml:"separators,omitempty"`
}

// DefaultChunkerConfig returns sensible defaults.
func DefaultChunkerConfig() ChunkerConfig {
	cfg := ChunkerConfig{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults applies default values.
func (c *ChunkerConfig) SetDefaults() {
	if c.ChunkSize <= 0 {
		c.ChunkSize = 800
	}
	switch {
	case c.ChunkOverlap == 0:
		c.ChunkOverlap = min(100, c.ChunkSize/4)
	case c.ChunkOverlap < 0:
		c.ChunkOverlap = 0
	}
	switch {
	case c.MinChunkTokens == 0:
		c.MinChunkTokens = min(50, c.ChunkSize/4)
	case c.MinChunkTokens < 0:
		c.MinChunkTokens = 0
	}
	if c.MaxChunks <= 0 {
		c.MaxChunks = 500
	}
	if len(c.Separators) == 0 {
		c.Separators = DefaultSeparators
	}
}

// Validate checks the configuration for errors.
func (c *ChunkerConfig) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("chunk_overlap (%d) must be in [0, chunk_size)", c.ChunkOverlap)
	}
	if c.MinChunkTokens > c.ChunkSize {
		return fmt.Errorf("min_chunk_tokens (%d) cannot exceed chunk_size (%d)", c.MinChunkTokens, c.ChunkSize)
	}
	if c.MaxChunks <= 0 {
		return fmt.Errorf("max_chunks_per_document must be positive, got %d", c.MaxChunks)
	}
	return nil
}

// RecursiveChunker splits text at the coarsest separator that yields pieces
// under the target size, descending to finer separators only for pieces that
// are still too large, then merges adjacent pieces back up to the target
// with overlap. Output is a pure function of the text and configuration.
type RecursiveChunker struct {
	config    ChunkerConfig
	tokenizer utils.Tokenizer
	sizeChars int
	overChars int
}

// NewRecursiveChunker creates a chunker. A nil tokenizer selects utils.Estimator.
func NewRecursiveChunker(cfg ChunkerConfig, tokenizer utils.Tokenizer) *RecursiveChunker {
	cfg.SetDefaults()
	if tokenizer == nil {
		tokenizer = utils.Estimator{}
	}
	return &RecursiveChunker{
		config:    cfg,
		tokenizer: tokenizer,
		sizeChars: cfg.ChunkSize * utils.CharsPerToken,
		overChars: cfg.ChunkOverlap * utils.CharsPerToken,
	}
}

// Config returns the chunker configuration.
func (c *RecursiveChunker) Config() ChunkerConfig {
	return c.config
}

// Chunk splits text into ordered chunks tagged with documentID and sourceName.
func (c *RecursiveChunker) Chunk(text, documentID, sourceName string) ([]Chunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, NewValidationError("text", "document text is empty")
	}
	if documentID == "" {
		return nil, NewValidationError("document_id", "document ID is required")
	}

	pieces := c.split(text, c.config.Separators)

	chunks := make([]Chunk, 0, len(pieces))
	dropped := 0
	for _, piece := range pieces {
		tokens := c.tokenizer.Count(piece)
		if tokens < c.config.MinChunkTokens {
			dropped++
			continue
		}

		if len(chunks) >= c.config.MaxChunks {
			slog.Warn("Chunk limit reached, truncating document",
				"document_id", documentID,
				"limit", c.config.MaxChunks,
				"produced", len(pieces))
			break
		}

		index := len(chunks)
		chunks = append(chunks, Chunk{
			ID:         ChunkID(documentID, index),
			Text:       piece,
			Index:      index,
			TokenCount: tokens,
			Metadata: map[string]any{
				"chunk_index": index,
				"document_id": documentID,
				"source":      sourceName,
				"token_count": tokens,
				"char_count":  len(piece),
			},
		})
	}

	slog.Debug("Chunked document",
		"document_id", documentID,
		"chunks", len(chunks),
		"dropped_small", dropped)

	return chunks, nil
}

func (c *RecursiveChunker) split(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var rest []string
	for i, sep := range separators {
		if sep == "" || strings.Contains(text, sep) {
			separator = sep
			rest = separators[i+1:]
			break
		}
	}

	var final, good []string
	for _, s := range splitKeepingSeparator(text, separator) {
		if len(s) < c.sizeChars {
			good = append(good, s)
			continue
		}
		if len(good) > 0 {
			final = append(final, c.merge(good)...)
			good = nil
		}
		if len(rest) == 0 {
			if t := strings.TrimSpace(s); t != "" {
				final = append(final, t)
			}
			continue
		}
		final = append(final, c.split(s, rest)...)
	}
	if len(good) > 0 {
		final = append(final, c.merge(good)...)
	}
	return final
}

// merge packs pieces into chunks of at most sizeChars, starting each new
// chunk with up to overChars of trailing pieces from the previous one.
func (c *RecursiveChunker) merge(pieces []string) []string {
	var out, current []string
	total := 0

	for _, p := range pieces {
		if total+len(p) > c.sizeChars && len(current) > 0 {
			if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
				out = append(out, doc)
			}
			for total > c.overChars || (total+len(p) > c.sizeChars && total > 0) {
				total -= len(current[0])
				current = current[1:]
			}
		}
		current = append(current, p)
		total += len(p)
	}

	if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
		out = append(out, doc)
	}
	return out
}

// splitKeepingSeparator splits text after each occurrence of sep, so every
// piece but the last ends with the separator. An empty sep splits into runes.
func splitKeepingSeparator(text, sep string) []string {
	if sep == "" {
		pieces := make([]string, 0, len(text))
		for _, r := range text {
			pieces = append(pieces, string(r))
		}
		return pieces
	}

	var pieces []string
	for {
		i := strings.Index(text, sep)
		if i < 0 {
			break
		}
		pieces = append(pieces, text[:i+len(sep)])
		text = text[i+len(sep):]
	}
	if text != "" {
		pieces = append(pieces, text)
	}
	return pieces
}
