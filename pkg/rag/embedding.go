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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kadirpekel/docrag/pkg/embedder"
	"github.com/kadirpekel/docrag/pkg/observability"
	"github.com/kadirpekel/docrag/pkg/utils"
)

// DefaultEmbeddingBatchSize is the number of chunks sent per embedding request.
const DefaultEmbeddingBatchSize = 100

// EmbeddedChunk is a chunk paired with its embedding vector.
type EmbeddedChunk struct {
	Chunk
	Vector []float32 `json:"-"`
}

// EmbeddingService turns chunks and questions into vectors.
//
// Chunks are sent in sequential batches with a rate-limited pause between
// them; each batch is retried under the service's RetryPolicy.
type EmbeddingService struct {
	embedder  embedder.Embedder
	batchSize int
	limiter   *rate.Limiter
	retryer   *Retryer
	tokenizer utils.Tokenizer
	metrics   *observability.Metrics
}

// EmbeddingOption configures an EmbeddingService.
type EmbeddingOption func(*EmbeddingService)

// WithBatchSize sets the number of chunks per request.
func WithBatchSize(n int) EmbeddingOption {
	return func(s *EmbeddingService) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithBatchInterval sets the minimum pause between consecutive batches.
// Zero disables the pause.
func WithBatchInterval(d time.Duration) EmbeddingOption {
	return func(s *EmbeddingService) {
		if d <= 0 {
			s.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		s.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithRetryPolicy sets the retry policy applied to each batch.
func WithRetryPolicy(p RetryPolicy) EmbeddingOption {
	return func(s *EmbeddingService) {
		s.retryer = NewRetryer(p)
	}
}

// WithEmbeddingTokenizer sets the tokenizer used to count query tokens.
func WithEmbeddingTokenizer(t utils.Tokenizer) EmbeddingOption {
	return func(s *EmbeddingService) {
		if t != nil {
			s.tokenizer = t
		}
	}
}

// WithEmbeddingMetrics records batch counts and token usage.
func WithEmbeddingMetrics(m *observability.Metrics) EmbeddingOption {
	return func(s *EmbeddingService) {
		s.metrics = m
	}
}

// NewEmbeddingService creates an embedding service over e.
func NewEmbeddingService(e embedder.Embedder, opts ...EmbeddingOption) *EmbeddingService {
	s := &EmbeddingService{
		embedder:  e,
		batchSize: DefaultEmbeddingBatchSize,
		limiter:   rate.NewLimiter(rate.Every(100*time.Millisecond), 1),
		retryer:   NewRetryer(DefaultRetryPolicy()),
		tokenizer: utils.Estimator{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Model returns the embedding model name.
func (s *EmbeddingService) Model() string {
	return s.embedder.Model()
}

// Dimension returns the configured embedding dimension.
func (s *EmbeddingService) Dimension() int {
	return s.embedder.Dimension()
}

// EmbedChunks embeds every chunk, preserving order. All returned vectors
// share one dimension.
func (s *EmbeddingService) EmbedChunks(ctx context.Context, chunks []Chunk) ([]EmbeddedChunk, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	for i, c := range chunks {
		if strings.TrimSpace(c.Text) == "" {
			return nil, NewValidationError(fmt.Sprintf("chunks[%d].text", i), "must not be empty")
		}
		if c.Metadata == nil {
			return nil, NewValidationError(fmt.Sprintf("chunks[%d].metadata", i), "must not be nil")
		}
	}

	out := make([]EmbeddedChunk, 0, len(chunks))
	dimension := 0
	batches := (len(chunks) + s.batchSize - 1) / s.batchSize

	for start := 0; start < len(chunks); start += s.batchSize {
		end := min(start+s.batchSize, len(chunks))
		batch := chunks[start:end]
		batchNum := start/s.batchSize + 1

		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for embedding batch %d/%d: %w", batchNum, batches, err)
		}

		texts := make([]string, len(batch))
		tokens := 0
		for i, c := range batch {
			texts[i] = c.Text
			tokens += c.TokenCount
		}

		vectors, err := DoWithResult(ctx, s.retryer, "embed_batch", func(ctx context.Context) ([][]float32, error) {
			v, err := s.embedder.EmbedBatch(ctx, texts)
			if err != nil {
				return nil, classifyEmbedderError("embed_batch", err)
			}
			return v, nil
		})
		s.metrics.RecordEmbeddingBatch(ctx, s.embedder.Model(), tokens, err)
		if err != nil {
			return nil, fmt.Errorf("embedding batch %d/%d: %w", batchNum, batches, err)
		}
		if len(vectors) != len(batch) {
			return nil, NewExternalServiceError("embedder", "embed_batch", false,
				fmt.Errorf("got %d vectors for %d chunks", len(vectors), len(batch)))
		}

		for i, v := range vectors {
			if dimension == 0 {
				dimension = len(v)
			}
			if len(v) == 0 || len(v) != dimension {
				return nil, NewExternalServiceError("embedder", "embed_batch", false,
					fmt.Errorf("chunk %s: embedding dimension %d, expected %d", batch[i].ID, len(v), dimension))
			}
			out = append(out, EmbeddedChunk{Chunk: batch[i], Vector: v})
		}

		slog.Debug("Embedded batch", "batch", batchNum, "of", batches, "chunks", len(batch), "tokens", tokens)
	}

	return out, nil
}

// EmbedText embeds a single text such as a question.
func (s *EmbeddingService) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, NewValidationError("text", "must not be empty")
	}

	vector, err := DoWithResult(ctx, s.retryer, "embed_text", func(ctx context.Context) ([]float32, error) {
		v, err := s.embedder.Embed(ctx, text)
		if err != nil {
			return nil, classifyEmbedderError("embed_text", err)
		}
		return v, nil
	})
	s.metrics.RecordEmbeddingBatch(ctx, s.embedder.Model(), s.tokenizer.Count(text), err)
	if err != nil {
		return nil, err
	}
	if len(vector) == 0 {
		return nil, NewExternalServiceError("embedder", "embed_text", false, errors.New("empty embedding"))
	}
	return vector, nil
}

// classifyEmbedderError wraps a provider failure, marking rate limits,
// timeouts, connection failures and 5xx responses as retryable.
func classifyEmbedderError(operation string, err error) error {
	var ext *ExternalServiceError
	if errors.As(err, &ext) {
		return err
	}

	retryable := false
	var apiErr *embedder.APIError
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		retryable = false
	case errors.As(err, &apiErr):
		retryable = apiErr.Temporary()
	case errors.As(err, &netErr):
		retryable = true
	default:
		retryable = DefaultRetryable(err)
	}
	return NewExternalServiceError("embedder", operation, retryable, err)
}
