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

// Package qa answers questions about a document by choosing how much of it
// to show the model.
//
// Strategies are tried in order: the full text of short documents, chunks
// retrieved by similarity for long documents with a collection, then a
// truncated prefix of the text. The first strategy that yields an answer
// wins; a retrieval failure or an empty retrieval falls through to the next.
package qa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kadirpekel/docrag/pkg/document"
	"github.com/kadirpekel/docrag/pkg/llm"
	"github.com/kadirpekel/docrag/pkg/observability"
	"github.com/kadirpekel/docrag/pkg/rag"
)

// apologyMessage is the answer text when every strategy failed.
const apologyMessage = "Sorry, I could not answer this question about the document right now. Please try again later."

// Question is a question about one document.
type Question struct {
	Document *document.Document
	OwnerID  string
	Text     string

	// MaxContextTokens overrides the retrieval budget when positive.
	MaxContextTokens int
}

// Answer is the uniform result of every answering path.
type Answer struct {
	Success        bool              `json:"success"`
	Answer         string            `json:"answer"`
	Method         string            `json:"method"`
	ChunksUsed     int               `json:"chunks_used"`
	ContextTokens  int               `json:"context_tokens"`
	RelevantChunks []rag.ScoredChunk `json:"relevant_chunks"`
	ProcessingTime time.Duration     `json:"processing_time"`
	Degraded       bool              `json:"degraded"`
	Error          string            `json:"error,omitempty"`
}

// Answerer runs the strategy chain and asks the model.
type Answerer struct {
	strategies []Strategy
	llm        llm.Client
	retryer    *rag.Retryer
	metrics    *observability.Metrics
	tracer     *observability.Tracer
}

// Option configures an Answerer.
type Option func(*Answerer)

// WithStrategies replaces the default strategy chain.
func WithStrategies(s ...Strategy) Option {
	return func(a *Answerer) {
		a.strategies = s
	}
}

// WithRetryPolicy sets the retry policy for model calls.
func WithRetryPolicy(p rag.RetryPolicy) Option {
	return func(a *Answerer) {
		a.retryer = rag.NewRetryer(p)
	}
}

// WithMetrics records answers by method.
func WithMetrics(m *observability.Metrics) Option {
	return func(a *Answerer) {
		a.metrics = m
	}
}

// WithTracer wraps each answer in a span.
func WithTracer(t *observability.Tracer) Option {
	return func(a *Answerer) {
		a.tracer = t
	}
}

// NewAnswerer creates an answerer with the standard chain: full context,
// retrieval, truncated prefix.
func NewAnswerer(client llm.Client, retriever Retriever, truncatedTokens int, opts ...Option) *Answerer {
	a := &Answerer{
		strategies: []Strategy{
			NewFullContextStrategy(nil),
			NewRAGStrategy(retriever, 0),
			NewTruncatedStrategy(nil, truncatedTokens),
		},
		llm:     client,
		retryer: rag.NewRetryer(rag.DefaultRetryPolicy()),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Answer answers q. A failed strategy is logged and the next one tried.
// When every strategy fails the returned Answer carries an apology and
// MethodError, and the error joins each strategy's failure.
//
// Access denied and caller cancellation stop the chain immediately.
func (a *Answerer) Answer(ctx context.Context, q *Question) (answer *Answer, err error) {
	start := time.Now()
	if err := validateQuestion(q); err != nil {
		return &Answer{Method: MethodError, Answer: apologyMessage, Error: err.Error()}, err
	}

	ctx, span := a.tracer.Start(ctx, "qa.answer",
		attribute.String(observability.AttrDocumentID, q.Document.ID))
	defer func() { observability.EndSpan(span, err) }()

	var failures []error
	for _, s := range a.strategies {
		if !s.Applies(q) {
			continue
		}

		answer, err := a.try(ctx, s, q)
		if err == nil {
			answer.ProcessingTime = time.Since(start)
			span.SetAttributes(attribute.String(observability.AttrMethod, answer.Method))
			a.metrics.RecordAnswer(ctx, answer.Method, answer.Degraded)
			slog.Info("Answered question",
				"document", q.Document.ID,
				"method", answer.Method,
				"chunks", answer.ChunksUsed,
				"context_tokens", answer.ContextTokens,
				"degraded", answer.Degraded)
			return answer, nil
		}

		failures = append(failures, fmt.Errorf("%s: %w", s.Name(), err))
		if stopsChain(ctx, err) {
			break
		}
		if !errors.Is(err, errNoRelevantContext) {
			slog.Warn("Answer strategy failed, trying next",
				"document", q.Document.ID,
				"strategy", s.Name(),
				"error", err)
		}
	}

	if len(failures) == 0 {
		failures = append(failures, fmt.Errorf("no strategy applies to %s document", q.Document.Type))
	}
	err = errors.Join(failures...)
	a.metrics.RecordAnswer(ctx, MethodError, false)
	slog.Error("Failed to answer question", "document", q.Document.ID, "error", err)

	return &Answer{
		Method:         MethodError,
		Answer:         apologyMessage,
		ProcessingTime: time.Since(start),
		Error:          err.Error(),
	}, err
}

func (a *Answerer) try(ctx context.Context, s Strategy, q *Question) (*Answer, error) {
	c, err := s.BuildContext(ctx, q)
	if err != nil {
		return nil, err
	}

	prompt := buildPrompt(q.Document.SourceName, q.Text, c)
	resp, err := rag.DoWithResult(ctx, a.retryer, "llm_complete", func(ctx context.Context) (*llm.Response, error) {
		r, err := a.llm.Complete(ctx, &llm.Request{System: systemPrompt, Prompt: prompt})
		if err != nil {
			return nil, classifyLLMError(err)
		}
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(resp.Text) == "" {
		return nil, rag.NewExternalServiceError("llm", "complete", false, errors.New("empty answer"))
	}

	chunks := c.Chunks
	if chunks == nil {
		chunks = []rag.ScoredChunk{}
	}
	return &Answer{
		Success:        true,
		Answer:         resp.Text,
		Method:         s.Name(),
		ChunksUsed:     len(c.Chunks),
		ContextTokens:  c.Tokens,
		RelevantChunks: chunks,
		Degraded:       c.Degraded,
	}, nil
}

func validateQuestion(q *Question) error {
	switch {
	case q == nil || q.Document == nil:
		return rag.NewValidationError("document", "is required")
	case strings.TrimSpace(q.Text) == "":
		return rag.NewValidationError("question", "must not be empty")
	case sanitizeQuestion(q.Text) == "":
		return rag.NewValidationError("question", "nothing left to ask after removing prompt markers")
	}
	return nil
}

// stopsChain reports failures no later strategy can recover from.
func stopsChain(ctx context.Context, err error) bool {
	var denied *rag.AccessDeniedError
	return errors.As(err, &denied) || ctx.Err() != nil
}

func classifyLLMError(err error) error {
	var apiErr *llm.APIError
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return rag.NewExternalServiceError("llm", "complete", false, err)
	case errors.As(err, &apiErr):
		return rag.NewExternalServiceError("llm", "complete", apiErr.Temporary(), err)
	case errors.As(err, &netErr):
		return rag.NewExternalServiceError("llm", "complete", true, err)
	default:
		return rag.NewExternalServiceError("llm", "complete", rag.DefaultRetryable(err), err)
	}
}
