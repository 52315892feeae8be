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

package qa

import (
	"context"
	"errors"
	"strings"

	"github.com/kadirpekel/docrag/pkg/document"
	"github.com/kadirpekel/docrag/pkg/rag"
	"github.com/kadirpekel/docrag/pkg/utils"
)

// Answer methods.
const (
	MethodFullContext = "full_context"
	MethodRAG         = "rag_semantic_search"
	MethodTruncated   = "truncated_context"
	MethodError       = "error"
)

// errNoRelevantContext makes the chain move past a retrieval that found nothing.
var errNoRelevantContext = errors.New("no relevant context found")

// Context is the material a strategy hands to the model.
type Context struct {
	Text     string
	Tokens   int
	Chunks   []rag.ScoredChunk
	Degraded bool
}

// Strategy builds answer context one way. The Answerer tries strategies in
// order and stops at the first that produces an answer.
type Strategy interface {
	// Name is reported as the answer method.
	Name() string

	// Applies reports whether the strategy can serve q at all.
	Applies(q *Question) bool

	// BuildContext selects the context for q.
	BuildContext(ctx context.Context, q *Question) (*Context, error)
}

// Retriever fetches ranked context from a document's collection.
// *rag.Orchestrator implements it.
type Retriever interface {
	Retrieve(ctx context.Context, req rag.RetrieveRequest) (*rag.RetrievalResult, error)
}

// FullContextStrategy answers short documents from their whole text.
type FullContextStrategy struct {
	tokenizer utils.Tokenizer
}

// NewFullContextStrategy creates the full-text strategy.
func NewFullContextStrategy(tokenizer utils.Tokenizer) *FullContextStrategy {
	if tokenizer == nil {
		tokenizer = utils.Estimator{}
	}
	return &FullContextStrategy{tokenizer: tokenizer}
}

func (s *FullContextStrategy) Name() string { return MethodFullContext }

func (s *FullContextStrategy) Applies(q *Question) bool {
	return q.Document.Type == document.TypeShort
}

func (s *FullContextStrategy) BuildContext(_ context.Context, q *Question) (*Context, error) {
	if strings.TrimSpace(q.Document.Text) == "" {
		return nil, rag.NewValidationError("document.text", "document has no text")
	}
	tokens := q.Document.TokenCount
	if tokens <= 0 {
		tokens = s.tokenizer.Count(q.Document.Text)
	}
	return &Context{Text: q.Document.Text, Tokens: tokens}, nil
}

// RAGStrategy answers long documents from chunks retrieved by similarity.
type RAGStrategy struct {
	retriever Retriever
	maxTokens int
}

// NewRAGStrategy creates the retrieval strategy. maxTokens <= 0 leaves the
// budget to the retriever.
func NewRAGStrategy(retriever Retriever, maxTokens int) *RAGStrategy {
	return &RAGStrategy{retriever: retriever, maxTokens: maxTokens}
}

func (s *RAGStrategy) Name() string { return MethodRAG }

func (s *RAGStrategy) Applies(q *Question) bool {
	return s.retriever != nil && q.Document.Type == document.TypeLong && q.Document.HasCollection()
}

func (s *RAGStrategy) BuildContext(ctx context.Context, q *Question) (*Context, error) {
	maxTokens := s.maxTokens
	if q.MaxContextTokens > 0 {
		maxTokens = q.MaxContextTokens
	}

	result, err := s.retriever.Retrieve(ctx, rag.RetrieveRequest{
		CollectionID: q.Document.CollectionID,
		OwnerID:      q.OwnerID,
		Question:     q.Text,
		MaxTokens:    maxTokens,
	})
	if err != nil {
		return nil, err
	}
	if result.Empty() {
		return nil, errNoRelevantContext
	}
	return &Context{
		Text:   result.AssembledContext,
		Tokens: result.TotalTokens,
		Chunks: result.Chunks,
	}, nil
}

// TruncatedStrategy answers long documents from a prefix of their text.
// Its answers are marked degraded.
type TruncatedStrategy struct {
	tokenizer utils.Tokenizer
	maxTokens int
}

// DefaultTruncatedTokens is the prefix length used by TruncatedStrategy.
const DefaultTruncatedTokens = 8000

// NewTruncatedStrategy creates the prefix strategy.
func NewTruncatedStrategy(tokenizer utils.Tokenizer, maxTokens int) *TruncatedStrategy {
	if tokenizer == nil {
		tokenizer = utils.Estimator{}
	}
	if maxTokens <= 0 {
		maxTokens = DefaultTruncatedTokens
	}
	return &TruncatedStrategy{tokenizer: tokenizer, maxTokens: maxTokens}
}

func (s *TruncatedStrategy) Name() string { return MethodTruncated }

func (s *TruncatedStrategy) Applies(q *Question) bool {
	return q.Document.Type == document.TypeLong
}

func (s *TruncatedStrategy) BuildContext(_ context.Context, q *Question) (*Context, error) {
	if strings.TrimSpace(q.Document.Text) == "" {
		return nil, rag.NewValidationError("document.text", "document has no text")
	}
	text := s.tokenizer.Truncate(q.Document.Text, s.maxTokens)
	return &Context{
		Text:     text,
		Tokens:   s.tokenizer.Count(text),
		Degraded: true,
	}, nil
}

var (
	_ Strategy = (*FullContextStrategy)(nil)
	_ Strategy = (*RAGStrategy)(nil)
	_ Strategy = (*TruncatedStrategy)(nil)
)
