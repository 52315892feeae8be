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

package rag

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kadirpekel/docrag/pkg/observability"
	"github.com/kadirpekel/docrag/pkg/utils"
	"github.com/kadirpekel/docrag/pkg/workerpool"
)

// Retrieval defaults.
const (
	DefaultTopK             = 10
	DefaultMaxContextTokens = 4000
	DefaultStageTimeout     = 120 * time.Second
)

// contextSeparator joins chunks in the assembled context.
const contextSeparator = "\n\n"

// IngestRequest asks the orchestrator to index one document.
type IngestRequest struct {
	DocumentID string
	OwnerID    string
	SourceName string
	Text       string
}

// IngestResult describes a completed ingestion.
type IngestResult struct {
	CollectionID   string                   `json:"collection_id"`
	ChunkCount     int                      `json:"chunk_count"`
	TotalTokens    int                      `json:"total_tokens"`
	Dimension      int                      `json:"dimension"`
	EmbeddingModel string                   `json:"embedding_model"`
	StageDurations map[string]time.Duration `json:"stage_durations"`
	Duration       time.Duration            `json:"duration"`
}

// RetrieveRequest asks for context relevant to a question.
type RetrieveRequest struct {
	CollectionID string
	OwnerID      string
	Question     string

	// MaxTokens is the context budget; zero uses the orchestrator default.
	MaxTokens int

	// TopK overrides the number of candidates searched; zero uses the default.
	TopK int
}

// RetrievalResult is the ranked context selected for a question.
// An empty result is valid and means nothing relevant was found.
type RetrievalResult struct {
	CollectionID     string        `json:"collection_id"`
	Chunks           []ScoredChunk `json:"chunks"`
	AssembledContext string        `json:"assembled_context"`
	TotalChunks      int           `json:"total_chunks"`
	TotalTokens      int           `json:"total_tokens"`
	Candidates       int           `json:"candidates"`
	Duration         time.Duration `json:"duration"`
}

// Empty reports whether no context was assembled.
func (r *RetrievalResult) Empty() bool {
	return r == nil || r.TotalChunks == 0
}

// Orchestrator runs ingestion and retrieval pipelines on a bounded worker
// pool, one pool job per stage.
type Orchestrator struct {
	chunker    *RecursiveChunker
	embeddings *EmbeddingService
	store      *VectorStore
	pool       *workerpool.Pool
	tokenizer  utils.Tokenizer

	topK         int
	maxTokens    int
	stageTimeout time.Duration

	metrics *observability.Metrics
	tracer  *observability.Tracer
	stats   *PipelineStats
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithTopK sets the default number of search candidates.
func WithTopK(k int) OrchestratorOption {
	return func(o *Orchestrator) {
		if k > 0 {
			o.topK = k
		}
	}
}

// WithMaxContextTokens sets the default context budget.
func WithMaxContextTokens(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxTokens = n
		}
	}
}

// WithStageTimeout bounds each stage, queueing included.
func WithStageTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d > 0 {
			o.stageTimeout = d
		}
	}
}

// WithTokenizer sets the tokenizer used for context budgeting.
func WithTokenizer(t utils.Tokenizer) OrchestratorOption {
	return func(o *Orchestrator) {
		if t != nil {
			o.tokenizer = t
		}
	}
}

// WithMetrics records stage durations and retrieval sizes.
func WithMetrics(m *observability.Metrics) OrchestratorOption {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithTracer wraps each pipeline in a span.
func WithTracer(t *observability.Tracer) OrchestratorOption {
	return func(o *Orchestrator) {
		o.tracer = t
	}
}

// WithStats collects in-process pipeline counters.
func WithStats(s *PipelineStats) OrchestratorOption {
	return func(o *Orchestrator) {
		o.stats = s
	}
}

// NewOrchestrator creates an orchestrator. The pool is owned by the caller.
func NewOrchestrator(chunker *RecursiveChunker, embeddings *EmbeddingService, store *VectorStore, pool *workerpool.Pool, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		chunker:      chunker,
		embeddings:   embeddings,
		store:        store,
		pool:         pool,
		tokenizer:    utils.Estimator{},
		topK:         DefaultTopK,
		maxTokens:    DefaultMaxContextTokens,
		stageTimeout: DefaultStageTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Store returns the underlying vector store.
func (o *Orchestrator) Store() *VectorStore {
	return o.store
}

// Stats returns the pipeline counters, or nil when not collected.
func (o *Orchestrator) Stats() *PipelineStats {
	return o.stats
}

// Ingest chunks, embeds and stores a document in a new collection.
//
// Stages run strictly in order. Any failure returns a *PipelineStageError
// naming the stage; a collection created before the failure is deleted, so
// a failed ingestion never leaves a collection behind.
func (o *Orchestrator) Ingest(ctx context.Context, req IngestRequest) (result *IngestResult, err error) {
	if req.DocumentID == "" {
		return nil, NewValidationError("document_id", "must not be empty")
	}
	if req.OwnerID == "" {
		return nil, NewValidationError("owner_id", "must not be empty")
	}

	ctx, span := o.tracer.Start(ctx, "rag.ingest",
		attribute.String(observability.AttrDocumentID, req.DocumentID))
	defer func() { observability.EndSpan(span, err) }()

	start := time.Now()
	durations := make(map[string]time.Duration, 4)
	defer func() {
		chunks := 0
		if result != nil {
			chunks = result.ChunkCount
		}
		o.stats.RecordIngest(time.Since(start), chunks, err)
	}()

	var chunks []Chunk
	err = o.runStage(ctx, StageChunking, req.DocumentID, durations, func(ctx context.Context) error {
		c, err := o.chunker.Chunk(req.Text, req.DocumentID, req.SourceName)
		if err != nil {
			return err
		}
		if len(c) == 0 {
			return NewValidationError("text", "no chunk reached the minimum size")
		}
		chunks = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	o.metrics.RecordChunks(ctx, len(chunks))

	var embedded []EmbeddedChunk
	err = o.runStage(ctx, StageEmbedding, req.DocumentID, durations, func(ctx context.Context) error {
		e, err := o.embeddings.EmbedChunks(ctx, chunks)
		if err != nil {
			return err
		}
		embedded = e
		return nil
	})
	if err != nil {
		return nil, err
	}

	var created collectionHandoff
	err = o.runStage(ctx, StageCreateCollection, req.DocumentID, durations, func(ctx context.Context) error {
		id, err := o.store.CreateCollection(ctx, req.DocumentID, req.OwnerID)
		if err != nil {
			return err
		}
		if ctx.Err() != nil || !created.deliver(id) {
			o.cleanup(ctx, id)
			return ctx.Err()
		}
		return nil
	})
	collectionID, ok := created.take(err == nil)
	if err != nil {
		if ok {
			o.cleanup(ctx, collectionID)
		}
		return nil, err
	}

	err = o.runStage(ctx, StageStoring, req.DocumentID, durations, func(ctx context.Context) error {
		return o.store.Store(ctx, collectionID, embedded)
	})
	if err != nil {
		o.cleanup(ctx, collectionID)
		return nil, err
	}

	totalTokens := 0
	for _, c := range chunks {
		totalTokens += c.TokenCount
	}

	result = &IngestResult{
		CollectionID:   collectionID,
		ChunkCount:     len(embedded),
		TotalTokens:    totalTokens,
		Dimension:      len(embedded[0].Vector),
		EmbeddingModel: o.embeddings.Model(),
		StageDurations: durations,
		Duration:       time.Since(start),
	}

	span.SetAttributes(
		attribute.String(observability.AttrCollectionID, collectionID),
		attribute.Int(observability.AttrChunkCount, result.ChunkCount),
	)
	slog.Info("Ingested document",
		"document", req.DocumentID,
		"collection", collectionID,
		"chunks", result.ChunkCount,
		"duration", result.Duration.Round(time.Millisecond))

	return result, nil
}

// Retrieve embeds the question, searches the collection and greedily
// assembles context within the token budget. No chunk above the similarity
// threshold yields an empty result, not an error.
func (o *Orchestrator) Retrieve(ctx context.Context, req RetrieveRequest) (result *RetrievalResult, err error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, NewValidationError("question", "must not be empty")
	}

	ctx, span := o.tracer.Start(ctx, "rag.retrieve",
		attribute.String(observability.AttrCollectionID, req.CollectionID))
	defer func() { observability.EndSpan(span, err) }()

	// Ownership is checked before any external call is made.
	if _, err := o.store.Collection(ctx, req.CollectionID, req.OwnerID); err != nil {
		return nil, err
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = o.maxTokens
	}
	topK := req.TopK
	if topK <= 0 {
		topK = o.topK
	}

	start := time.Now()
	durations := make(map[string]time.Duration, 2)

	var query []float32
	err = o.runStage(ctx, StageQueryEmbedding, "", durations, func(ctx context.Context) error {
		v, err := o.embeddings.EmbedText(ctx, req.Question)
		if err != nil {
			return err
		}
		query = v
		return nil
	})
	if err != nil {
		return nil, err
	}

	var candidates []ScoredChunk
	err = o.runStage(ctx, StageSearch, "", durations, func(ctx context.Context) error {
		c, err := o.store.Search(ctx, req.CollectionID, query, topK, req.OwnerID)
		if err != nil {
			return err
		}
		candidates = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	selected, assembled, tokens := AssembleContext(candidates, maxTokens, o.tokenizer)
	result = &RetrievalResult{
		CollectionID:     req.CollectionID,
		Chunks:           selected,
		AssembledContext: assembled,
		TotalChunks:      len(selected),
		TotalTokens:      tokens,
		Candidates:       len(candidates),
		Duration:         time.Since(start),
	}

	o.metrics.RecordRetrieval(ctx, result.Duration, result.TotalChunks)
	o.stats.RecordRetrieval(result.Duration, result.TotalChunks)
	slog.Debug("Retrieved context",
		"collection", req.CollectionID,
		"candidates", result.Candidates,
		"chunks", result.TotalChunks,
		"tokens", result.TotalTokens)

	return result, nil
}

// AssembleContext takes chunks in the given order while they fit in
// maxTokens, counting separators, and stops at the first chunk that does
// not fit. Chunks are never cut.
func AssembleContext(ranked []ScoredChunk, maxTokens int, tokenizer utils.Tokenizer) ([]ScoredChunk, string, int) {
	if tokenizer == nil {
		tokenizer = utils.Estimator{}
	}
	separatorTokens := tokenizer.Count(contextSeparator)

	selected := make([]ScoredChunk, 0, len(ranked))
	parts := make([]string, 0, len(ranked))
	total := 0

	for _, c := range ranked {
		cost := c.TokenCount
		if cost <= 0 {
			cost = tokenizer.Count(c.Text)
		}
		if len(selected) > 0 {
			cost += separatorTokens
		}
		if total+cost > maxTokens {
			break
		}
		total += cost
		selected = append(selected, c)
		parts = append(parts, c.Text)
	}

	return selected, strings.Join(parts, contextSeparator), total
}

// runStage runs fn as one pool job under the stage timeout and wraps any
// failure in a PipelineStageError.
func (o *Orchestrator) runStage(ctx context.Context, stage, documentID string, durations map[string]time.Duration, fn func(ctx context.Context) error) error {
	ctx, span := o.tracer.Start(ctx, "rag.stage."+stage,
		attribute.String(observability.AttrStage, stage))

	start := time.Now()
	err := o.pool.Submit(ctx, o.stageTimeout, fn)
	elapsed := time.Since(start)
	observability.EndSpan(span, err)

	durations[stage] = elapsed
	o.metrics.RecordStage(ctx, stage, elapsed, err)

	if err == nil {
		return nil
	}

	slog.Error("Pipeline stage failed",
		"stage", stage,
		"document", documentID,
		"duration", elapsed.Round(time.Millisecond),
		"error", err)

	var denied *AccessDeniedError
	if errors.As(err, &denied) {
		return err
	}
	return NewPipelineStageError(stage, documentID, elapsed, err)
}

// collectionHandoff passes a created collection ID from a pool job to the
// caller. The job may outlive a timed out Submit, so whichever side comes
// second owns deleting the collection when the caller gave up.
type collectionHandoff struct {
	mu        sync.Mutex
	id        string
	abandoned bool
}

// deliver stores id unless the caller already gave up.
func (h *collectionHandoff) deliver(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.abandoned {
		return false
	}
	h.id = id
	return true
}

// take returns the delivered ID. With keep false the handoff is marked
// abandoned and a later deliver is refused.
func (h *collectionHandoff) take(keep bool) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !keep {
		h.abandoned = true
	}
	return h.id, h.id != ""
}

// cleanup deletes a collection that will never be referenced. It runs
// detached from ctx so a cancelled pipeline still cleans up.
func (o *Orchestrator) cleanup(ctx context.Context, collectionID string) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if err := o.store.DeleteCollection(cleanupCtx, collectionID, ""); err != nil {
		slog.Warn("Failed to delete abandoned collection", "collection", collectionID, "error", err)
		return
	}
	slog.Debug("Deleted abandoned collection", "collection", collectionID)
}
