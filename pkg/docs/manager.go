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

// Package docs manages the document lifecycle: classification, ingestion,
// collection replacement and question answering.
package docs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/docrag/pkg/document"
	"github.com/kadirpekel/docrag/pkg/observability"
	"github.com/kadirpekel/docrag/pkg/qa"
	"github.com/kadirpekel/docrag/pkg/rag"
)

var (
	// ErrAccessDenied is returned when a caller touches another owner's document.
	ErrAccessDenied = errors.New("access denied")

	// ErrProcessingInFlight is returned when a document is already being processed.
	ErrProcessingInFlight = errors.New("document is already being processed")
)

// Processing metadata keys.
const (
	MetaClassifiedAs   = "classified_as"
	MetaStartedAt      = "processing_started_at"
	MetaDurationMS     = "processing_duration_ms"
	MetaEmbeddingModel = "embedding_model"
	MetaDimension      = "embedding_dimension"
	MetaTotalTokens    = "chunk_tokens"
	MetaStageDurations = "stage_durations_ms"
	MetaError          = "error"
	MetaFailedStage    = "failed_stage"
)

// CreateRequest describes a new document.
type CreateRequest struct {
	// ID is generated when empty.
	ID         string
	OwnerID    string
	SourceName string
	Text       string
}

// AskRequest is a question about one document.
type AskRequest struct {
	DocumentID string
	OwnerID    string
	Question   string

	// MaxContextTokens overrides the retrieval budget when positive.
	MaxContextTokens int
}

// Manager owns document state. It persists every transition through the
// repository and never leaves a document referencing a partial collection.
type Manager struct {
	repo         document.Repository
	classifier   *document.Classifier
	orchestrator *rag.Orchestrator
	answerer     *qa.Answerer
	metrics      *observability.Metrics
	newID        func() string

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics records document outcomes.
func WithMetrics(m *observability.Metrics) Option {
	return func(mgr *Manager) {
		mgr.metrics = m
	}
}

// WithIDGenerator replaces the UUID document ID generator.
func WithIDGenerator(fn func() string) Option {
	return func(mgr *Manager) {
		if fn != nil {
			mgr.newID = fn
		}
	}
}

// NewManager creates a document manager.
func NewManager(repo document.Repository, classifier *document.Classifier, orchestrator *rag.Orchestrator, answerer *qa.Answerer, opts ...Option) *Manager {
	if classifier == nil {
		classifier = document.NewClassifier(0, nil)
	}
	m := &Manager{
		repo:         repo,
		classifier:   classifier,
		orchestrator: orchestrator,
		answerer:     answerer,
		newID:        uuid.NewString,
		inFlight:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create stores a new document and processes it. The returned document
// reflects the final state; a processing failure is returned alongside a
// document marked failed.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*document.Document, error) {
	if req.OwnerID == "" {
		return nil, rag.NewValidationError("owner_id", "must not be empty")
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, rag.NewValidationError("text", "document text is empty")
	}

	id := req.ID
	if id == "" {
		id = m.newID()
	}
	if !m.acquire(id) {
		return nil, ErrProcessingInFlight
	}
	defer m.release(id)

	if _, err := m.repo.Get(ctx, id); err == nil {
		return nil, fmt.Errorf("%w: %s", document.ErrAlreadyExists, id)
	} else if !errors.Is(err, document.ErrNotFound) {
		return nil, err
	}

	doc := &document.Document{
		ID:         id,
		OwnerID:    req.OwnerID,
		SourceName: req.SourceName,
		Text:       req.Text,
		Status:     document.StatusProcessing,
	}
	if err := m.repo.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	return m.process(ctx, doc)
}

// Reprocess classifies and ingests the document again. A new collection
// replaces the old one only after it is fully stored.
func (m *Manager) Reprocess(ctx context.Context, id, ownerID string) (*document.Document, error) {
	if !m.acquire(id) {
		return nil, ErrProcessingInFlight
	}
	defer m.release(id)

	doc, err := m.Get(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}

	doc, err = m.repo.Update(ctx, id, document.Update{
		Status:             document.Ptr(document.StatusProcessing),
		ProcessingMetadata: map[string]any{MetaError: "", MetaFailedStage: ""},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to mark document processing: %w", err)
	}
	return m.process(ctx, doc)
}

func (m *Manager) process(ctx context.Context, doc *document.Document) (*document.Document, error) {
	start := time.Now()
	docType, tokens := m.classifier.ClassifyText(doc.Text)
	previous := doc.CollectionID

	slog.Info("Processing document",
		"document", doc.ID,
		"type", docType,
		"tokens", tokens)

	metadata := map[string]any{
		MetaClassifiedAs: string(docType),
		MetaStartedAt:    start.UTC().Format(time.RFC3339),
	}
	update := document.Update{
		Type:               document.Ptr(docType),
		TokenCount:         document.Ptr(tokens),
		ProcessingMetadata: metadata,
	}

	var ingestErr error
	if docType == document.TypeShort {
		update.Status = document.Ptr(document.StatusCompleted)
		update.ClearCollection = true
		update.ChunkCount = document.Ptr(0)
	} else {
		result, err := m.orchestrator.Ingest(ctx, rag.IngestRequest{
			DocumentID: doc.ID,
			OwnerID:    doc.OwnerID,
			SourceName: doc.SourceName,
			Text:       doc.Text,
		})
		if err != nil {
			ingestErr = err
			update.Status = document.Ptr(document.StatusFailed)
			metadata[MetaError] = err.Error()
			var stageErr *rag.PipelineStageError
			if errors.As(err, &stageErr) {
				metadata[MetaFailedStage] = stageErr.Stage
			}
		} else {
			update.Status = document.Ptr(document.StatusCompleted)
			update.CollectionID = document.Ptr(result.CollectionID)
			update.ChunkCount = document.Ptr(result.ChunkCount)
			metadata[MetaEmbeddingModel] = result.EmbeddingModel
			metadata[MetaDimension] = result.Dimension
			metadata[MetaTotalTokens] = result.TotalTokens
			stages := make(map[string]any, len(result.StageDurations))
			for stage, d := range result.StageDurations {
				stages[stage] = d.Milliseconds()
			}
			metadata[MetaStageDurations] = stages
		}
	}
	metadata[MetaDurationMS] = time.Since(start).Milliseconds()

	// Persist even if the caller has gone away, so the document never
	// stays in processing.
	persistCtx := context.WithoutCancel(ctx)
	updated, err := m.repo.Update(persistCtx, doc.ID, update)
	if err != nil {
		if update.CollectionID != nil {
			m.dropCollection(persistCtx, *update.CollectionID)
		}
		return nil, errors.Join(ingestErr, fmt.Errorf("failed to persist document state: %w", err))
	}
	m.metrics.RecordDocument(ctx, string(docType), string(updated.Status))

	if ingestErr != nil {
		slog.Error("Document processing failed", "document", doc.ID, "error", ingestErr)
		return updated, ingestErr
	}

	if previous != "" && previous != updated.CollectionID {
		m.dropCollection(persistCtx, previous)
	}

	slog.Info("Document processed",
		"document", doc.ID,
		"type", docType,
		"collection", updated.CollectionID,
		"chunks", updated.ChunkCount,
		"duration", time.Since(start).Round(time.Millisecond))
	return updated, nil
}

// Ask answers a question about a document the caller owns.
func (m *Manager) Ask(ctx context.Context, req AskRequest) (*qa.Answer, error) {
	doc, err := m.Get(ctx, req.DocumentID, req.OwnerID)
	if err != nil {
		return nil, err
	}
	if doc.Type == "" {
		// Never classified: the first processing run is still going.
		return nil, ErrProcessingInFlight
	}
	return m.answerer.Answer(ctx, &qa.Question{
		Document:         doc,
		OwnerID:          req.OwnerID,
		Text:             req.Question,
		MaxContextTokens: req.MaxContextTokens,
	})
}

// Get returns a document the caller owns.
func (m *Manager) Get(ctx context.Context, id, ownerID string) (*document.Document, error) {
	doc, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if ownerID == "" || doc.OwnerID != ownerID {
		slog.Warn("Document access denied", "document", id, "owner", ownerID)
		return nil, ErrAccessDenied
	}
	return doc, nil
}

// List returns the caller's documents, newest first.
func (m *Manager) List(ctx context.Context, ownerID string) ([]*document.Document, error) {
	if ownerID == "" {
		return nil, rag.NewValidationError("owner_id", "must not be empty")
	}
	return m.repo.ListByOwner(ctx, ownerID)
}

// Delete removes a document and its collection.
func (m *Manager) Delete(ctx context.Context, id, ownerID string) error {
	if !m.acquire(id) {
		return ErrProcessingInFlight
	}
	defer m.release(id)

	doc, err := m.Get(ctx, id, ownerID)
	if err != nil {
		return err
	}

	if doc.HasCollection() {
		err := m.orchestrator.Store().DeleteCollection(ctx, doc.CollectionID, ownerID)
		if err != nil && !errors.Is(err, rag.ErrCollectionNotFound) {
			return fmt.Errorf("failed to delete collection: %w", err)
		}
	}
	if err := m.repo.Delete(ctx, id); err != nil {
		return err
	}

	slog.Info("Deleted document", "document", id, "collection", doc.CollectionID)
	return nil
}

// dropCollection removes a collection no document references any more.
func (m *Manager) dropCollection(ctx context.Context, collectionID string) {
	if err := m.orchestrator.Store().DeleteCollection(ctx, collectionID, ""); err != nil && !errors.Is(err, rag.ErrCollectionNotFound) {
		slog.Warn("Failed to delete replaced collection", "collection", collectionID, "error", err)
		return
	}
	slog.Debug("Deleted replaced collection", "collection", collectionID)
}

func (m *Manager) acquire(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.inFlight[id]; busy {
		return false
	}
	m.inFlight[id] = struct{}{}
	return true
}

func (m *Manager) release(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inFlight, id)
}
