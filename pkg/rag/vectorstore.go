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
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/docrag/pkg/observability"
	"github.com/kadirpekel/docrag/pkg/vector"
)

// DefaultSimilarityThreshold keeps every search result.
const DefaultSimilarityThreshold = -1.0

// ScoredChunk is a search hit with its cosine similarity.
type ScoredChunk struct {
	Chunk
	Similarity float64 `json:"similarity"`
}

// VectorStore manages one collection per document on top of a vector
// provider, and enforces collection ownership through a catalog.
//
// A non-empty ownerID must match the collection's recorded owner. An empty
// ownerID skips the check and is reserved for maintenance paths such as
// pipeline cleanup.
type VectorStore struct {
	provider  vector.Provider
	catalog   CollectionCatalog
	threshold float64
	dimension int
	metrics   *observability.Metrics
	now       func() time.Time
}

// VectorStoreOption configures a VectorStore.
type VectorStoreOption func(*VectorStore)

// WithSimilarityThreshold drops search results below t.
func WithSimilarityThreshold(t float64) VectorStoreOption {
	return func(s *VectorStore) {
		s.threshold = t
	}
}

// WithDimension fixes the vector dimension of new collections. Without it
// the dimension is taken from the first stored vector.
func WithDimension(d int) VectorStoreOption {
	return func(s *VectorStore) {
		s.dimension = d
	}
}

// WithVectorStoreMetrics records denied access attempts.
func WithVectorStoreMetrics(m *observability.Metrics) VectorStoreOption {
	return func(s *VectorStore) {
		s.metrics = m
	}
}

// NewVectorStore creates a vector store.
func NewVectorStore(provider vector.Provider, catalog CollectionCatalog, opts ...VectorStoreOption) *VectorStore {
	s := &VectorStore{
		provider:  provider,
		catalog:   catalog,
		threshold: DefaultSimilarityThreshold,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Threshold returns the similarity threshold.
func (s *VectorStore) Threshold() float64 {
	return s.threshold
}

// CollectionName returns a fresh collection name for a document.
func CollectionName(documentID string) string {
	return fmt.Sprintf("doc_%s_%s", sanitizeName(documentID), strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func sanitizeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, s)
}

// CreateCollection creates an empty collection owned by ownerID and returns
// its ID. This is the only place ownership is assigned.
func (s *VectorStore) CreateCollection(ctx context.Context, documentID, ownerID string) (string, error) {
	if documentID == "" {
		return "", NewValidationError("document_id", "must not be empty")
	}
	if ownerID == "" {
		return "", NewValidationError("owner_id", "must not be empty")
	}

	id := CollectionName(documentID)
	record := CollectionRecord{
		ID:         id,
		DocumentID: documentID,
		OwnerID:    ownerID,
		Dimension:  s.dimension,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.catalog.CreateCollectionRecord(ctx, record); err != nil {
		return "", fmt.Errorf("failed to record collection: %w", err)
	}

	if err := s.provider.CreateCollection(ctx, id, s.dimension); err != nil {
		if delErr := s.catalog.DeleteCollectionRecord(context.WithoutCancel(ctx), id); delErr != nil {
			slog.Warn("Failed to remove collection record", "collection", id, "error", delErr)
		}
		return "", NewExternalServiceError("vector_store", "create_collection", DefaultRetryable(err), err)
	}

	slog.Debug("Created collection", "collection", id, "document", documentID)
	return id, nil
}

// Store writes all chunks into the collection in one upsert. Every vector
// must have the collection's dimension.
func (s *VectorStore) Store(ctx context.Context, collectionID string, chunks []EmbeddedChunk) error {
	if len(chunks) == 0 {
		return NewValidationError("chunks", "must not be empty")
	}

	record, err := s.catalog.GetCollectionRecord(ctx, collectionID)
	if err != nil {
		return err
	}

	dimension := record.Dimension
	if dimension == 0 {
		dimension = len(chunks[0].Vector)
	}

	records := make([]vector.Record, len(chunks))
	for i, c := range chunks {
		if len(c.Vector) != dimension {
			return NewValidationError(fmt.Sprintf("chunks[%d].vector", i),
				fmt.Sprintf("dimension %d does not match collection dimension %d", len(c.Vector), dimension))
		}
		records[i] = vector.Record{
			ID:       c.ID,
			Vector:   c.Vector,
			Content:  c.Text,
			Metadata: coerceMetadata(c.Metadata),
		}
	}

	if err := s.provider.Upsert(ctx, collectionID, records); err != nil {
		return NewExternalServiceError("vector_store", "upsert", DefaultRetryable(err), err)
	}

	if err := s.catalog.UpdateCollectionStats(ctx, collectionID, dimension, len(chunks)); err != nil {
		return fmt.Errorf("failed to update collection record: %w", err)
	}
	return nil
}

// Collection returns the collection record after an ownership check.
func (s *VectorStore) Collection(ctx context.Context, collectionID, ownerID string) (*CollectionRecord, error) {
	return s.authorize(ctx, collectionID, ownerID)
}

// Search returns up to topK chunks with similarity at or above the
// threshold, ordered by descending similarity. An empty collection yields
// an empty slice and no error.
func (s *VectorStore) Search(ctx context.Context, collectionID string, query []float32, topK int, ownerID string) ([]ScoredChunk, error) {
	record, err := s.authorize(ctx, collectionID, ownerID)
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, NewValidationError("top_k", "must be positive")
	}
	if len(query) == 0 {
		return nil, NewValidationError("vector", "must not be empty")
	}
	if record.Dimension > 0 && len(query) != record.Dimension {
		return nil, NewValidationError("vector",
			fmt.Sprintf("dimension %d does not match collection dimension %d", len(query), record.Dimension))
	}

	results, err := s.provider.Search(ctx, collectionID, query, topK)
	if err != nil {
		if errors.Is(err, vector.ErrCollectionNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collectionID)
		}
		return nil, NewExternalServiceError("vector_store", "search", DefaultRetryable(err), err)
	}

	scored := make([]ScoredChunk, 0, len(results))
	for _, r := range results {
		similarity := 1 - float64(r.Distance)
		if similarity < s.threshold {
			continue
		}
		scored = append(scored, ScoredChunk{Chunk: chunkFromResult(r), Similarity: similarity})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Similarity != scored[j].Similarity {
			return scored[i].Similarity > scored[j].Similarity
		}
		return scored[i].Index < scored[j].Index
	})

	return scored, nil
}

// DeleteCollection removes the collection and its ownership record.
func (s *VectorStore) DeleteCollection(ctx context.Context, collectionID, ownerID string) error {
	if _, err := s.authorize(ctx, collectionID, ownerID); err != nil {
		return err
	}

	if err := s.provider.DeleteCollection(ctx, collectionID); err != nil && !errors.Is(err, vector.ErrCollectionNotFound) {
		return NewExternalServiceError("vector_store", "delete_collection", DefaultRetryable(err), err)
	}
	if err := s.catalog.DeleteCollectionRecord(ctx, collectionID); err != nil {
		return fmt.Errorf("failed to remove collection record: %w", err)
	}

	slog.Debug("Deleted collection", "collection", collectionID)
	return nil
}

func (s *VectorStore) authorize(ctx context.Context, collectionID, ownerID string) (*CollectionRecord, error) {
	if collectionID == "" {
		return nil, NewValidationError("collection_id", "must not be empty")
	}
	record, err := s.catalog.GetCollectionRecord(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	if ownerID != "" && ownerID != record.OwnerID {
		s.metrics.RecordAccessDenied(ctx)
		slog.Warn("Collection access denied", "collection", collectionID, "owner", ownerID)
		return nil, &AccessDeniedError{CollectionID: collectionID, OwnerID: ownerID}
	}
	return record, nil
}

// coerceMetadata keeps strings, bools and numbers and stringifies the rest.
func coerceMetadata(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		switch val := v.(type) {
		case nil:
			continue
		case string, bool, float64, float32:
			out[k] = val
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			out[k] = toInt(val)
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}

func chunkFromResult(r vector.Result) Chunk {
	metadata := r.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	return Chunk{
		ID:         r.ID,
		Text:       r.Content,
		Index:      toInt(metadata["chunk_index"]),
		TokenCount: toInt(metadata["token_count"]),
		Metadata:   metadata,
	}
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int8:
		return int(n)
	case int16:
		return int(n)
	case int32:
		return int(n)
	case int64:
		return int(n)
	case uint:
		return int(n)
	case uint8:
		return int(n)
	case uint16:
		return int(n)
	case uint32:
		return int(n)
	case uint64:
		return int(n)
	case float32:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
