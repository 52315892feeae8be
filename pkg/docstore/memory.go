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

package docstore

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/kadirpekel/docrag/pkg/document"
)

// MemoryRepository implements document.Repository in process. Documents
// are copied in and out so callers cannot mutate stored state.
type MemoryRepository struct {
	mu   sync.RWMutex
	docs map[string]*document.Document
	now  func() time.Time
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{docs: make(map[string]*document.Document), now: time.Now}
}

func (r *MemoryRepository) Create(_ context.Context, doc *document.Document) error {
	if doc == nil || doc.ID == "" {
		return fmt.Errorf("document ID is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.docs[doc.ID]; exists {
		return fmt.Errorf("%w: %s", document.ErrAlreadyExists, doc.ID)
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = r.now().UTC()
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = doc.CreatedAt
	}
	r.docs[doc.ID] = clone(doc)
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*document.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	doc, ok := r.docs[id]
	if !ok {
		return nil, document.ErrNotFound
	}
	return clone(doc), nil
}

func (r *MemoryRepository) Update(_ context.Context, id string, update document.Update) (*document.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, ok := r.docs[id]
	if !ok {
		return nil, document.ErrNotFound
	}
	update.Apply(doc, r.now().UTC())
	return clone(doc), nil
}

func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.docs[id]; !ok {
		return fmt.Errorf("%w: %s", document.ErrNotFound, id)
	}
	delete(r.docs, id)
	return nil
}

func (r *MemoryRepository) ListByOwner(_ context.Context, ownerID string) ([]*document.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var docs []*document.Document
	for _, doc := range r.docs {
		if doc.OwnerID == ownerID {
			docs = append(docs, clone(doc))
		}
	}
	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.After(docs[j].CreatedAt)
		}
		return docs[i].ID < docs[j].ID
	})
	return docs, nil
}

func clone(doc *document.Document) *document.Document {
	c := *doc
	c.ProcessingMetadata = maps.Clone(doc.ProcessingMetadata)
	return &c
}

var _ document.Repository = (*MemoryRepository)(nil)
