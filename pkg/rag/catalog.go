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
	"fmt"
	"sync"
	"time"
)

// CollectionRecord is the ownership record of one vector collection.
// OwnerID and DocumentID never change after creation.
type CollectionRecord struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	OwnerID    string    `json:"owner_id"`
	Dimension  int       `json:"dimension"`
	ChunkCount int       `json:"chunk_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// CollectionCatalog persists collection ownership records.
type CollectionCatalog interface {
	// CreateCollectionRecord stores a new record. Creating an existing ID fails.
	CreateCollectionRecord(ctx context.Context, record CollectionRecord) error

	// GetCollectionRecord returns ErrCollectionNotFound for unknown IDs.
	GetCollectionRecord(ctx context.Context, id string) (*CollectionRecord, error)

	// UpdateCollectionStats sets the dimension and chunk count after a store.
	UpdateCollectionStats(ctx context.Context, id string, dimension, chunkCount int) error

	// DeleteCollectionRecord removes a record. Unknown IDs are not an error.
	DeleteCollectionRecord(ctx context.Context, id string) error
}

// MemoryCatalog is an in-process CollectionCatalog.
type MemoryCatalog struct {
	mu      sync.RWMutex
	records map[string]CollectionRecord
}

// NewMemoryCatalog creates an empty in-memory catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{records: make(map[string]CollectionRecord)}
}

// CreateCollectionRecord implements CollectionCatalog.
func (c *MemoryCatalog) CreateCollectionRecord(_ context.Context, record CollectionRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.records[record.ID]; exists {
		return fmt.Errorf("collection %q already exists", record.ID)
	}
	c.records[record.ID] = record
	return nil
}

// GetCollectionRecord implements CollectionCatalog.
func (c *MemoryCatalog) GetCollectionRecord(_ context.Context, id string) (*CollectionRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	record, ok := c.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, id)
	}
	return &record, nil
}

// UpdateCollectionStats implements CollectionCatalog.
func (c *MemoryCatalog) UpdateCollectionStats(_ context.Context, id string, dimension, chunkCount int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	record, ok := c.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, id)
	}
	record.Dimension = dimension
	record.ChunkCount = chunkCount
	c.records[id] = record
	return nil
}

// DeleteCollectionRecord implements CollectionCatalog.
func (c *MemoryCatalog) DeleteCollectionRecord(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.records, id)
	return nil
}

// Len returns the number of records.
func (c *MemoryCatalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

var _ CollectionCatalog = (*MemoryCatalog)(nil)
