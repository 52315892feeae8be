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

// Package vector abstracts the vector databases docrag stores chunk
// embeddings in. Every provider measures cosine distance.
package vector

import (
	"context"
	"errors"
)

// ErrCollectionNotFound is returned by providers for unknown collections.
var ErrCollectionNotFound = errors.New("vector collection not found")

// Record is one vector with its payload.
type Record struct {
	ID       string
	Vector   []float32
	Content  string
	Metadata map[string]any
}

// Result is a search hit. Distance is cosine distance (0 = identical,
// 2 = opposite); callers convert to similarity as 1 - Distance.
type Result struct {
	ID       string
	Distance float32
	Content  string
	Metadata map[string]any
}

// Provider is a vector database backend.
type Provider interface {
	// CreateCollection creates an empty collection for vectors of the given dimension.
	CreateCollection(ctx context.Context, collection string, dimension int) error

	// Upsert writes all records in one call.
	Upsert(ctx context.Context, collection string, records []Record) error

	// Search returns up to topK nearest records by cosine distance, nearest
	// first. An empty collection yields no results and no error.
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error)

	// DeleteCollection removes a collection and every record in it.
	DeleteCollection(ctx context.Context, collection string) error

	// Name returns the provider name.
	Name() string

	// Close releases resources.
	Close() error
}
