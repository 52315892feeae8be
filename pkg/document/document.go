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

// Package document holds the document model, its length classification and
// the persistence boundary the pipeline writes document state through.
package document

import (
	"context"
	"errors"
	"time"
)

// Type is the length class of a document.
type Type string

const (
	TypeShort Type = "short"
	TypeLong  Type = "long"
)

// Status is the processing state of a document.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var (
	// ErrNotFound is returned by repositories for unknown document IDs.
	ErrNotFound = errors.New("document not found")

	// ErrAlreadyExists is returned when creating a document with a taken ID.
	ErrAlreadyExists = errors.New("document already exists")
)

// Document is a unit of ingested text owned by one user.
type Document struct {
	ID                 string         `json:"id"`
	OwnerID            string         `json:"owner_id"`
	SourceName         string         `json:"source_name"`
	Text               string         `json:"-"`
	TokenCount         int            `json:"token_count"`
	Type               Type           `json:"document_type,omitempty"`
	Status             Status         `json:"status"`
	CollectionID       string         `json:"collection_id,omitempty"`
	ChunkCount         int            `json:"chunk_count"`
	ProcessingMetadata map[string]any `json:"processing_metadata,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// HasCollection reports whether the document references a ready vector collection.
func (d *Document) HasCollection() bool {
	return d.CollectionID != ""
}

// Update is a partial write. Nil fields are left untouched. ClearCollection
// removes the collection reference and wins over CollectionID.
type Update struct {
	Type               *Type
	Status             *Status
	TokenCount         *int
	CollectionID       *string
	ClearCollection    bool
	ChunkCount         *int
	ProcessingMetadata map[string]any
}

// Apply merges u into d. ProcessingMetadata keys are merged, not replaced.
func (u Update) Apply(d *Document, now time.Time) {
	if u.Type != nil {
		d.Type = *u.Type
	}
	if u.Status != nil {
		d.Status = *u.Status
	}
	if u.TokenCount != nil {
		d.TokenCount = *u.TokenCount
	}
	if u.CollectionID != nil {
		d.CollectionID = *u.CollectionID
	}
	if u.ClearCollection {
		d.CollectionID = ""
	}
	if u.ChunkCount != nil {
		d.ChunkCount = *u.ChunkCount
	}
	if len(u.ProcessingMetadata) > 0 {
		if d.ProcessingMetadata == nil {
			d.ProcessingMetadata = make(map[string]any, len(u.ProcessingMetadata))
		}
		for k, v := range u.ProcessingMetadata {
			d.ProcessingMetadata[k] = v
		}
	}
	d.UpdatedAt = now
}

// Repository persists documents. Implementations must be safe for concurrent use.
type Repository interface {
	Create(ctx context.Context, doc *Document) error
	Get(ctx context.Context, id string) (*Document, error)
	Update(ctx context.Context, id string, update Update) (*Document, error)
	Delete(ctx context.Context, id string) error
	ListByOwner(ctx context.Context, ownerID string) ([]*Document, error)
}

// Ptr returns a pointer to v. Handy when building an Update.
func Ptr[T any](v T) *T {
	return &v
}
