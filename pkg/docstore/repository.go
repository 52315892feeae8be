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
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kadirpekel/docrag/pkg/document"
)

const createDocumentsSQL = `
CREATE TABLE IF NOT EXISTS documents (
    id VARCHAR(255) PRIMARY KEY,
    owner_id VARCHAR(255) NOT NULL,
    source_name VARCHAR(1024) NOT NULL,
    content TEXT NOT NULL,
    token_count INTEGER NOT NULL,
    doc_type VARCHAR(16),
    status VARCHAR(16) NOT NULL,
    collection_id VARCHAR(255),
    chunk_count INTEGER NOT NULL,
    processing_metadata TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_owner_id ON documents(owner_id);
`

const createDocumentsMySQL = `
CREATE TABLE IF NOT EXISTS documents (
    id VARCHAR(255) PRIMARY KEY,
    owner_id VARCHAR(255) NOT NULL,
    source_name VARCHAR(1024) NOT NULL,
    content LONGTEXT NOT NULL,
    token_count INTEGER NOT NULL,
    doc_type VARCHAR(16),
    status VARCHAR(16) NOT NULL,
    collection_id VARCHAR(255),
    chunk_count INTEGER NOT NULL,
    processing_metadata TEXT,
    created_at TIMESTAMP(6) NOT NULL,
    updated_at TIMESTAMP(6) NOT NULL,
    INDEX idx_documents_owner_id (owner_id)
)
`

const documentColumns = `id, owner_id, source_name, content, token_count, doc_type, status,
collection_id, chunk_count, processing_metadata, created_at, updated_at`

// SQLRepository implements document.Repository on database/sql.
type SQLRepository struct {
	db      *sql.DB
	dialect string
	now     func() time.Time
}

// NewSQLRepository creates the repository and its table.
func NewSQLRepository(ctx context.Context, db *sql.DB, dialect string) (*SQLRepository, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if err := checkDialect(dialect); err != nil {
		return nil, err
	}

	schema := createDocumentsSQL
	if dialect == DialectMySQL {
		schema = createDocumentsMySQL
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to create documents table: %w", err)
	}

	return &SQLRepository{db: db, dialect: dialect, now: time.Now}, nil
}

// Create implements document.Repository.
func (r *SQLRepository) Create(ctx context.Context, doc *document.Document) error {
	if doc == nil || doc.ID == "" {
		return fmt.Errorf("document ID is required")
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = r.now().UTC()
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = doc.CreatedAt
	}

	metadata, err := encodeMetadata(doc.ProcessingMetadata)
	if err != nil {
		return err
	}

	query := rebind(r.dialect, `INSERT INTO documents (`+documentColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = r.db.ExecContext(ctx, query,
		doc.ID, doc.OwnerID, doc.SourceName, doc.Text, doc.TokenCount,
		string(doc.Type), string(doc.Status), nullString(doc.CollectionID),
		doc.ChunkCount, metadata, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert document %s: %w", doc.ID, err)
	}
	return nil
}

// Get implements document.Repository.
func (r *SQLRepository) Get(ctx context.Context, id string) (*document.Document, error) {
	query := rebind(r.dialect, `SELECT `+documentColumns+` FROM documents WHERE id = ?`)
	return scanDocument(r.db.QueryRowContext(ctx, query, id))
}

// Update implements document.Repository. The read and write run in one
// transaction so concurrent updates do not lose metadata keys.
func (r *SQLRepository) Update(ctx context.Context, id string, update document.Update) (doc *document.Document, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	query := rebind(r.dialect, `SELECT `+documentColumns+` FROM documents WHERE id = ?`+forUpdate(r.dialect))
	doc, err = scanDocument(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, err
	}

	update.Apply(doc, r.now().UTC())

	metadata, err := encodeMetadata(doc.ProcessingMetadata)
	if err != nil {
		return nil, err
	}

	query = rebind(r.dialect, `UPDATE documents
SET token_count = ?, doc_type = ?, status = ?, collection_id = ?, chunk_count = ?,
    processing_metadata = ?, updated_at = ?
WHERE id = ?`)
	_, err = tx.ExecContext(ctx, query,
		doc.TokenCount, string(doc.Type), string(doc.Status), nullString(doc.CollectionID),
		doc.ChunkCount, metadata, doc.UpdatedAt, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update document %s: %w", id, err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return doc, nil
}

// Delete implements document.Repository.
func (r *SQLRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, rebind(r.dialect, `DELETE FROM documents WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", document.ErrNotFound, id)
	}
	return nil
}

// ListByOwner implements document.Repository. Newest documents come first.
func (r *SQLRepository) ListByOwner(ctx context.Context, ownerID string) ([]*document.Document, error) {
	query := rebind(r.dialect, `SELECT `+documentColumns+`
FROM documents WHERE owner_id = ? ORDER BY created_at DESC, id`)
	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*document.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*document.Document, error) {
	var (
		doc          document.Document
		docType      sql.NullString
		status       string
		collectionID sql.NullString
		metadata     sql.NullString
	)
	err := row.Scan(&doc.ID, &doc.OwnerID, &doc.SourceName, &doc.Text, &doc.TokenCount,
		&docType, &status, &collectionID, &doc.ChunkCount, &metadata,
		&doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, document.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan document: %w", err)
	}

	doc.Type = document.Type(docType.String)
	doc.Status = document.Status(status)
	doc.CollectionID = collectionID.String
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &doc.ProcessingMetadata); err != nil {
			return nil, fmt.Errorf("failed to decode processing metadata of %s: %w", doc.ID, err)
		}
	}
	return &doc, nil
}

func encodeMetadata(m map[string]any) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode processing metadata: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ document.Repository = (*SQLRepository)(nil)
