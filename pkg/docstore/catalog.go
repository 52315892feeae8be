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
	"errors"
	"fmt"

	"github.com/kadirpekel/docrag/pkg/rag"
)

const createCollectionsSQL = `
CREATE TABLE IF NOT EXISTS collections (
    id VARCHAR(255) PRIMARY KEY,
    document_id VARCHAR(255) NOT NULL,
    owner_id VARCHAR(255) NOT NULL,
    dimension INTEGER NOT NULL,
    chunk_count INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_collections_document_id ON collections(document_id);
`

const createCollectionsMySQL = `
CREATE TABLE IF NOT EXISTS collections (
    id VARCHAR(255) PRIMARY KEY,
    document_id VARCHAR(255) NOT NULL,
    owner_id VARCHAR(255) NOT NULL,
    dimension INTEGER NOT NULL,
    chunk_count INTEGER NOT NULL,
    created_at TIMESTAMP(6) NOT NULL,
    INDEX idx_collections_document_id (document_id)
)
`

// SQLCatalog implements rag.CollectionCatalog on database/sql, so
// collection ownership survives restarts.
type SQLCatalog struct {
	db      *sql.DB
	dialect string
}

// NewSQLCatalog creates the catalog and its table.
func NewSQLCatalog(ctx context.Context, db *sql.DB, dialect string) (*SQLCatalog, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if err := checkDialect(dialect); err != nil {
		return nil, err
	}

	schema := createCollectionsSQL
	if dialect == DialectMySQL {
		schema = createCollectionsMySQL
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to create collections table: %w", err)
	}
	return &SQLCatalog{db: db, dialect: dialect}, nil
}

// CreateCollectionRecord implements rag.CollectionCatalog.
func (c *SQLCatalog) CreateCollectionRecord(ctx context.Context, record rag.CollectionRecord) error {
	query := rebind(c.dialect, `INSERT INTO collections (id, document_id, owner_id, dimension, chunk_count, created_at)
VALUES (?, ?, ?, ?, ?, ?)`)
	_, err := c.db.ExecContext(ctx, query,
		record.ID, record.DocumentID, record.OwnerID, record.Dimension, record.ChunkCount, record.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert collection %s: %w", record.ID, err)
	}
	return nil
}

// GetCollectionRecord implements rag.CollectionCatalog.
func (c *SQLCatalog) GetCollectionRecord(ctx context.Context, id string) (*rag.CollectionRecord, error) {
	query := rebind(c.dialect, `SELECT id, document_id, owner_id, dimension, chunk_count, created_at
FROM collections WHERE id = ?`)

	var r rag.CollectionRecord
	err := c.db.QueryRowContext(ctx, query, id).
		Scan(&r.ID, &r.DocumentID, &r.OwnerID, &r.Dimension, &r.ChunkCount, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", rag.ErrCollectionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load collection %s: %w", id, err)
	}
	return &r, nil
}

// UpdateCollectionStats implements rag.CollectionCatalog.
func (c *SQLCatalog) UpdateCollectionStats(ctx context.Context, id string, dimension, chunkCount int) error {
	query := rebind(c.dialect, `UPDATE collections SET dimension = ?, chunk_count = ? WHERE id = ?`)
	res, err := c.db.ExecContext(ctx, query, dimension, chunkCount, id)
	if err != nil {
		return fmt.Errorf("failed to update collection %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// MySQL reports zero affected rows when values are unchanged.
		if _, getErr := c.GetCollectionRecord(ctx, id); getErr != nil {
			return getErr
		}
	}
	return nil
}

// DeleteCollectionRecord implements rag.CollectionCatalog.
func (c *SQLCatalog) DeleteCollectionRecord(ctx context.Context, id string) error {
	if _, err := c.db.ExecContext(ctx, rebind(c.dialect, `DELETE FROM collections WHERE id = ?`), id); err != nil {
		return fmt.Errorf("failed to delete collection %s: %w", id, err)
	}
	return nil
}

// ListByDocument returns the collections recorded for a document, oldest
// first. More than one means a replacement is in progress or was abandoned.
func (c *SQLCatalog) ListByDocument(ctx context.Context, documentID string) ([]rag.CollectionRecord, error) {
	query := rebind(c.dialect, `SELECT id, document_id, owner_id, dimension, chunk_count, created_at
FROM collections WHERE document_id = ? ORDER BY created_at, id`)
	rows, err := c.db.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	defer rows.Close()

	var records []rag.CollectionRecord
	for rows.Next() {
		var r rag.CollectionRecord
		if err := rows.Scan(&r.ID, &r.DocumentID, &r.OwnerID, &r.Dimension, &r.ChunkCount, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan collection: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

var _ rag.CollectionCatalog = (*SQLCatalog)(nil)
