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
	"path/filepath"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/docrag/pkg/document"
	"github.com/kadirpekel/docrag/pkg/rag"
	"github.com/kadirpekel/docrag/pkg/vector"
)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "docrag.db")+"?_journal_mode=WAL&_busy_timeout=5000")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func repositories(t *testing.T) map[string]document.Repository {
	t.Helper()
	sqlRepo, err := NewSQLRepository(t.Context(), openSQLite(t), DialectSQLite)
	require.NoError(t, err)
	return map[string]document.Repository{
		"sql":    sqlRepo,
		"memory": NewMemoryRepository(),
	}
}

func newDoc(id, owner string, created time.Time) *document.Document {
	return &document.Document{
		ID:         id,
		OwnerID:    owner,
		SourceName: id + ".txt",
		Text:       "contents of " + id,
		TokenCount: 4,
		Status:     document.StatusProcessing,
		CreatedAt:  created,
	}
}

func TestRepository_Lifecycle(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
			require.NoError(t, repo.Create(ctx, newDoc("doc-1", "alice", created)))

			got, err := repo.Get(ctx, "doc-1")
			require.NoError(t, err)
			assert.Equal(t, "alice", got.OwnerID)
			assert.Equal(t, "contents of doc-1", got.Text)
			assert.Equal(t, document.StatusProcessing, got.Status)
			assert.False(t, got.HasCollection())
			assert.True(t, created.Equal(got.CreatedAt))

			updated, err := repo.Update(ctx, "doc-1", document.Update{
				Type:               document.Ptr(document.TypeLong),
				Status:             document.Ptr(document.StatusCompleted),
				CollectionID:       document.Ptr("doc_doc-1_0a1b2c3d"),
				ChunkCount:         document.Ptr(12),
				ProcessingMetadata: map[string]any{"embedding_model": "fake", "chunks": 12},
			})
			require.NoError(t, err)
			assert.Equal(t, document.StatusCompleted, updated.Status)

			updated, err = repo.Update(ctx, "doc-1", document.Update{
				ProcessingMetadata: map[string]any{"duration_ms": 250},
			})
			require.NoError(t, err)
			assert.Equal(t, "fake", updated.ProcessingMetadata["embedding_model"])

			got, err = repo.Get(ctx, "doc-1")
			require.NoError(t, err)
			assert.Equal(t, document.TypeLong, got.Type)
			assert.Equal(t, "doc_doc-1_0a1b2c3d", got.CollectionID)
			assert.Equal(t, 12, got.ChunkCount)
			assert.Equal(t, "fake", got.ProcessingMetadata["embedding_model"])
			assert.EqualValues(t, 250, got.ProcessingMetadata["duration_ms"])
			assert.False(t, got.UpdatedAt.Before(got.CreatedAt))

			got, err = repo.Update(ctx, "doc-1", document.Update{ClearCollection: true})
			require.NoError(t, err)
			assert.False(t, got.HasCollection())

			require.NoError(t, repo.Delete(ctx, "doc-1"))
			_, err = repo.Get(ctx, "doc-1")
			assert.ErrorIs(t, err, document.ErrNotFound)
			assert.ErrorIs(t, repo.Delete(ctx, "doc-1"), document.ErrNotFound)
			_, err = repo.Update(ctx, "doc-1", document.Update{})
			assert.ErrorIs(t, err, document.ErrNotFound)
		})
	}
}

func TestRepository_ListByOwner(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
			require.NoError(t, repo.Create(ctx, newDoc("a", "alice", base)))
			require.NoError(t, repo.Create(ctx, newDoc("b", "alice", base.Add(time.Hour))))
			require.NoError(t, repo.Create(ctx, newDoc("c", "bob", base)))

			docs, err := repo.ListByOwner(ctx, "alice")
			require.NoError(t, err)
			require.Len(t, docs, 2)
			assert.Equal(t, "b", docs[0].ID)
			assert.Equal(t, "a", docs[1].ID)

			docs, err = repo.ListByOwner(ctx, "nobody")
			require.NoError(t, err)
			assert.Empty(t, docs)

			assert.Error(t, repo.Create(ctx, newDoc("a", "alice", base)))
		})
	}
}

func TestRepository_ConcurrentMetadataUpdates(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			require.NoError(t, repo.Create(ctx, newDoc("doc", "alice", time.Now())))

			keys := []string{"k1", "k2", "k3", "k4", "k5", "k6"}
			var wg sync.WaitGroup
			for _, k := range keys {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := repo.Update(ctx, "doc", document.Update{ProcessingMetadata: map[string]any{k: true}})
					assert.NoError(t, err)
				}()
			}
			wg.Wait()

			got, err := repo.Get(ctx, "doc")
			require.NoError(t, err)
			for _, k := range keys {
				assert.Equal(t, true, got.ProcessingMetadata[k], k)
			}
		})
	}
}

func TestMemoryRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	doc := newDoc("doc", "alice", time.Now())
	doc.ProcessingMetadata = map[string]any{"a": 1}
	require.NoError(t, repo.Create(ctx, doc))

	doc.ProcessingMetadata["a"] = 2
	got, err := repo.Get(ctx, "doc")
	require.NoError(t, err)
	got.ProcessingMetadata["b"] = 3
	got.Status = document.StatusFailed

	again, err := repo.Get(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1}, again.ProcessingMetadata)
	assert.Equal(t, document.StatusProcessing, again.Status)
}

func TestSQLCatalog(t *testing.T) {
	ctx := t.Context()
	catalog, err := NewSQLCatalog(ctx, openSQLite(t), DialectSQLite)
	require.NoError(t, err)

	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := rag.CollectionRecord{ID: "doc_x_0000aaaa", DocumentID: "x", OwnerID: "alice", Dimension: 8, CreatedAt: created}
	require.NoError(t, catalog.CreateCollectionRecord(ctx, rec))
	assert.Error(t, catalog.CreateCollectionRecord(ctx, rec))

	require.NoError(t, catalog.UpdateCollectionStats(ctx, rec.ID, 8, 40))
	got, err := catalog.GetCollectionRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.OwnerID)
	assert.Equal(t, 40, got.ChunkCount)
	assert.True(t, created.Equal(got.CreatedAt))

	second := rec
	second.ID = "doc_x_0000bbbb"
	second.CreatedAt = created.Add(time.Minute)
	require.NoError(t, catalog.CreateCollectionRecord(ctx, second))
	records, err := catalog.ListByDocument(ctx, "x")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, rec.ID, records[0].ID)

	assert.ErrorIs(t, catalog.UpdateCollectionStats(ctx, "missing", 1, 1), rag.ErrCollectionNotFound)

	require.NoError(t, catalog.DeleteCollectionRecord(ctx, rec.ID))
	require.NoError(t, catalog.DeleteCollectionRecord(ctx, rec.ID))
	_, err = catalog.GetCollectionRecord(ctx, rec.ID)
	assert.ErrorIs(t, err, rag.ErrCollectionNotFound)
}

func TestSQLCatalog_BacksVectorStoreOwnership(t *testing.T) {
	ctx := t.Context()
	db := openSQLite(t)
	catalog, err := NewSQLCatalog(ctx, db, DialectSQLite)
	require.NoError(t, err)
	provider, err := vector.NewChromemProvider(vector.ChromemConfig{})
	require.NoError(t, err)

	store := rag.NewVectorStore(provider, catalog, rag.WithDimension(2))
	id, err := store.CreateCollection(ctx, "report", "alice")
	require.NoError(t, err)

	// A second store over the same database sees the recorded owner.
	reopened, err := NewSQLCatalog(ctx, db, DialectSQLite)
	require.NoError(t, err)
	other := rag.NewVectorStore(provider, reopened, rag.WithDimension(2))

	_, err = other.Search(ctx, id, []float32{1, 0}, 3, "mallory")
	var denied *rag.AccessDeniedError
	assert.True(t, errors.As(err, &denied))

	results, err := other.Search(ctx, id, []float32{1, 0}, 3, "alice")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRebind(t *testing.T) {
	q := `UPDATE t SET a = ?, b = ? WHERE id = ?`
	assert.Equal(t, q, rebind(DialectSQLite, q))
	assert.Equal(t, q, rebind(DialectMySQL, q))
	assert.Equal(t, `UPDATE t SET a = $1, b = $2 WHERE id = $3`, rebind(DialectPostgres, q))
}

func TestConstructorsRejectBadInput(t *testing.T) {
	_, err := NewSQLRepository(t.Context(), nil, DialectSQLite)
	assert.Error(t, err)
	_, err = NewSQLRepository(t.Context(), openSQLite(t), "oracle")
	assert.Error(t, err)
	_, err = NewSQLCatalog(t.Context(), nil, DialectSQLite)
	assert.Error(t, err)
}
