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

package vector

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/kadirpekel/docrag/pkg/utils"
)

// ChromemProvider implements Provider using chromem-go for embedded vector storage.
//
// It needs no external service: vectors live in memory and, when PersistPath
// is set, are written through to disk on every change.
type ChromemProvider struct {
	db *chromem.DB
	mu sync.RWMutex
}

// ChromemConfig configures the chromem provider.
type ChromemConfig struct {
	// PersistPath is a directory for write-through persistence (optional).
	// If empty, vectors are stored in memory only.
	PersistPath string `yaml:"persist_path,omitempty"`

	// Compress enables gzip compression for persisted collections.
	Compress bool `yaml:"compress,omitempty"`
}

// NewChromemProvider creates a new chromem-based vector provider.
func NewChromemProvider(cfg ChromemConfig) (*ChromemProvider, error) {
	if cfg.PersistPath == "" {
		slog.Info("Created in-memory vector database (no persistence)")
		return &ChromemProvider{db: chromem.NewDB()}, nil
	}

	if _, err := utils.EnsureDir(cfg.PersistPath); err != nil {
		return nil, fmt.Errorf("failed to create persist directory: %w", err)
	}

	db, err := chromem.NewPersistentDB(cfg.PersistPath, cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector database at %s: %w", cfg.PersistPath, err)
	}
	slog.Info("Opened persistent vector database", "path", cfg.PersistPath, "collections", len(db.ListCollections()))

	return &ChromemProvider{db: db}, nil
}

// Vectors arrive pre-computed; chromem must never embed on its own.
func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("embedding function called but vectors should be pre-computed")
}

func (p *ChromemProvider) collection(name string) (*chromem.Collection, error) {
	col := p.db.GetCollection(name, noEmbedding)
	if col == nil {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return col, nil
}

// CreateCollection creates a new, empty collection.
func (p *ChromemProvider) CreateCollection(_ context.Context, collection string, _ int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.db.CreateCollection(collection, nil, noEmbedding); err != nil {
		return fmt.Errorf("failed to create collection %q: %w", collection, err)
	}
	return nil
}

// Upsert adds or replaces records in a collection.
func (p *ChromemProvider) Upsert(ctx context.Context, collection string, records []Record) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	col, err := p.collection(collection)
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, len(records))
	for i, r := range records {
		docs[i] = chromem.Document{
			ID:        r.ID,
			Content:   r.Content,
			Metadata:  flattenMetadata(r.Metadata),
			Embedding: r.Vector,
		}
	}

	if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to upsert %d documents: %w", len(docs), err)
	}
	return nil
}

// Search finds the most similar vectors in a collection.
func (p *ChromemProvider) Search(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	col, err := p.collection(collection)
	if err != nil {
		return nil, err
	}

	// chromem rejects nResults larger than the collection.
	n := min(topK, col.Count())
	if n <= 0 {
		return []Result{}, nil
	}

	results, err := col.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	out := make([]Result, 0, len(results))
	for _, r := range results {
		out = append(out, Result{
			ID:       r.ID,
			Distance: 1 - r.Similarity,
			Content:  r.Content,
			Metadata: restoreMetadata(r.Metadata),
		})
	}
	return out, nil
}

// DeleteCollection removes a collection and all its documents.
func (p *ChromemProvider) DeleteCollection(_ context.Context, collection string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.db.DeleteCollection(collection); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	return nil
}

// Name returns the provider name.
func (p *ChromemProvider) Name() string {
	return "chromem"
}

// Close releases resources. Persistent databases are already on disk.
func (p *ChromemProvider) Close() error {
	return nil
}

// metadataTypesKey holds the kinds of the non-string values of a record,
// as "key=kind" pairs joined by ";". chromem metadata is string-only.
const metadataTypesKey = "_docrag_types"

func flattenMetadata(in map[string]any) map[string]string {
	out := make(map[string]string, len(in)+1)
	var kinds []string
	for k, v := range in {
		out[k] = fmt.Sprint(v)
		switch v.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			kinds = append(kinds, k+"=int")
		case float32, float64:
			kinds = append(kinds, k+"=float")
		case bool:
			kinds = append(kinds, k+"=bool")
		}
	}
	if len(kinds) > 0 {
		sort.Strings(kinds)
		out[metadataTypesKey] = strings.Join(kinds, ";")
	}
	return out
}

func restoreMetadata(in map[string]string) map[string]any {
	kinds := make(map[string]string)
	for _, pair := range strings.Split(in[metadataTypesKey], ";") {
		if k, kind, ok := strings.Cut(pair, "="); ok {
			kinds[k] = kind
		}
	}

	out := make(map[string]any, len(in))
	for k, v := range in {
		if k == metadataTypesKey {
			continue
		}
		out[k] = restoreScalar(kinds[k], v)
	}
	return out
}

// restoreScalar converts s back to kind. Values that fail to parse, or
// that were stored as strings, stay strings.
func restoreScalar(kind, s string) any {
	switch kind {
	case "int":
		if i, err := strconv.Atoi(s); err == nil {
			return i
		}
	case "float":
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	case "bool":
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	}
	return s
}

var _ Provider = (*ChromemProvider)(nil)
