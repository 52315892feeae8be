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

package vector

import (
	"context"
	"fmt"
	"sync"

	"github.com/pinecone-io/go-pinecone/pinecone"
	"google.golang.org/protobuf/types/known/structpb"
)

const pineconeContentKey = "content"

// PineconeConfig configures the Pinecone provider.
type PineconeConfig struct {
	// APIKey for Pinecone (required).
	APIKey string `yaml:"api_key"`

	// Host overrides the control-plane host (optional).
	Host string `yaml:"host,omitempty"`

	// IndexName is the pre-created cosine index that holds every collection.
	// Default: docrag
	IndexName string `yaml:"index_name"`
}

// PineconeProvider implements Provider on a single Pinecone index, mapping
// each collection to a namespace. Pinecone creates namespaces on first write.
type PineconeProvider struct {
	client    *pinecone.Client
	indexName string

	mu        sync.Mutex
	indexHost string
}

// NewPineconeProvider creates a new Pinecone provider.
func NewPineconeProvider(cfg PineconeConfig) (*PineconeProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for Pinecone")
	}

	params := pinecone.NewClientParams{ApiKey: cfg.APIKey}
	if cfg.Host != "" {
		params.Host = cfg.Host
	}

	client, err := pinecone.NewClient(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create Pinecone client: %w", err)
	}

	indexName := cfg.IndexName
	if indexName == "" {
		indexName = "docrag"
	}

	return &PineconeProvider{client: client, indexName: indexName}, nil
}

// Name returns the provider name.
func (p *PineconeProvider) Name() string {
	return "pinecone"
}

func (p *PineconeProvider) connect(ctx context.Context, namespace string) (*pinecone.IndexConnection, error) {
	p.mu.Lock()
	host := p.indexHost
	p.mu.Unlock()

	if host == "" {
		index, err := p.client.DescribeIndex(ctx, p.indexName)
		if err != nil {
			return nil, fmt.Errorf("failed to describe index %s: %w", p.indexName, err)
		}
		host = index.Host

		p.mu.Lock()
		p.indexHost = host
		p.mu.Unlock()
	}

	conn, err := p.client.Index(pinecone.NewIndexConnParams{Host: host, Namespace: namespace})
	if err != nil {
		return nil, fmt.Errorf("failed to create index connection: %w", err)
	}
	return conn, nil
}

// CreateCollection verifies the backing index is reachable. Namespaces need
// no explicit creation.
func (p *PineconeProvider) CreateCollection(ctx context.Context, collection string, _ int) error {
	conn, err := p.connect(ctx, collection)
	if err != nil {
		return err
	}
	return conn.Close()
}

// Upsert writes all records into the collection's namespace.
func (p *PineconeProvider) Upsert(ctx context.Context, collection string, records []Record) error {
	conn, err := p.connect(ctx, collection)
	if err != nil {
		return err
	}
	defer conn.Close()

	vectors := make([]*pinecone.Vector, 0, len(records))
	for _, r := range records {
		fields := make(map[string]any, len(r.Metadata)+1)
		for k, v := range r.Metadata {
			fields[k] = v
		}
		fields[pineconeContentKey] = r.Content

		metadata, err := structpb.NewStruct(fields)
		if err != nil {
			return fmt.Errorf("failed to convert metadata for %s: %w", r.ID, err)
		}
		vectors = append(vectors, &pinecone.Vector{
			Id:       r.ID,
			Values:   r.Vector,
			Metadata: metadata,
		})
	}

	if _, err := conn.UpsertVectors(ctx, vectors); err != nil {
		return fmt.Errorf("failed to upsert %d vectors: %w", len(vectors), err)
	}
	return nil
}

// Search queries the collection's namespace.
func (p *PineconeProvider) Search(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error) {
	if topK <= 0 {
		return []Result{}, nil
	}

	conn, err := p.connect(ctx, collection)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	resp, err := conn.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector:          vector,
		TopK:            uint32(topK),
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query Pinecone: %w", err)
	}

	return convertPineconeResults(resp.Matches), nil
}

// DeleteCollection removes every vector in the collection's namespace.
func (p *PineconeProvider) DeleteCollection(ctx context.Context, collection string) error {
	conn, err := p.connect(ctx, collection)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.DeleteAllVectorsInNamespace(ctx); err != nil {
		return fmt.Errorf("failed to delete namespace %s: %w", collection, err)
	}
	return nil
}

// Close releases resources.
func (p *PineconeProvider) Close() error {
	return nil
}

func convertPineconeResults(matches []*pinecone.ScoredVector) []Result {
	results := make([]Result, 0, len(matches))

	for _, match := range matches {
		if match == nil || match.Vector == nil {
			continue
		}

		metadata := make(map[string]any)
		if match.Vector.Metadata != nil {
			for k, v := range match.Vector.Metadata.AsMap() {
				metadata[k] = v
			}
		}
		content, _ := metadata[pineconeContentKey].(string)
		delete(metadata, pineconeContentKey)

		results = append(results, Result{
			ID:       match.Vector.Id,
			Distance: 1 - match.Score,
			Content:  content,
			Metadata: metadata,
		})
	}

	return results
}

var _ Provider = (*PineconeProvider)(nil)
