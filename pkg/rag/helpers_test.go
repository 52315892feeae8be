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
	"hash/fnv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/docrag/pkg/vector"
	"github.com/kadirpekel/docrag/pkg/workerpool"
)

// fakeEmbedder hashes words into a small vector, or returns fixed vectors
// for known texts.
type fakeEmbedder struct {
	dim     int
	vectors map[string][]float32

	// fail, when set, is consulted on every call (1-based).
	fail func(call int) error
	// block makes every call wait for cancellation.
	block bool

	mu         sync.Mutex
	calls      int
	batchSizes []int
}

func newFakeEmbedder(dim int) *fakeEmbedder {
	return &fakeEmbedder{dim: dim, vectors: map[string][]float32{}}
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.batchSizes = append(f.batchSizes, len(texts))
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.fail != nil {
		if err := f.fail(call); err != nil {
			return nil, err
		}
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = f.vectorFor(text)
	}
	return out, nil
}

func (f *fakeEmbedder) vectorFor(text string) []float32 {
	if v, ok := f.vectors[text]; ok {
		return v
	}
	v := make([]float32, f.dim)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		v[h.Sum32()%uint32(f.dim)]++
	}
	if v[0] == 0 {
		v[0] = 0.01
	}
	return v
}

func (f *fakeEmbedder) Dimension() int { return f.dim }
func (f *fakeEmbedder) Model() string  { return "fake-embedding" }
func (f *fakeEmbedder) Close() error   { return nil }

func (f *fakeEmbedder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// recordingProvider wraps a real provider and records mutations.
type recordingProvider struct {
	vector.Provider

	upsertErr error

	// createDelay stalls CreateCollection without watching ctx.
	createDelay time.Duration

	mu      sync.Mutex
	created []string
	deleted []string
	upserts int
}

func newRecordingProvider(t *testing.T) *recordingProvider {
	t.Helper()
	p, err := vector.NewChromemProvider(vector.ChromemConfig{})
	require.NoError(t, err)
	return &recordingProvider{Provider: p}
}

func (p *recordingProvider) CreateCollection(ctx context.Context, name string, dim int) error {
	if p.createDelay > 0 {
		time.Sleep(p.createDelay)
	}
	p.mu.Lock()
	p.created = append(p.created, name)
	p.mu.Unlock()
	return p.Provider.CreateCollection(ctx, name, dim)
}

func (p *recordingProvider) Upsert(ctx context.Context, name string, records []vector.Record) error {
	p.mu.Lock()
	p.upserts++
	p.mu.Unlock()
	if p.upsertErr != nil {
		return p.upsertErr
	}
	return p.Provider.Upsert(ctx, name, records)
}

func (p *recordingProvider) DeleteCollection(ctx context.Context, name string) error {
	p.mu.Lock()
	p.deleted = append(p.deleted, name)
	p.mu.Unlock()
	return p.Provider.DeleteCollection(ctx, name)
}

func (p *recordingProvider) mutations() (created, deleted []string, upserts int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.created...), append([]string(nil), p.deleted...), p.upserts
}

// fastRetryPolicy retries quickly so failure tests stay fast.
func fastRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		Multiplier:  2,
		MaxDelay:    5 * time.Millisecond,
	}
}

type testPipeline struct {
	embedder     *fakeEmbedder
	provider     *recordingProvider
	catalog      *MemoryCatalog
	store        *VectorStore
	orchestrator *Orchestrator
}

func newTestPipeline(t *testing.T, chunkCfg ChunkerConfig, opts ...OrchestratorOption) *testPipeline {
	t.Helper()

	emb := newFakeEmbedder(16)
	provider := newRecordingProvider(t)
	catalog := NewMemoryCatalog()
	store := NewVectorStore(provider, catalog, WithDimension(emb.Dimension()))
	embeddings := NewEmbeddingService(emb,
		WithBatchInterval(0),
		WithRetryPolicy(fastRetryPolicy()))

	pool := workerpool.New(3)
	t.Cleanup(func() { _ = pool.Close() })

	return &testPipeline{
		embedder:     emb,
		provider:     provider,
		catalog:      catalog,
		store:        store,
		orchestrator: NewOrchestrator(NewRecursiveChunker(chunkCfg, nil), embeddings, store, pool, opts...),
	}
}
