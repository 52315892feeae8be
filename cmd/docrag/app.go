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

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kadirpekel/docrag/pkg/config"
	"github.com/kadirpekel/docrag/pkg/docs"
	"github.com/kadirpekel/docrag/pkg/docstore"
	"github.com/kadirpekel/docrag/pkg/document"
	"github.com/kadirpekel/docrag/pkg/embedder"
	"github.com/kadirpekel/docrag/pkg/llm"
	"github.com/kadirpekel/docrag/pkg/observability"
	"github.com/kadirpekel/docrag/pkg/qa"
	"github.com/kadirpekel/docrag/pkg/rag"
	"github.com/kadirpekel/docrag/pkg/utils"
	"github.com/kadirpekel/docrag/pkg/vector"
	"github.com/kadirpekel/docrag/pkg/workerpool"
)

// app is the fully wired pipeline.
type app struct {
	cfg          *config.Config
	manager      *docs.Manager
	orchestrator *rag.Orchestrator
	stats        *rag.PipelineStats
	metrics      *observability.Metrics
	tracer       *observability.Tracer

	closers []func(context.Context) error
}

// loadConfig loads, defaults and validates the configuration, then applies
// its logger section.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := applyConfigLogger(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply logger config: %w", err)
	}
	if path != "" {
		slog.Debug("Loaded configuration", "path", path)
	}
	return cfg, nil
}

// chunkerConfig maps the rag section onto the chunker.
func chunkerConfig(cfg *config.RAGConfig) rag.ChunkerConfig {
	return rag.ChunkerConfig{
		ChunkSize:      cfg.ChunkSize,
		ChunkOverlap:   cfg.ChunkOverlap,
		MinChunkTokens: cfg.MinChunkTokens,
		MaxChunks:      cfg.MaxChunksPerDocument,
	}
}

func retryPolicy(cfg *config.RetryConfig) rag.RetryPolicy {
	return rag.RetryPolicy{
		MaxAttempts:  cfg.MaxAttempts,
		BaseDelay:    cfg.BaseDelay,
		Multiplier:   cfg.Multiplier,
		MaxDelay:     cfg.MaxDelay,
		JitterFactor: cfg.Jitter,
	}
}

// newApp wires storage, providers and the pipeline from cfg.
func newApp(ctx context.Context, cfg *config.Config) (a *app, err error) {
	a = &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	if a.metrics, err = observability.InitMetrics(cfg.Observability.Metrics); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.metrics.Shutdown)
	if a.tracer, err = observability.NewTracer(ctx, &cfg.Observability.Tracing); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.tracer.Shutdown)

	repo, catalog, err := a.openStorage(ctx)
	if err != nil {
		return nil, err
	}

	provider, err := vector.NewProvider(&cfg.VectorStore)
	if err != nil {
		return nil, fmt.Errorf("failed to create vector provider: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return provider.Close() })

	emb, err := embedder.NewEmbedderFromConfig(&cfg.Embedder)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return emb.Close() })

	client, err := llm.NewClientFromConfig(&cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm client: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return client.Close() })

	rc := &cfg.RAG
	tokenizer := utils.NewTokenizer(rc.TokenizerModel)
	policy := retryPolicy(&rc.Retry)

	embeddings := rag.NewEmbeddingService(emb,
		rag.WithBatchSize(rc.EmbeddingBatchSize),
		rag.WithBatchInterval(rc.EmbeddingBatchInterval),
		rag.WithRetryPolicy(policy),
		rag.WithEmbeddingTokenizer(tokenizer),
		rag.WithEmbeddingMetrics(a.metrics))
	store := rag.NewVectorStore(provider, catalog,
		rag.WithSimilarityThreshold(rc.SimilarityThreshold),
		rag.WithDimension(cfg.Embedder.Dimension),
		rag.WithVectorStoreMetrics(a.metrics))

	pool := workerpool.New(rc.Workers)
	a.closers = append(a.closers, pool.CloseContext)

	a.stats = rag.NewPipelineStats()
	a.orchestrator = rag.NewOrchestrator(
		rag.NewRecursiveChunker(chunkerConfig(rc), tokenizer),
		embeddings, store, pool,
		rag.WithTopK(rc.RetrievalTopK),
		rag.WithMaxContextTokens(rc.MaxContextTokens),
		rag.WithStageTimeout(rc.StageTimeout),
		rag.WithTokenizer(tokenizer),
		rag.WithMetrics(a.metrics),
		rag.WithTracer(a.tracer),
		rag.WithStats(a.stats))

	answerer := qa.NewAnswerer(client, a.orchestrator, rc.TruncatedContextTokens,
		qa.WithStrategies(
			qa.NewFullContextStrategy(tokenizer),
			qa.NewRAGStrategy(a.orchestrator, rc.MaxContextTokens),
			qa.NewTruncatedStrategy(tokenizer, rc.TruncatedContextTokens)),
		qa.WithRetryPolicy(policy),
		qa.WithMetrics(a.metrics),
		qa.WithTracer(a.tracer))

	a.manager = docs.NewManager(repo,
		document.NewClassifier(rc.ShortLongTokenThreshold, tokenizer),
		a.orchestrator, answerer,
		docs.WithMetrics(a.metrics))

	slog.Debug("Pipeline ready",
		"storage", cfg.Storage.Backend,
		"vector_store", cfg.VectorStore.Type,
		"embedder", emb.Model(),
		"llm", client.Model(),
		"workers", rc.Workers)
	return a, nil
}

// openStorage returns the document repository and collection catalog for
// the configured backend.
func (a *app) openStorage(ctx context.Context) (document.Repository, rag.CollectionCatalog, error) {
	if a.cfg.Storage.Backend == config.StorageBackendInMemory {
		slog.Warn("Using in-memory storage; documents are lost on exit")
		return docstore.NewMemoryRepository(), rag.NewMemoryCatalog(), nil
	}

	pool := config.NewDBPool()
	a.closers = append(a.closers, func(context.Context) error { return pool.Close() })

	db, err := pool.Get(ctx, &a.cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	dialect := a.cfg.Database.Dialect()

	repo, err := docstore.NewSQLRepository(ctx, db, dialect)
	if err != nil {
		return nil, nil, err
	}
	catalog, err := docstore.NewSQLCatalog(ctx, db, dialect)
	if err != nil {
		return nil, nil, err
	}
	return repo, catalog, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
