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

package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics records pipeline metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *promclient.Registry
	provider *sdkmetric.MeterProvider

	stageDuration    metric.Float64Histogram
	documents        metric.Int64Counter
	chunks           metric.Int64Counter
	embeddingBatches metric.Int64Counter
	embeddingTokens  metric.Int64Counter
	retrievalLatency metric.Float64Histogram
	retrievedChunks  metric.Int64Histogram
	answers          metric.Int64Counter
	accessDenied     metric.Int64Counter
	httpRequests     metric.Int64Counter
	httpDuration     metric.Float64Histogram
}

// InitMetrics builds the OpenTelemetry meter provider backed by a private
// Prometheus registry. Returns nil when metrics are disabled.
func InitMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	cfg.SetDefaults()

	registry := promclient.NewRegistry()
	promExporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(promExporter))
	meter := provider.Meter(cfg.Namespace)
	name := func(s string) string { return cfg.Namespace + "_" + s }

	m := &Metrics{registry: registry, provider: provider}

	if m.stageDuration, err = meter.Float64Histogram(name("pipeline_stage_duration_seconds"),
		metric.WithDescription("Duration of orchestrator pipeline stages in seconds")); err != nil {
		return nil, fmt.Errorf("failed to create stage duration histogram: %w", err)
	}
	if m.documents, err = meter.Int64Counter(name("documents_processed_total"),
		metric.WithDescription("Documents processed, by type and final status")); err != nil {
		return nil, fmt.Errorf("failed to create documents counter: %w", err)
	}
	if m.chunks, err = meter.Int64Counter(name("chunks_created_total"),
		metric.WithDescription("Chunks produced by the chunker")); err != nil {
		return nil, fmt.Errorf("failed to create chunks counter: %w", err)
	}
	if m.embeddingBatches, err = meter.Int64Counter(name("embedding_batches_total"),
		metric.WithDescription("Embedding batches sent, by outcome")); err != nil {
		return nil, fmt.Errorf("failed to create embedding batches counter: %w", err)
	}
	if m.embeddingTokens, err = meter.Int64Counter(name("embedding_tokens_total"),
		metric.WithDescription("Tokens sent to the embedding provider")); err != nil {
		return nil, fmt.Errorf("failed to create embedding tokens counter: %w", err)
	}
	if m.retrievalLatency, err = meter.Float64Histogram(name("retrieval_duration_seconds"),
		metric.WithDescription("End-to-end retrieval latency in seconds")); err != nil {
		return nil, fmt.Errorf("failed to create retrieval histogram: %w", err)
	}
	if m.retrievedChunks, err = meter.Int64Histogram(name("retrieval_chunks"),
		metric.WithDescription("Chunks assembled into retrieval context")); err != nil {
		return nil, fmt.Errorf("failed to create retrieval chunks histogram: %w", err)
	}
	if m.answers, err = meter.Int64Counter(name("answers_total"),
		metric.WithDescription("Answers produced, by method")); err != nil {
		return nil, fmt.Errorf("failed to create answers counter: %w", err)
	}
	if m.accessDenied, err = meter.Int64Counter(name("access_denied_total"),
		metric.WithDescription("Collection access attempts rejected by ownership check")); err != nil {
		return nil, fmt.Errorf("failed to create access denied counter: %w", err)
	}
	if m.httpRequests, err = meter.Int64Counter(name("http_requests_total"),
		metric.WithDescription("HTTP API requests, by route and status")); err != nil {
		return nil, fmt.Errorf("failed to create http requests counter: %w", err)
	}
	if m.httpDuration, err = meter.Float64Histogram(name("http_request_duration_seconds"),
		metric.WithDescription("HTTP API request latency in seconds")); err != nil {
		return nil, fmt.Errorf("failed to create http duration histogram: %w", err)
	}

	return m, nil
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.stageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.Bool("error", err != nil),
	))
}

func (m *Metrics) RecordDocument(ctx context.Context, docType, status string) {
	if m == nil {
		return
	}
	m.documents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", docType),
		attribute.String("status", status),
	))
}

func (m *Metrics) RecordChunks(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.chunks.Add(ctx, int64(n))
}

func (m *Metrics) RecordEmbeddingBatch(ctx context.Context, model string, tokens int, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.embeddingBatches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("outcome", outcome),
	))
	if err == nil {
		m.embeddingTokens.Add(ctx, int64(tokens), metric.WithAttributes(attribute.String("model", model)))
	}
}

func (m *Metrics) RecordRetrieval(ctx context.Context, d time.Duration, chunks int) {
	if m == nil {
		return
	}
	m.retrievalLatency.Record(ctx, d.Seconds())
	m.retrievedChunks.Record(ctx, int64(chunks))
}

func (m *Metrics) RecordAnswer(ctx context.Context, method string, degraded bool) {
	if m == nil {
		return
	}
	m.answers.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.Bool("degraded", degraded),
	))
}

func (m *Metrics) RecordAccessDenied(ctx context.Context) {
	if m == nil {
		return
	}
	m.accessDenied.Add(ctx, 1)
}

func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status", status),
	)
	m.httpRequests.Add(ctx, 1, attrs)
	m.httpDuration.Record(ctx, d.Seconds(), attrs)
}
