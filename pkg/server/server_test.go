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

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/docrag/pkg/config"
	"github.com/kadirpekel/docrag/pkg/docs"
	"github.com/kadirpekel/docrag/pkg/docstore"
	"github.com/kadirpekel/docrag/pkg/document"
	"github.com/kadirpekel/docrag/pkg/extract"
	"github.com/kadirpekel/docrag/pkg/llm"
	"github.com/kadirpekel/docrag/pkg/observability"
	"github.com/kadirpekel/docrag/pkg/qa"
	"github.com/kadirpekel/docrag/pkg/rag"
	"github.com/kadirpekel/docrag/pkg/vector"
	"github.com/kadirpekel/docrag/pkg/workerpool"
)

type bagOfWords struct{}

func (bagOfWords) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := bagOfWords{}.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (bagOfWords) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, 8)
		for _, w := range strings.Fields(strings.ToLower(text)) {
			h := fnv.New32a()
			_, _ = h.Write([]byte(w))
			v[h.Sum32()%8]++
		}
		v[0] += 0.01
		out[i] = v
	}
	return out, nil
}

func (bagOfWords) Dimension() int { return 8 }
func (bagOfWords) Model() string  { return "bag-of-words" }
func (bagOfWords) Close() error   { return nil }

type cannedLLM struct{ err error }

func (c cannedLLM) Complete(context.Context, *llm.Request) (*llm.Response, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &llm.Response{Text: "It is about testing."}, nil
}

func (cannedLLM) Model() string { return "canned" }
func (cannedLLM) Close() error  { return nil }

func newTestServer(t *testing.T, client llm.Client) *Server {
	t.Helper()

	provider, err := vector.NewChromemProvider(vector.ChromemConfig{})
	require.NoError(t, err)

	tracer, err := observability.NewTracer(context.Background(), &observability.TracingConfig{Enabled: true, Exporter: "memory"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tracer.Shutdown(context.Background()) })

	stats := rag.NewPipelineStats()
	store := rag.NewVectorStore(provider, rag.NewMemoryCatalog(), rag.WithDimension(8))
	embeddings := rag.NewEmbeddingService(bagOfWords{}, rag.WithBatchInterval(0))
	pool := workerpool.New(2)
	t.Cleanup(func() { _ = pool.Close() })

	orchestrator := rag.NewOrchestrator(
		rag.NewRecursiveChunker(rag.ChunkerConfig{ChunkSize: 60, ChunkOverlap: 10, MinChunkTokens: 5}, nil),
		embeddings, store, pool, rag.WithStats(stats), rag.WithTracer(tracer))
	answerer := qa.NewAnswerer(client, orchestrator, 100,
		qa.WithRetryPolicy(rag.RetryPolicy{MaxAttempts: 1}),
		qa.WithTracer(tracer))
	manager := docs.NewManager(docstore.NewMemoryRepository(), document.NewClassifier(200, nil), orchestrator, answerer)

	metrics, err := observability.InitMetrics(observability.MetricsConfig{Enabled: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = metrics.Shutdown(context.Background()) })

	return New(config.ServerConfig{MaxUploadBytes: 1 << 20}, manager,
		WithExtractor(extract.NewRegistry()),
		WithStats(stats),
		WithObservability(metrics, tracer),
		WithVersion("test"))
}

func do(t *testing.T, s *Server, method, path, owner string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if owner != "" {
		req.Header.Set(OwnerHeader, owner)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func longText() string {
	var b strings.Builder
	for i := 0; b.Len() < 3000; i++ {
		fmt.Fprintf(&b, "Paragraph %d covers subject %d at length. ", i, i%11)
	}
	return b.String()
}

func TestServer_Health(t *testing.T) {
	s := newTestServer(t, cannedLLM{})

	rec := do(t, s, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]string{"status": "ok", "version": "test"}, decode[map[string]string](t, rec))
}

func TestServer_RequiresOwner(t *testing.T) {
	s := newTestServer(t, cannedLLM{})

	rec := do(t, s, http.MethodGet, "/v1/documents", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, decode[errorResponse](t, rec).Error, OwnerHeader)
}

func TestServer_DocumentLifecycle(t *testing.T) {
	s := newTestServer(t, cannedLLM{})

	rec := do(t, s, http.MethodPost, "/v1/documents", "alice", createRequest{ID: "guide", SourceName: "guide.txt", Text: longText()})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[document.Document](t, rec)
	assert.Equal(t, document.TypeLong, created.Type)
	assert.Equal(t, document.StatusCompleted, created.Status)
	assert.NotEmpty(t, created.CollectionID)

	rec = do(t, s, http.MethodPost, "/v1/documents", "alice", createRequest{ID: "guide", Text: "again"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, s, http.MethodGet, "/v1/documents/guide", "alice", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodGet, "/v1/documents/guide", "mallory", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, s, http.MethodPost, "/v1/documents/guide/ask", "alice", askRequest{Question: "What does paragraph 2 cover?"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	answer := decode[qa.Answer](t, rec)
	assert.True(t, answer.Success)
	assert.Equal(t, qa.MethodRAG, answer.Method)
	assert.Equal(t, "It is about testing.", answer.Answer)

	rec = do(t, s, http.MethodPost, "/v1/documents/guide/reprocess", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEqual(t, created.CollectionID, decode[document.Document](t, rec).CollectionID)

	rec = do(t, s, http.MethodGet, "/v1/documents", "alice", nil)
	assert.Equal(t, float64(1), decode[map[string]any](t, rec)["count"])

	rec = do(t, s, http.MethodGet, "/v1/stats", "alice", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(2), decode[rag.PipelineStatsSnapshot](t, rec).DocumentsIngested)

	rec = do(t, s, http.MethodDelete, "/v1/documents/guide", "alice", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, s, http.MethodGet, "/v1/documents/guide", "alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_DocumentTrace(t *testing.T) {
	s := newTestServer(t, cannedLLM{})

	rec := do(t, s, http.MethodPost, "/v1/documents", "alice", createRequest{ID: "guide", Text: longText()})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = do(t, s, http.MethodPost, "/v1/documents/guide/ask", "alice", askRequest{Question: "What does paragraph 2 cover?"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/v1/documents/guide/trace", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		DocumentID string                       `json:"document_id"`
		Spans      []observability.RecordedSpan `json:"spans"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "guide", body.DocumentID)

	names := make(map[string]bool)
	for _, sp := range body.Spans {
		names[sp.Name] = true
	}
	assert.True(t, names["rag.ingest"])
	assert.True(t, names["rag.stage.embedding"])
	assert.True(t, names["rag.retrieve"])

	rec = do(t, s, http.MethodGet, "/v1/documents/guide/trace", "mallory", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestServer_AskErrors(t *testing.T) {
	s := newTestServer(t, cannedLLM{err: &llm.APIError{Provider: "openai", StatusCode: 401, Message: "bad key"}})

	rec := do(t, s, http.MethodPost, "/v1/documents", "alice", createRequest{ID: "memo", Text: "A brief memo."})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, s, http.MethodPost, "/v1/documents/memo/ask", "alice", askRequest{Question: " "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/v1/documents/memo/ask", "alice", askRequest{Question: "What is it?"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	answer := decode[qa.Answer](t, rec)
	assert.False(t, answer.Success)
	assert.Equal(t, qa.MethodError, answer.Method)
	assert.NotEmpty(t, answer.Answer)
}

func TestServer_CreateValidation(t *testing.T) {
	s := newTestServer(t, cannedLLM{})

	rec := do(t, s, http.MethodPost, "/v1/documents", "alice", createRequest{SourceName: "empty.txt"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/documents", strings.NewReader("{not json"))
	req.Header.Set(OwnerHeader, "alice")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func upload(t *testing.T, s *Server, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/documents", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(OwnerHeader, "alice")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Upload(t *testing.T) {
	s := newTestServer(t, cannedLLM{})

	rec := upload(t, s, "notes.md", []byte("# Notes\n\nShort upload."))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	doc := decode[document.Document](t, rec)
	assert.Equal(t, "notes.md", doc.SourceName)
	assert.Equal(t, document.TypeShort, doc.Type)

	rec = upload(t, s, "photo.png", []byte{0x89, 'P', 'N', 'G'})
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	rec = upload(t, s, "blank.txt", []byte("   "))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = upload(t, s, "huge.txt", bytes.Repeat([]byte("a"), 2<<20))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	s := newTestServer(t, cannedLLM{})

	do(t, s, http.MethodGet, "/v1/documents/nope", "alice", nil)
	rec := do(t, s, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `route="/v1/documents/{id}`)
}

func TestServer_ServeShutsDownOnCancel(t *testing.T) {
	s := newTestServer(t, cannedLLM{})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
