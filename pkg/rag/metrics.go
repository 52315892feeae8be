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
	"sync"
	"sync/atomic"
	"time"
)

// PipelineStats tracks in-process ingestion and retrieval counters.
//
// Thread-safe for concurrent pipelines. Prometheus export lives in the
// observability package; these counters back the stats endpoint.
type PipelineStats struct {
	// Ingestion counters
	ingested      int64
	ingestFailed  int64
	chunksStored  int64
	ingestLatency int64 // nanoseconds, summed

	// Retrieval counters
	retrievals       int64
	emptyRetrievals  int64
	retrievalLatency int64 // nanoseconds, summed
	retrievalMax     int64

	startTime time.Time
	mu        sync.RWMutex
}

// NewPipelineStats creates a stats tracker starting now.
func NewPipelineStats() *PipelineStats {
	return &PipelineStats{startTime: time.Now()}
}

// RecordIngest records one finished ingestion.
func (s *PipelineStats) RecordIngest(latency time.Duration, chunks int, err error) {
	if s == nil {
		return
	}
	if err != nil {
		atomic.AddInt64(&s.ingestFailed, 1)
		return
	}
	atomic.AddInt64(&s.ingested, 1)
	atomic.AddInt64(&s.chunksStored, int64(chunks))
	atomic.AddInt64(&s.ingestLatency, int64(latency))
}

// RecordRetrieval records one retrieval and the number of chunks it assembled.
func (s *PipelineStats) RecordRetrieval(latency time.Duration, chunks int) {
	if s == nil {
		return
	}
	atomic.AddInt64(&s.retrievals, 1)
	if chunks == 0 {
		atomic.AddInt64(&s.emptyRetrievals, 1)
	}
	atomic.AddInt64(&s.retrievalLatency, int64(latency))

	for {
		current := atomic.LoadInt64(&s.retrievalMax)
		if int64(latency) <= current || atomic.CompareAndSwapInt64(&s.retrievalMax, current, int64(latency)) {
			break
		}
	}
}

// Reset clears all counters.
func (s *PipelineStats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	atomic.StoreInt64(&s.ingested, 0)
	atomic.StoreInt64(&s.ingestFailed, 0)
	atomic.StoreInt64(&s.chunksStored, 0)
	atomic.StoreInt64(&s.ingestLatency, 0)
	atomic.StoreInt64(&s.retrievals, 0)
	atomic.StoreInt64(&s.emptyRetrievals, 0)
	atomic.StoreInt64(&s.retrievalLatency, 0)
	atomic.StoreInt64(&s.retrievalMax, 0)
	s.startTime = time.Now()
}

// Snapshot returns a point-in-time copy of all counters.
func (s *PipelineStats) Snapshot() PipelineStatsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ingested := atomic.LoadInt64(&s.ingested)
	retrievals := atomic.LoadInt64(&s.retrievals)

	var avgIngest, avgRetrieval time.Duration
	if ingested > 0 {
		avgIngest = time.Duration(atomic.LoadInt64(&s.ingestLatency) / ingested)
	}
	if retrievals > 0 {
		avgRetrieval = time.Duration(atomic.LoadInt64(&s.retrievalLatency) / retrievals)
	}

	return PipelineStatsSnapshot{
		DocumentsIngested:   ingested,
		IngestFailures:      atomic.LoadInt64(&s.ingestFailed),
		ChunksStored:        atomic.LoadInt64(&s.chunksStored),
		AvgIngestLatency:    avgIngest,
		Retrievals:          retrievals,
		EmptyRetrievals:     atomic.LoadInt64(&s.emptyRetrievals),
		AvgRetrievalLatency: avgRetrieval,
		MaxRetrievalLatency: time.Duration(atomic.LoadInt64(&s.retrievalMax)),
		Since:               s.startTime,
	}
}

// PipelineStatsSnapshot is a point-in-time copy of PipelineStats.
type PipelineStatsSnapshot struct {
	DocumentsIngested   int64         `json:"documents_ingested"`
	IngestFailures      int64         `json:"ingest_failures"`
	ChunksStored        int64         `json:"chunks_stored"`
	AvgIngestLatency    time.Duration `json:"avg_ingest_latency_ns"`
	Retrievals          int64         `json:"retrievals"`
	EmptyRetrievals     int64         `json:"empty_retrievals"`
	AvgRetrievalLatency time.Duration `json:"avg_retrieval_latency_ns"`
	MaxRetrievalLatency time.Duration `json:"max_retrieval_latency_ns"`
	Since               time.Time     `json:"since"`
}
