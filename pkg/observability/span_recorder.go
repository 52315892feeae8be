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
	"sort"
	"sync"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// DefaultRecorderSize is the number of spans a SpanRecorder retains.
const DefaultRecorderSize = 1000

// SpanRecorder is a SpanExporter that keeps recent spans in memory so the
// stages of a single document's ingestion can be inspected without a
// collector.
type SpanRecorder struct {
	mu      sync.RWMutex
	spans   []*RecordedSpan
	maxSize int
}

// RecordedSpan is the captured form of a finished span.
type RecordedSpan struct {
	TraceID      string            `json:"trace_id"`
	SpanID       string            `json:"span_id"`
	ParentSpanID string            `json:"parent_span_id,omitempty"`
	Name         string            `json:"name"`
	StartTime    int64             `json:"start_time_unix_nano"`
	EndTime      int64             `json:"end_time_unix_nano"`
	DurationMs   float64           `json:"duration_ms"`
	Attributes   map[string]string `json:"attributes"`
	Events       []SpanEvent       `json:"events,omitempty"`
	Status       string            `json:"status"`
	StatusMsg    string            `json:"status_message,omitempty"`
}

// SpanEvent is an event recorded on a span, such as an error.
type SpanEvent struct {
	Name       string            `json:"name"`
	TimeUnix   int64             `json:"time_unix_nano"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// NewSpanRecorder creates a recorder retaining at most maxSize spans.
func NewSpanRecorder(maxSize int) *SpanRecorder {
	if maxSize <= 0 {
		maxSize = DefaultRecorderSize
	}
	return &SpanRecorder{maxSize: maxSize}
}

// ExportSpans implements sdktrace.SpanExporter.
func (r *SpanRecorder) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, span := range spans {
		r.spans = append(r.spans, convertSpan(span))
	}
	r.evictOldest()
	return nil
}

func convertSpan(span sdktrace.ReadOnlySpan) *RecordedSpan {
	start := span.StartTime().UnixNano()
	end := span.EndTime().UnixNano()

	rs := &RecordedSpan{
		TraceID:    span.SpanContext().TraceID().String(),
		SpanID:     span.SpanContext().SpanID().String(),
		Name:       span.Name(),
		StartTime:  start,
		EndTime:    end,
		DurationMs: float64(end-start) / 1e6,
		Attributes: make(map[string]string, len(span.Attributes())),
		Status:     span.Status().Code.String(),
		StatusMsg:  span.Status().Description,
	}
	if span.Parent().HasSpanID() {
		rs.ParentSpanID = span.Parent().SpanID().String()
	}
	for _, attr := range span.Attributes() {
		rs.Attributes[string(attr.Key)] = attr.Value.Emit()
	}
	for _, event := range span.Events() {
		se := SpanEvent{
			Name:       event.Name,
			TimeUnix:   event.Time.UnixNano(),
			Attributes: make(map[string]string, len(event.Attributes)),
		}
		for _, attr := range event.Attributes {
			se.Attributes[string(attr.Key)] = attr.Value.Emit()
		}
		rs.Events = append(rs.Events, se)
	}
	return rs
}

// evictOldest drops spans beyond maxSize, oldest first.
// Caller must hold the write lock.
func (r *SpanRecorder) evictOldest() {
	if excess := len(r.spans) - r.maxSize; excess > 0 {
		r.spans = append([]*RecordedSpan(nil), r.spans[excess:]...)
	}
}

// Shutdown implements sdktrace.SpanExporter.
func (r *SpanRecorder) Shutdown(context.Context) error {
	r.Clear()
	return nil
}

// Spans returns all retained spans ordered by start time.
func (r *SpanRecorder) Spans() []*RecordedSpan {
	r.mu.RLock()
	out := append([]*RecordedSpan(nil), r.spans...)
	r.mu.RUnlock()
	sortByStart(out)
	return out
}

// DocumentSpans returns every span of the traces that touched documentID,
// ordered by start time. Only root spans carry the document attribute, so
// stage spans are matched through their trace.
func (r *SpanRecorder) DocumentSpans(documentID string) []*RecordedSpan {
	r.mu.RLock()
	defer r.mu.RUnlock()

	traces := make(map[string]struct{})
	for _, s := range r.spans {
		if s.Attributes[AttrDocumentID] == documentID {
			traces[s.TraceID] = struct{}{}
		}
	}
	var out []*RecordedSpan
	for _, s := range r.spans {
		if _, ok := traces[s.TraceID]; ok {
			out = append(out, s)
		}
	}
	sortByStart(out)
	return out
}

// SpansByName returns the retained spans with the given name.
func (r *SpanRecorder) SpansByName(name string) []*RecordedSpan {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*RecordedSpan
	for _, s := range r.spans {
		if s.Name == name {
			out = append(out, s)
		}
	}
	return out
}

// Clear removes all retained spans.
func (r *SpanRecorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spans = nil
}

// Count returns the number of retained spans.
func (r *SpanRecorder) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.spans)
}

func sortByStart(spans []*RecordedSpan) {
	sort.SliceStable(spans, func(i, j int) bool { return spans[i].StartTime < spans[j].StartTime })
}

var _ sdktrace.SpanExporter = (*SpanRecorder)(nil)
