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

package document

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassify_Boundary(t *testing.T) {
	assert.Equal(t, TypeShort, Classify(0))
	assert.Equal(t, TypeShort, Classify(14999))
	assert.Equal(t, TypeShort, Classify(15000))
	assert.Equal(t, TypeLong, Classify(15001))
	assert.Equal(t, TypeLong, Classify(50000))
}

func TestClassifier_Defaults(t *testing.T) {
	c := NewClassifier(0, nil)
	assert.Equal(t, ShortLongThreshold, c.Threshold)

	typ, n := c.ClassifyText(strings.Repeat("a", 4*15000))
	assert.Equal(t, 15000, n)
	assert.Equal(t, TypeShort, typ)

	typ, n = c.ClassifyText(strings.Repeat("a", 4*15000+1))
	assert.Equal(t, 15001, n)
	assert.Equal(t, TypeLong, typ)
}

func TestClassifier_CustomThreshold(t *testing.T) {
	c := NewClassifier(10, nil)
	assert.Equal(t, TypeShort, c.Classify(10))
	assert.Equal(t, TypeLong, c.Classify(11))
}

func TestUpdate_Apply(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	doc := &Document{
		ID:                 "doc-1",
		Status:             StatusProcessing,
		CollectionID:       "old",
		ProcessingMetadata: map[string]any{"kept": true},
	}

	Update{
		Status:             Ptr(StatusCompleted),
		ChunkCount:         Ptr(7),
		CollectionID:       Ptr("new"),
		ProcessingMetadata: map[string]any{"chunking_ms": 12},
	}.Apply(doc, now)

	assert.Equal(t, StatusCompleted, doc.Status)
	assert.Equal(t, 7, doc.ChunkCount)
	assert.Equal(t, "new", doc.CollectionID)
	assert.True(t, doc.HasCollection())
	assert.Equal(t, true, doc.ProcessingMetadata["kept"])
	assert.Equal(t, 12, doc.ProcessingMetadata["chunking_ms"])
	assert.Equal(t, now, doc.UpdatedAt)

	Update{ClearCollection: true, CollectionID: Ptr("ignored")}.Apply(doc, now)
	assert.False(t, doc.HasCollection())
}
