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

// Package extract turns uploaded files into plain text for ingestion.
//
// Text formats are read as UTF-8. PDF, Word and Excel files are parsed
// natively; each page, paragraph or sheet becomes a block of text.
package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

var (
	// ErrUnsupportedFormat is returned for file extensions no extractor handles.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrNoText is returned when a file contains no extractable text.
	ErrNoText = errors.New("no text could be extracted")
)

// Result is the text extracted from one file.
type Result struct {
	Text     string            `json:"text"`
	Title    string            `json:"title"`
	Format   string            `json:"format"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Duration time.Duration     `json:"duration"`
}

// Extractor handles one family of file formats.
type Extractor interface {
	Extensions() []string
	Extract(ctx context.Context, name string, data []byte) (*Result, error)
}

// Registry dispatches by file extension.
type Registry struct {
	byExt map[string]Extractor
}

// NewRegistry returns a registry with the text, PDF, Word and Excel
// extractors registered.
func NewRegistry() *Registry {
	r := &Registry{byExt: make(map[string]Extractor)}
	r.Register(textExtractor{})
	r.Register(pdfExtractor{})
	r.Register(docxExtractor{})
	r.Register(xlsxExtractor{})
	return r
}

// Register adds e, replacing any extractor for the same extensions.
func (r *Registry) Register(e Extractor) {
	for _, ext := range e.Extensions() {
		r.byExt[strings.ToLower(ext)] = e
	}
}

// Supports reports whether name has a registered extension.
func (r *Registry) Supports(name string) bool {
	_, ok := r.byExt[strings.ToLower(filepath.Ext(name))]
	return ok
}

// Extensions returns the registered extensions, sorted.
func (r *Registry) Extensions() []string {
	exts := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		exts = append(exts, ext)
	}
	slices.Sort(exts)
	return exts
}

// Extract extracts text from data, choosing the extractor by name.
func (r *Registry) Extract(ctx context.Context, name string, data []byte) (*Result, error) {
	ext := strings.ToLower(filepath.Ext(name))
	e, ok := r.byExt[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	start := time.Now()
	res, err := e.Extract(ctx, name, data)
	if err != nil {
		return nil, fmt.Errorf("failed to extract %s: %w", filepath.Base(name), err)
	}
	res.Text = strings.TrimSpace(res.Text)
	if res.Text == "" {
		return nil, fmt.Errorf("%s: %w", filepath.Base(name), ErrNoText)
	}
	if res.Title == "" {
		res.Title = filepath.Base(name)
	}
	if res.Metadata == nil {
		res.Metadata = make(map[string]string)
	}
	res.Metadata["word_count"] = fmt.Sprintf("%d", len(strings.Fields(res.Text)))
	res.Duration = time.Since(start)
	return res, nil
}

// ExtractFile reads and extracts a file from disk.
func (r *Registry) ExtractFile(ctx context.Context, path string) (*Result, error) {
	if !r.Supports(path) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return r.Extract(ctx, path, data)
}
