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

package extract

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"
)

// maxSheetCells bounds the cells read from one spreadsheet sheet.
const maxSheetCells = 10000

type docxExtractor struct{}

func (docxExtractor) Extensions() []string { return []string{".docx"} }

var (
	docxParagraphEnd = regexp.MustCompile(`</w:p>|<w:br/>|<w:tab/>`)
	xmlTag           = regexp.MustCompile(`<[^>]+>`)
)

func (docxExtractor) Extract(_ context.Context, _ string, data []byte) (*Result, error) {
	doc, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse Word document: %w", err)
	}
	defer doc.Close()

	text := docxText(doc.Editable().GetContent())
	paragraphs := 0
	for _, p := range strings.Split(text, "\n") {
		if strings.TrimSpace(p) != "" {
			paragraphs++
		}
	}

	return &Result{
		Text:     text,
		Format:   "docx",
		Metadata: map[string]string{"paragraphs": fmt.Sprintf("%d", paragraphs)},
	}, nil
}

// docxText reduces WordprocessingML to one line per paragraph.
func docxText(xml string) string {
	xml = docxParagraphEnd.ReplaceAllStringFunc(xml, func(m string) string {
		if m == "<w:tab/>" {
			return "\t"
		}
		return "\n"
	})
	text := html.UnescapeString(xmlTag.ReplaceAllString(xml, ""))

	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

type xlsxExtractor struct{}

func (xlsxExtractor) Extensions() []string { return []string{".xlsx"} }

func (xlsxExtractor) Extract(ctx context.Context, _ string, data []byte) (*Result, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse Excel workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	parts := make([]string, 0, len(sheets))
	truncated := false
	for _, sheet := range sheets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
		}

		var b strings.Builder
		cells := 0
	rows:
		for _, row := range rows {
			values := make([]string, 0, len(row))
			for _, cell := range row {
				if cells >= maxSheetCells {
					truncated = true
					break rows
				}
				if cell = strings.TrimSpace(cell); cell != "" {
					values = append(values, cell)
					cells++
				}
			}
			if len(values) > 0 {
				b.WriteString(strings.Join(values, " | "))
				b.WriteByte('\n')
			}
		}
		if b.Len() > 0 {
			parts = append(parts, fmt.Sprintf("Sheet: %s\n%s", sheet, strings.TrimRight(b.String(), "\n")))
		}
	}

	return &Result{
		Text:   strings.Join(parts, "\n\n"),
		Format: "xlsx",
		Metadata: map[string]string{
			"sheets":    fmt.Sprintf("%d", len(sheets)),
			"truncated": fmt.Sprintf("%t", truncated),
		},
	}, nil
}
