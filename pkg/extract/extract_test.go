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
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestRegistry_Text(t *testing.T) {
	r := NewRegistry()

	res, err := r.Extract(context.Background(), "notes/Readme.MD", []byte("\xef\xbb\xbf# Title\n\nSome body text.\n"))
	require.NoError(t, err)
	assert.Equal(t, "# Title\n\nSome body text.", res.Text)
	assert.Equal(t, "text", res.Format)
	assert.Equal(t, "Readme.MD", res.Title)
	assert.Equal(t, "5", res.Metadata["word_count"])
}

func TestRegistry_Errors(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	_, err := r.Extract(ctx, "image.png", []byte{0x89, 'P', 'N', 'G'})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = r.Extract(ctx, "empty.txt", []byte("  \n\t"))
	assert.ErrorIs(t, err, ErrNoText)

	_, err = r.Extract(ctx, "binary.txt", []byte{0xff, 0xfe, 0x00})
	assert.ErrorContains(t, err, "UTF-8")

	_, err = r.Extract(ctx, "broken.pdf", []byte("not a pdf"))
	assert.ErrorContains(t, err, "failed to parse PDF")

	_, err = r.Extract(ctx, "broken.docx", []byte("not a zip"))
	assert.ErrorContains(t, err, "failed to parse Word document")
}

func TestRegistry_Extensions(t *testing.T) {
	r := NewRegistry()

	exts := r.Extensions()
	for _, ext := range []string{".txt", ".md", ".pdf", ".docx", ".xlsx"} {
		assert.Contains(t, exts, ext)
	}
	assert.IsNonDecreasing(t, exts)
	assert.True(t, r.Supports("REPORT.PDF"))
	assert.False(t, r.Supports("archive.tar.gz"))
}

func TestRegistry_Docx(t *testing.T) {
	body := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
		`<w:p><w:r><w:t>Quarterly report</w:t></w:r></w:p>` +
		`<w:p><w:r><w:t>Revenue grew &amp; costs fell.</w:t></w:r></w:p>` +
		`<w:p></w:p>` +
		`</w:body></w:document>`

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range map[string]string{
		"word/document.xml":            body,
		"word/_rels/document.xml.rels": `<?xml version="1.0" encoding="UTF-8"?><Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"></Relationships>`,
		"[Content_Types].xml":          `<?xml version="1.0" encoding="UTF-8"?><Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"></Types>`,
	} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	res, err := NewRegistry().Extract(context.Background(), "report.docx", buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "Quarterly report\nRevenue grew & costs fell.", res.Text)
	assert.Equal(t, "docx", res.Format)
	assert.Equal(t, "2", res.Metadata["paragraphs"])
}

func TestRegistry_Xlsx(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "Region"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "Sales"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "North"))
	require.NoError(t, f.SetCellValue("Sheet1", "B2", 1200))
	_, err := f.NewSheet("Empty")
	require.NoError(t, err)

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	require.NoError(t, f.Close())

	res, err := NewRegistry().Extract(context.Background(), "sales.xlsx", buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "Sheet: Sheet1\nRegion | Sales\nNorth | 1200", res.Text)
	assert.Equal(t, "2", res.Metadata["sheets"])
	assert.Equal(t, "false", res.Metadata["truncated"])
}

func TestRegistry_ExtractFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello from disk"), 0o600))

	r := NewRegistry()
	res, err := r.ExtractFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "hello from disk", res.Text)

	_, err = r.ExtractFile(context.Background(), filepath.Join(t.TempDir(), "missing.txt"))
	assert.ErrorContains(t, err, "failed to read")
}

func TestDocxText(t *testing.T) {
	got := docxText(`<w:p><w:r><w:t>a</w:t><w:tab/><w:t>b</w:t></w:r></w:p><w:p><w:r><w:t>c&lt;d</w:t></w:r></w:p>`)
	assert.Equal(t, "a\tb\nc<d", got)
}
