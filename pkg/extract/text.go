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
	"errors"
	"unicode/utf8"
)

// textExtractor passes UTF-8 text formats through unchanged.
type textExtractor struct{}

func (textExtractor) Extensions() []string {
	return []string{".txt", ".md", ".markdown", ".rst", ".csv", ".json", ".yaml", ".yml", ".html", ".xml", ".log"}
}

func (textExtractor) Extract(_ context.Context, _ string, data []byte) (*Result, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		return nil, errors.New("file is not valid UTF-8 text")
	}
	return &Result{Text: string(data), Format: "text"}, nil
}
