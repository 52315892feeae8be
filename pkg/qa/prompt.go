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

package qa

import (
	"fmt"
	"regexp"
	"strings"
)

const systemPrompt = `You answer questions about a single document.
Use only the document excerpts provided by the user. If the excerpts do not
contain the answer, say that the document does not cover it.
Be concise and quote figures exactly as they appear.`

const degradedNote = "Only the beginning of the document is available, so the answer may be incomplete."

// buildPrompt lays out the context and question for the model.
func buildPrompt(source, question string, c *Context) string {
	var b strings.Builder
	if source != "" {
		fmt.Fprintf(&b, "Document: %s\n", source)
	}
	if c.Degraded {
		b.WriteString(degradedNote)
		b.WriteString("\n")
	}
	b.WriteString("\n<document>\n")
	b.WriteString(c.Text)
	b.WriteString("\n</document>\n\nQuestion: ")
	b.WriteString(sanitizeQuestion(question))
	return b.String()
}

// injectionReplacer strips role markers and prompt delimiters users could
// use to break out of the question slot.
var injectionReplacer = strings.NewReplacer(
	"SYSTEM:", "", "System:", "", "system:", "",
	"ASSISTANT:", "", "Assistant:", "", "assistant:", "",
	"USER:", "", "User:", "", "user:", "",
	"</document>", "", "<document>", "",
	"```", "", "---", "", "===", "", "***", "",
)

var overridePattern = regexp.MustCompile(`(?i)(ignore|disregard)\s+(all\s+)?previous(\s+instructions)?`)

var spaceRun = regexp.MustCompile(`\s+`)

// sanitizeQuestion removes prompt injection patterns from a question.
func sanitizeQuestion(question string) string {
	s := injectionReplacer.Replace(question)
	s = overridePattern.ReplaceAllString(s, "")
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}
