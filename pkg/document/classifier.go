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

import "github.com/kadirpekel/docrag/pkg/utils"

// ShortLongThreshold is the default token count at or below which a document
// is answered with its full text.
const ShortLongThreshold = 15000

// Classify maps a token count to a length class using the default threshold.
func Classify(tokenCount int) Type {
	return classify(tokenCount, ShortLongThreshold)
}

func classify(tokenCount, threshold int) Type {
	if tokenCount <= threshold {
		return TypeShort
	}
	return TypeLong
}

// Classifier classifies documents by length.
type Classifier struct {
	Threshold int
	Tokenizer utils.Tokenizer
}

// NewClassifier returns a Classifier. A non-positive threshold selects
// ShortLongThreshold and a nil tokenizer selects utils.Estimator.
func NewClassifier(threshold int, tokenizer utils.Tokenizer) *Classifier {
	if threshold <= 0 {
		threshold = ShortLongThreshold
	}
	if tokenizer == nil {
		tokenizer = utils.Estimator{}
	}
	return &Classifier{Threshold: threshold, Tokenizer: tokenizer}
}

// Classify maps a token count to a length class.
func (c *Classifier) Classify(tokenCount int) Type {
	return classify(tokenCount, c.Threshold)
}

// ClassifyText counts the tokens in text and classifies it.
func (c *Classifier) ClassifyText(text string) (Type, int) {
	n := c.Tokenizer.Count(text)
	return c.Classify(n), n
}
