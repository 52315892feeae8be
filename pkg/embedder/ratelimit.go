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

package embedder

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RateLimitInfo is the back-off hint a provider sends with a throttled or
// failing response.
type RateLimitInfo struct {
	RetryAfter        time.Duration
	RequestsRemaining int
	TokensRemaining   int
}

// ParseRateLimitHeaders reads Retry-After and the x-ratelimit-* headers
// OpenAI and compatible servers send. Retry-After may be delta-seconds or
// an HTTP date; unknown or malformed values are ignored.
func ParseRateLimitHeaders(h http.Header) RateLimitInfo {
	info := RateLimitInfo{RequestsRemaining: -1, TokensRemaining: -1}

	if v := strings.TrimSpace(h.Get("Retry-After")); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
			info.RetryAfter = time.Duration(seconds) * time.Second
		} else if at, err := http.ParseTime(v); err == nil {
			if d := time.Until(at); d > 0 {
				info.RetryAfter = d
			}
		}
	}
	// retry-after-ms is more precise and wins when present.
	if v := h.Get("retry-after-ms"); v != "" {
		if ms, err := strconv.ParseFloat(v, 64); err == nil && ms > 0 {
			info.RetryAfter = time.Duration(ms * float64(time.Millisecond))
		}
	}

	if v := h.Get("x-ratelimit-remaining-requests"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			info.RequestsRemaining = n
		}
	}
	if v := h.Get("x-ratelimit-remaining-tokens"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			info.TokensRemaining = n
		}
	}
	return info
}
