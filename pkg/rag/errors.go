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

package rag

import (
	"errors"
	"fmt"
	"time"

	"github.com/kadirpekel/docrag/pkg/workerpool"
)

var (
	// ErrCollectionNotFound is returned when a collection has no catalog record.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrStageTimeout is wrapped by PipelineStageError when a stage exceeds its budget.
	ErrStageTimeout = workerpool.ErrTimeout
)

// Pipeline stage names reported in PipelineStageError.
const (
	StageChunking         = "chunking"
	StageEmbedding        = "embedding"
	StageCreateCollection = "create_collection"
	StageStoring          = "storing"
	StageQueryEmbedding   = "query_embedding"
	StageSearch           = "search"
)

// ValidationError reports malformed input caught before any work is done.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// ExternalServiceError wraps a failure from the embedding provider, the
// vector database or the LLM. Retryable marks transient failures.
type ExternalServiceError struct {
	Service   string // "embedder", "vector_store", "llm"
	Operation string
	Retryable bool
	Err       error
}

// Error implements the error interface.
func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("[%s] %s: %v", e.Service, e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

// NewExternalServiceError creates a new ExternalServiceError.
func NewExternalServiceError(service, operation string, retryable bool, err error) *ExternalServiceError {
	return &ExternalServiceError{Service: service, Operation: operation, Retryable: retryable, Err: err}
}

// AccessDeniedError is returned when a caller touches a collection it does not own.
type AccessDeniedError struct {
	CollectionID string
	OwnerID      string
}

// Error implements the error interface.
func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("access denied: owner %q may not access collection %q", e.OwnerID, e.CollectionID)
}

// PipelineStageError identifies the orchestrator stage that failed.
type PipelineStageError struct {
	Stage      string
	DocumentID string
	Duration   time.Duration
	Err        error
}

// Error implements the error interface.
func (e *PipelineStageError) Error() string {
	msg := fmt.Sprintf("pipeline stage %s failed", e.Stage)
	if e.DocumentID != "" {
		msg += fmt.Sprintf(" (document: %s)", e.DocumentID)
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *PipelineStageError) Unwrap() error {
	return e.Err
}

// NewPipelineStageError creates a new PipelineStageError.
func NewPipelineStageError(stage, documentID string, duration time.Duration, err error) *PipelineStageError {
	return &PipelineStageError{Stage: stage, DocumentID: documentID, Duration: duration, Err: err}
}

// IsRetryable reports whether err is a transient external failure.
func IsRetryable(err error) bool {
	var ext *ExternalServiceError
	return errors.As(err, &ext) && ext.Retryable
}
