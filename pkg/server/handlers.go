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

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/docrag/pkg/docs"
	"github.com/kadirpekel/docrag/pkg/document"
	"github.com/kadirpekel/docrag/pkg/extract"
	"github.com/kadirpekel/docrag/pkg/rag"
)

type createRequest struct {
	ID         string `json:"id,omitempty"`
	SourceName string `json:"source_name"`
	Text       string `json:"text"`
}

type askRequest struct {
	Question         string `json:"question"`
	MaxContextTokens int    `json:"max_context_tokens,omitempty"`
}

type errorResponse struct {
	Error    string             `json:"error"`
	Document *document.Document `json:"document,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.version})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	if s.stats == nil {
		writeError(w, http.StatusNotFound, "pipeline stats are not collected")
		return
	}
	writeJSON(w, http.StatusOK, s.stats.Snapshot())
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	req, err := s.decodeCreate(r)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	doc, err := s.docs.Create(r.Context(), docs.CreateRequest{
		ID:         req.ID,
		OwnerID:    ownerFrom(r),
		SourceName: req.SourceName,
		Text:       req.Text,
	})
	if err != nil {
		if doc != nil {
			writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), Document: doc})
			return
		}
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// decodeCreate accepts a JSON body or a multipart upload in the "file" field.
func (s *Server) decodeCreate(r *http.Request) (*createRequest, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var req createRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return nil, err
			}
			return nil, rag.NewValidationError("body", fmt.Sprintf("invalid JSON: %v", err))
		}
		return &req, nil
	}

	if s.extractor == nil {
		return nil, fmt.Errorf("%w: file uploads are disabled", extract.ErrUnsupportedFormat)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
		return nil, rag.NewValidationError("file", err.Error())
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, rag.NewValidationError("file", err.Error())
	}
	res, err := s.extractor.Extract(r.Context(), header.Filename, data)
	if err != nil {
		return nil, err
	}

	slog.Debug("Extracted upload",
		"file", header.Filename,
		"format", res.Format,
		"words", res.Metadata["word_count"])
	return &createRequest{
		ID:         r.FormValue("id"),
		SourceName: header.Filename,
		Text:       res.Text,
	}, nil
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := s.docs.List(r.Context(), ownerFrom(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": list, "count": len(list)})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	doc, err := s.docs.Get(r.Context(), chi.URLParam(r, "id"), ownerFrom(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// handleTrace returns the recorded spans of the document's ingestions and
// questions.
func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	doc, err := s.docs.Get(r.Context(), chi.URLParam(r, "id"), ownerFrom(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	spans := s.tracer.Recorder().DocumentSpans(doc.ID)
	writeJSON(w, http.StatusOK, map[string]any{"document_id": doc.ID, "spans": spans, "count": len(spans)})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.docs.Delete(r.Context(), chi.URLParam(r, "id"), ownerFrom(r)); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReprocess(w http.ResponseWriter, r *http.Request) {
	doc, err := s.docs.Reprocess(r.Context(), chi.URLParam(r, "id"), ownerFrom(r))
	if err != nil {
		if doc != nil {
			writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), Document: doc})
			return
		}
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		s.writeDomainError(w, rag.NewValidationError("body", fmt.Sprintf("invalid JSON: %v", err)))
		return
	}

	answer, err := s.docs.Ask(r.Context(), docs.AskRequest{
		DocumentID:       chi.URLParam(r, "id"),
		OwnerID:          ownerFrom(r),
		Question:         req.Question,
		MaxContextTokens: req.MaxContextTokens,
	})
	var verr *rag.ValidationError
	var denied *rag.AccessDeniedError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, answer)
	case errors.As(err, &verr), errors.As(err, &denied), answer == nil:
		s.writeDomainError(w, err)
	default:
		// Every strategy failed; the answer carries the apology.
		writeJSON(w, http.StatusBadGateway, answer)
	}
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "error", err)
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	var verr *rag.ValidationError
	var denied *rag.AccessDeniedError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, docs.ErrAccessDenied), errors.As(err, &denied):
		return http.StatusForbidden
	case errors.Is(err, document.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, docs.ErrProcessingInFlight):
		return http.StatusConflict
	case errors.Is(err, extract.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, extract.ErrNoText):
		return http.StatusUnprocessableEntity
	case errors.Is(err, document.ErrAlreadyExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
