package handler

import (
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/promptforge/internal/apperror"
	"github.com/sakif/promptforge/internal/codegen"
	"github.com/sakif/promptforge/internal/model"
	"github.com/sakif/promptforge/internal/service"
)

// GenerationHandler serves the optimize → generate → download pipeline.
// None of these routes require a login.
type GenerationHandler struct {
	gen    *service.GenerationService
	logger *slog.Logger
}

// NewGenerationHandler creates a GenerationHandler.
func NewGenerationHandler(gen *service.GenerationService, logger *slog.Logger) *GenerationHandler {
	return &GenerationHandler{gen: gen, logger: logger}
}

// OptimizeRequest is the body of POST /api/optimize-prompt.
type OptimizeRequest struct {
	Prompt string `json:"prompt"`
}

// OptimizeResponse returns both prompts and the new session's id.
type OptimizeResponse struct {
	OriginalPrompt  string `json:"original_prompt"`
	OptimizedPrompt string `json:"optimized_prompt"`
	SessionID       string `json:"session_id"`
}

// GenerateRequest is the body of POST /api/generate-code. OptimizedPrompt
// may carry the user's edits; when blank the stored prompt is used.
type GenerateRequest struct {
	SessionID       string `json:"session_id"`
	OptimizedPrompt string `json:"optimized_prompt"`
}

// GenerateResponse lists the generated files.
type GenerateResponse struct {
	Files     []model.GeneratedFile `json:"files"`
	SessionID string                `json:"session_id"`
}

// HandleOptimize rewrites the user's prompt and opens a session.
//
// HTTP: POST /api/optimize-prompt
// REQUEST BODY: {"prompt": "a todo app"}
func (h *GenerationHandler) HandleOptimize(w http.ResponseWriter, r *http.Request) {
	var req OptimizeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	sess, err := h.gen.Optimize(r.Context(), req.Prompt)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, OptimizeResponse{
		OriginalPrompt:  sess.OriginalPrompt,
		OptimizedPrompt: sess.OptimizedPrompt,
		SessionID:       sess.ID,
	})
}

// HandleGenerate produces the session's files.
//
// HTTP: POST /api/generate-code
// REQUEST BODY: {"session_id": "...", "optimized_prompt": "..."}
func (h *GenerationHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	sess, err := h.gen.Generate(r.Context(), req.SessionID, req.OptimizedPrompt)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, GenerateResponse{Files: sess.Files, SessionID: sess.ID})
}

// HandleDownloadZip sends every file of the session as one zip archive.
//
// HTTP: GET /api/download-zip/{session_id}
//
// URL PARAMETERS:
// chi.URLParam(r, "session_id") reads the {session_id} segment of the route.
func (h *GenerationHandler) HandleDownloadZip(w http.ResponseWriter, r *http.Request) {
	data, err := h.gen.Archive(r.Context(), chi.URLParam(r, "session_id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeAttachment(w, "application/zip", codegen.ArchiveName, data)
}

// HandleDownloadFile sends a single generated file.
//
// HTTP: GET /api/download-file/{session_id}/{index}
func (h *GenerationHandler) HandleDownloadFile(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, h.logger, apperror.ValidationFailed("index", "file index must be an integer"))
		return
	}
	name, content, err := h.gen.File(r.Context(), chi.URLParam(r, "session_id"), index)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeAttachment(w, "application/octet-stream", name, content)
}

// writeAttachment sends data as a file download named filename.
func writeAttachment(w http.ResponseWriter, contentType, filename string, data []byte) {
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": filename})
	if disposition == "" {
		disposition = "attachment; filename=" + codegen.DefaultFileName
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", disposition)
	w.Header().Set("Content-Length", fmt.Sprint(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
