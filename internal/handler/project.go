package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/promptforge/internal/apperror"
	"github.com/sakif/promptforge/internal/auth"
	"github.com/sakif/promptforge/internal/model"
	"github.com/sakif/promptforge/internal/service"
)

// ProjectHandler manages a logged-in user's project history. Every route is
// mounted behind auth.RequireAuth, so the caller's identity is always in the
// request context.
type ProjectHandler struct {
	projects *service.ProjectService
	logger   *slog.Logger
}

// NewProjectHandler creates a ProjectHandler.
func NewProjectHandler(projects *service.ProjectService, logger *slog.Logger) *ProjectHandler {
	return &ProjectHandler{projects: projects, logger: logger}
}

// SaveProjectRequest is the body of POST /api/save-project.
type SaveProjectRequest struct {
	ProjectName     string                `json:"project_name"`
	InitialPrompt   string                `json:"initial_prompt"`
	OptimizedPrompt string                `json:"optimized_prompt"`
	GeneratedFiles  []model.GeneratedFile `json:"generated_files"`
}

// SaveProjectResponse confirms a save.
type SaveProjectResponse struct {
	Message   string `json:"message"`
	ProjectID string `json:"project_id"`
}

// ProjectListResponse wraps the history list.
type ProjectListResponse struct {
	Projects []model.Project `json:"projects"`
}

// userID returns the authenticated caller or writes a 401.
func (h *ProjectHandler) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, h.logger, apperror.Unauthorized("Not authenticated"))
		return "", false
	}
	return id.UserID, true
}

// HandleSave stores a project. Only the newest few per user are kept.
//
// HTTP: POST /api/save-project
func (h *ProjectHandler) HandleSave(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req SaveProjectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	project, err := h.projects.Save(r.Context(), userID, service.SaveInput{
		Name:            req.ProjectName,
		InitialPrompt:   req.InitialPrompt,
		OptimizedPrompt: req.OptimizedPrompt,
		Files:           req.GeneratedFiles,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, SaveProjectResponse{
		Message:   "Project saved successfully",
		ProjectID: project.ID,
	})
}

// HandleList returns the caller's history, newest first.
//
// HTTP: GET /api/projects
func (h *ProjectHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	projects, err := h.projects.List(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ProjectListResponse{Projects: projects})
}

// HandleGet returns one project.
//
// HTTP: GET /api/project/{id}
func (h *ProjectHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	project, err := h.projects.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

// HandleDelete removes one project.
//
// HTTP: DELETE /api/project/{id}
func (h *ProjectHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	if err := h.projects.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Project deleted successfully"})
}
