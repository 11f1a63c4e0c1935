package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/promptforge/internal/apperror"
	"github.com/sakif/promptforge/internal/codegen"
	"github.com/sakif/promptforge/internal/model"
	"github.com/sakif/promptforge/internal/repository"
)

// Validation limits for saved projects.
const (
	MaxProjectNameLength = 100
	MaxProjectFiles      = 200
	DefaultHistoryKeep   = 5
)

// ProjectService keeps each user's bounded project history.
type ProjectService struct {
	repo   repository.ProjectRepository
	keep   int
	logger *slog.Logger
}

// NewProjectService keeps the keep newest projects per user (5 when keep < 1).
func NewProjectService(repo repository.ProjectRepository, keep int, logger *slog.Logger) *ProjectService {
	if keep < 1 {
		keep = DefaultHistoryKeep
	}
	return &ProjectService{repo: repo, keep: keep, logger: logger}
}

// SaveInput is what the client sends to save a project.
type SaveInput struct {
	Name            string
	InitialPrompt   string
	OptimizedPrompt string
	Files           []model.GeneratedFile
}

// Save stores a project for userID. Older projects beyond the history limit
// are deleted in the same transaction.
//
// Files come from the client, so their paths go through the same safety check
// as model output before they are stored.
func (s *ProjectService) Save(ctx context.Context, userID string, in SaveInput) (*model.Project, error) {
	if userID == "" {
		return nil, apperror.Unauthorized("Not authenticated")
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperror.ValidationFailed("project_name", "project name is required")
	}
	if len(name) > MaxProjectNameLength {
		return nil, apperror.ValidationFailed("project_name",
			fmt.Sprintf("project name must be %d characters or less", MaxProjectNameLength))
	}
	if len(in.Files) > MaxProjectFiles {
		return nil, apperror.ValidationFailed("generated_files",
			fmt.Sprintf("a project can hold at most %d files", MaxProjectFiles))
	}
	for _, f := range in.Files {
		if !codegen.SafePath(f.Path) {
			return nil, apperror.ValidationFailed("generated_files",
				fmt.Sprintf("invalid file path %q", f.Path))
		}
	}

	project := &model.Project{
		UserID:          userID,
		Name:            name,
		InitialPrompt:   in.InitialPrompt,
		OptimizedPrompt: in.OptimizedPrompt,
		Files:           in.Files,
	}
	if err := s.repo.CreateWithRetention(ctx, project, s.keep); err != nil {
		return nil, fmt.Errorf("service/project: saving project: %w", err)
	}

	s.logger.Info("project saved",
		slog.String("projectID", project.ID),
		slog.String("userID", userID),
		slog.Int("files", len(project.Files)),
	)
	return project, nil
}

// List returns the user's history, newest first.
func (s *ProjectService) List(ctx context.Context, userID string) ([]model.Project, error) {
	projects, err := s.repo.ListByUser(ctx, userID, s.keep)
	if err != nil {
		return nil, fmt.Errorf("service/project: listing projects: %w", err)
	}
	return projects, nil
}

// Get returns one of the user's projects.
func (s *ProjectService) Get(ctx context.Context, userID, id string) (*model.Project, error) {
	project, err := s.repo.GetForUser(ctx, id, userID)
	if err != nil {
		return nil, fmt.Errorf("service/project: getting project %s: %w", id, err)
	}
	return project, nil
}

// Delete removes one of the user's projects.
func (s *ProjectService) Delete(ctx context.Context, userID, id string) error {
	if err := s.repo.DeleteForUser(ctx, id, userID); err != nil {
		return fmt.Errorf("service/project: deleting project %s: %w", id, err)
	}
	s.logger.Info("project deleted",
		slog.String("projectID", id),
		slog.String("userID", userID),
	)
	return nil
}
