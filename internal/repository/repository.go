// Package repository declares the persistence interfaces the service layer
// depends on. internal/repository/sqlite implements them.
package repository

import (
	"context"

	"github.com/sakif/promptforge/internal/model"
)

// UserRepository stores registered accounts.
type UserRepository interface {
	// Create assigns ID and CreatedAt. A duplicate username or email is an
	// apperror Conflict.
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	// GetByUsernameAndEmail matches both columns; login requires the pair.
	GetByUsernameAndEmail(ctx context.Context, username, email string) (*model.User, error)
	ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error)
}

// ProjectRepository stores each user's saved generation history.
type ProjectRepository interface {
	// CreateWithRetention inserts project and then deletes all but the keep
	// newest projects of the same owner, in one transaction.
	CreateWithRetention(ctx context.Context, project *model.Project, keep int) error
	// ListByUser returns the owner's projects newest first.
	ListByUser(ctx context.Context, userID string, limit int) ([]model.Project, error)
	// GetForUser and DeleteForUser return NotFound when the project does not
	// exist or belongs to someone else.
	GetForUser(ctx context.Context, id, userID string) (*model.Project, error)
	DeleteForUser(ctx context.Context, id, userID string) error
}
