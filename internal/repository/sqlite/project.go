package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/promptforge/internal/apperror"
	"github.com/sakif/promptforge/internal/model"
	"github.com/sakif/promptforge/internal/repository"
)

var _ repository.ProjectRepository = (*ProjectDB)(nil)

// ProjectDB is the per-user project history table.
type ProjectDB struct {
	conn *sql.DB
}

// CreateWithRetention inserts project and trims its owner's history to the
// keep newest rows.
//
// TRANSACTION:
// Both statements run in one *sql.Tx, so no reader ever sees the owner with
// more than keep projects, and a failed trim leaves the insert undone too.
// The deferred Rollback is a no-op after a successful Commit.
//
// "LIMIT -1 OFFSET n" is SQLite for "every row after the first n". Ties on
// created_at are broken by id so the trimmed set is deterministic.
func (p *ProjectDB) CreateWithRetention(ctx context.Context, project *model.Project, keep int) error {
	if keep < 1 {
		return fmt.Errorf("sqlite: retention keep must be at least 1, got %d", keep)
	}

	project.ID = xid.New().String()
	if project.CreatedAt.IsZero() {
		project.CreatedAt = time.Now()
	}
	// one zone for every row keeps the text timestamps sortable
	project.CreatedAt = project.CreatedAt.UTC()
	if project.Files == nil {
		project.Files = []model.GeneratedFile{}
	}
	filesJSON, err := json.Marshal(project.Files)
	if err != nil {
		return fmt.Errorf("sqlite: encoding generated files: %w", err)
	}

	tx, err := p.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO projects (id, user_id, project_name, initial_prompt, optimized_prompt, generated_files, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		project.ID,
		project.UserID,
		project.Name,
		project.InitialPrompt,
		project.OptimizedPrompt,
		string(filesJSON),
		project.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting project: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM projects WHERE id IN (
			SELECT id FROM projects
			WHERE user_id = ?
			ORDER BY created_at DESC, id DESC
			LIMIT -1 OFFSET ?
		 )`,
		project.UserID, keep,
	)
	if err != nil {
		return fmt.Errorf("sqlite: trimming project history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing project: %w", err)
	}
	return nil
}

// ListByUser returns the owner's projects, newest first. limit <= 0 means all.
func (p *ProjectDB) ListByUser(ctx context.Context, userID string, limit int) ([]model.Project, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := p.conn.QueryContext(ctx,
		`SELECT id, user_id, project_name, initial_prompt, optimized_prompt, generated_files, created_at
		 FROM projects
		 WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing projects: %w", err)
	}
	defer rows.Close()

	projects := make([]model.Project, 0)
	for rows.Next() {
		pr, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *pr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating projects: %w", err)
	}
	return projects, nil
}

// GetForUser returns the project only if userID owns it.
func (p *ProjectDB) GetForUser(ctx context.Context, id, userID string) (*model.Project, error) {
	row := p.conn.QueryRowContext(ctx,
		`SELECT id, user_id, project_name, initial_prompt, optimized_prompt, generated_files, created_at
		 FROM projects
		 WHERE id = ? AND user_id = ?`,
		id, userID,
	)
	pr, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, apperror.NotFoundMessage("Project not found")
	}
	if err != nil {
		return nil, err
	}
	return pr, nil
}

// DeleteForUser removes the project only if userID owns it.
func (p *ProjectDB) DeleteForUser(ctx context.Context, id, userID string) error {
	result, err := p.conn.ExecContext(ctx,
		`DELETE FROM projects WHERE id = ? AND user_id = ?`,
		id, userID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: deleting project %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFoundMessage("Project not found")
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanProject(s scanner) (*model.Project, error) {
	var (
		pr        model.Project
		filesJSON string
	)
	err := s.Scan(
		&pr.ID,
		&pr.UserID,
		&pr.Name,
		&pr.InitialPrompt,
		&pr.OptimizedPrompt,
		&filesJSON,
		&pr.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: scanning project row: %w", err)
	}
	if err := json.Unmarshal([]byte(filesJSON), &pr.Files); err != nil {
		return nil, fmt.Errorf("sqlite: decoding files of project %s: %w", pr.ID, err)
	}
	if pr.Files == nil {
		pr.Files = []model.GeneratedFile{}
	}
	return &pr, nil
}
