package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/promptforge/internal/apperror"
	"github.com/sakif/promptforge/internal/model"
	"github.com/sakif/promptforge/internal/repository"
)

// compile-time check that *UserDB implements repository.UserRepository
var _ repository.UserRepository = (*UserDB)(nil)

// UserDB is the users table.
type UserDB struct {
	conn *sql.DB
}

// Create inserts a new account. The caller has already hashed the password.
//
// The UNIQUE constraints on username and email are the final word on
// duplicates: two registrations racing past the service's existence check
// still cannot both succeed, and the loser gets a Conflict.
func (u *UserDB) Create(ctx context.Context, user *model.User) error {
	user.ID = xid.New().String()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	user.CreatedAt = user.CreatedAt.UTC()

	_, err := u.conn.ExecContext(ctx,
		`INSERT INTO users (id, username, email, password_hash, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		user.ID,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.ConflictMessage("Username or email already exists")
		}
		return fmt.Errorf("sqlite: inserting user %q: %w", user.Username, err)
	}
	return nil
}

// GetByID retrieves a user by internal ID.
func (u *UserDB) GetByID(ctx context.Context, id string) (*model.User, error) {
	user, err := u.scanOne(ctx,
		`SELECT id, username, email, password_hash, created_at FROM users WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, apperror.NotFound("user", id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}
	return user, nil
}

// GetByUsernameAndEmail finds the account matching both fields. The email
// comparison is case-insensitive (column collation).
func (u *UserDB) GetByUsernameAndEmail(ctx context.Context, username, email string) (*model.User, error) {
	user, err := u.scanOne(ctx,
		`SELECT id, username, email, password_hash, created_at
		 FROM users WHERE username = ? AND email = ?`, username, email)
	if err == sql.ErrNoRows {
		return nil, apperror.NotFoundMessage("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting user %q: %w", username, err)
	}
	return user, nil
}

// ExistsByUsernameOrEmail reports whether either value is already taken.
func (u *UserDB) ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error) {
	var n int
	err := u.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE username = ? OR email = ?`,
		username, email,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking user existence: %w", err)
	}
	return n > 0, nil
}

func (u *UserDB) scanOne(ctx context.Context, query string, args ...any) (*model.User, error) {
	var user model.User
	err := u.conn.QueryRowContext(ctx, query, args...).Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}
