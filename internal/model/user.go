// Package model defines the data structures used throughout the application.
package model

import "time"

// User represents a registered account.
//
// Accounts are only ever created by a verified registration challenge, so a
// row in the users table always belongs to someone who proved control of the
// email address. Username and Email are both UNIQUE in the database.
//
// PasswordHash holds the full bcrypt output (salt and cost included). It is
// tagged json:"-" so it can never leak through an API response by accident.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
