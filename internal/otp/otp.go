// Package otp issues and verifies emailed one-time codes.
//
// A Challenge is stored under a key derived from the intent (register or
// login), the username and the email. At most one challenge exists per key:
// issuing again silently replaces the previous code.
//
// Verify checks, in order:
//  1. a challenge exists for the key          -> ErrInvalidOrExpired
//  2. it is no older than the TTL             -> ErrExpired (and it is deleted)
//  3. the code matches                        -> ErrInvalidCode (kept for retry)
//
// Verify does not consume the challenge. The caller deletes it with Consume
// once its own follow-up work (creating the account, etc.) has succeeded.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/sakif/promptforge/internal/apperror"
	"github.com/sakif/promptforge/internal/kvstore"
)

// CodeLength is the number of decimal digits in a code.
const CodeLength = 6

// DefaultTTL is how long a code stays valid.
const DefaultTTL = 10 * time.Minute

// Intent says which flow a challenge belongs to.
type Intent string

const (
	IntentRegister Intent = "register"
	IntentLogin    Intent = "login"
)

// Verification failures. Each is a validation error with the message the
// user sees, so callers can return them as-is.
var (
	ErrInvalidOrExpired = apperror.ValidationFailed("otp", "Invalid or expired OTP")
	ErrExpired          = apperror.ValidationFailed("otp", "OTP expired")
	ErrInvalidCode      = apperror.ValidationFailed("otp", "Invalid OTP")
)

// Challenge is a pending verification.
//
// Password is only set for registration (the candidate password, resubmitted
// at verification time). UserID is only set for login.
type Challenge struct {
	Code     string    `json:"code"`
	IssuedAt time.Time `json:"issued_at"`
	Username string    `json:"username"`
	Email    string    `json:"email"`
	Password string    `json:"password,omitempty"`
	UserID   string    `json:"user_id,omitempty"`
}

// Key builds the store key for a challenge.
func Key(intent Intent, username, email string) string {
	return string(intent) + ":" + username + ":" + strings.ToLower(email)
}

// Manager issues and verifies challenges against a keyed store.
type Manager struct {
	store kvstore.Store[Challenge]
	ttl   time.Duration
	now   func() time.Time
	code  func() (string, error)
}

// Option customises a Manager.
type Option func(*Manager)

// WithClock replaces time.Now, for tests that need to move time forward.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithCodeGenerator replaces the random code source.
func WithCodeGenerator(gen func() (string, error)) Option {
	return func(m *Manager) { m.code = gen }
}

// NewManager creates a Manager. A non-positive ttl means DefaultTTL.
func NewManager(store kvstore.Store[Challenge], ttl time.Duration, opts ...Option) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m := &Manager{
		store: store,
		ttl:   ttl,
		now:   time.Now,
		code:  func() (string, error) { return GenerateCode(CodeLength) },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TTL returns how long issued codes stay valid.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Issue generates a fresh code, stores c under key (replacing any pending
// challenge) and returns the code.
func (m *Manager) Issue(ctx context.Context, key string, c Challenge) (string, error) {
	code, err := m.code()
	if err != nil {
		return "", fmt.Errorf("otp: generating code: %w", err)
	}
	c.Code = code
	c.IssuedAt = m.now()
	if err := m.store.Put(ctx, key, c); err != nil {
		return "", fmt.Errorf("otp: storing challenge: %w", err)
	}
	return code, nil
}

// Verify checks code against the challenge stored under key and returns the
// challenge on success.
func (m *Manager) Verify(ctx context.Context, key, code string) (Challenge, error) {
	c, err := m.store.Get(ctx, key)
	if errors.Is(err, kvstore.ErrNotFound) {
		return Challenge{}, ErrInvalidOrExpired
	}
	if err != nil {
		return Challenge{}, fmt.Errorf("otp: loading challenge: %w", err)
	}

	if m.now().Sub(c.IssuedAt) > m.ttl {
		if err := m.store.Delete(ctx, key); err != nil {
			return Challenge{}, fmt.Errorf("otp: deleting expired challenge: %w", err)
		}
		return Challenge{}, ErrExpired
	}

	code = strings.TrimSpace(code)
	if subtle.ConstantTimeCompare([]byte(c.Code), []byte(code)) != 1 {
		return Challenge{}, ErrInvalidCode
	}
	return c, nil
}

// Consume deletes the challenge under key. Deleting a missing key is not an error.
func (m *Manager) Consume(ctx context.Context, key string) error {
	if err := m.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("otp: consuming challenge: %w", err)
	}
	return nil
}

// Sweep removes challenges older than the TTL.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	return m.store.Sweep(ctx, kvstore.OlderThan(m.now(), m.ttl, func(c Challenge) time.Time {
		return c.IssuedAt
	}))
}

// GenerateCode returns length uniformly random decimal digits from crypto/rand.
func GenerateCode(length int) (string, error) {
	if length <= 0 {
		length = CodeLength
	}
	var b strings.Builder
	b.Grow(length)
	ten := big.NewInt(10)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}
