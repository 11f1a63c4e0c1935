// Package service contains the business logic layer of the application.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (Business layer) → validates, enforces rules, orchestrates
//	Repository (Data layer)  → reads/writes the database
//
// Services take interfaces (repository.UserRepository, llm.Generator,
// mailer.Sender, kvstore.Store) and never import net/http, so the tests can
// drive them with plain function calls and in-memory fakes.
package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/sakif/promptforge/internal/apperror"
	"github.com/sakif/promptforge/internal/auth"
	"github.com/sakif/promptforge/internal/mailer"
	"github.com/sakif/promptforge/internal/model"
	"github.com/sakif/promptforge/internal/otp"
	"github.com/sakif/promptforge/internal/repository"
)

// Validation limits for account fields.
const (
	MaxUsernameLength = 50
	MaxEmailLength    = 254

	// AppName prefixes email subjects.
	AppName = "PromptForge"

	mailTimeout = 15 * time.Second
)

// AuthService runs the two-step (password, then emailed code) registration
// and login flows.
//
//	RequestRegistration → code emailed → VerifyRegistration → account + token
//	RequestLogin        → code emailed → VerifyLogin        → token
//
// DEPENDENCIES (injected via NewAuthService):
//   - users     repository.UserRepository → account rows
//   - otps      *otp.Manager              → pending challenges with expiry
//   - throttle  *otp.Throttle             → per-key resend limit (may be nil)
//   - mail      mailer.Sender             → delivers the code
//   - tokens    *auth.TokenService        → signs bearer tokens
//   - passwords *auth.PasswordService     → bcrypt
type AuthService struct {
	users     repository.UserRepository
	otps      *otp.Manager
	throttle  *otp.Throttle
	mail      mailer.Sender
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	logger    *slog.Logger
}

// NewAuthService wires an AuthService.
func NewAuthService(
	users repository.UserRepository,
	otps *otp.Manager,
	throttle *otp.Throttle,
	mail mailer.Sender,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:     users,
		otps:      otps,
		throttle:  throttle,
		mail:      mail,
		tokens:    tokens,
		passwords: passwords,
		logger:    logger,
	}
}

// AuthResult bundles the account and its freshly signed token.
type AuthResult struct {
	User  *model.User
	Token string
}

// Credentials is the input of every step of both flows.
type Credentials struct {
	Username string
	Email    string
	Password string
}

func (c Credentials) normalized() Credentials {
	return Credentials{
		Username: strings.TrimSpace(c.Username),
		Email:    strings.ToLower(strings.TrimSpace(c.Email)),
		Password: c.Password,
	}
}

func validateCredentials(c Credentials) error {
	if c.Username == "" {
		return apperror.ValidationFailed("username", "username is required")
	}
	if len(c.Username) > MaxUsernameLength {
		return apperror.ValidationFailed("username",
			fmt.Sprintf("username must be %d characters or less", MaxUsernameLength))
	}
	if c.Email == "" {
		return apperror.ValidationFailed("email", "email is required")
	}
	if len(c.Email) > MaxEmailLength {
		return apperror.ValidationFailed("email", "email is too long")
	}
	if addr, err := mail.ParseAddress(c.Email); err != nil || addr.Address != c.Email {
		return apperror.ValidationFailed("email", "email is not a valid address")
	}
	if c.Password == "" {
		return apperror.ValidationFailed("password", "password is required")
	}
	if len(c.Password) > auth.MaxPasswordBytes {
		return apperror.ValidationFailed("password",
			fmt.Sprintf("password must be %d bytes or fewer", auth.MaxPasswordBytes))
	}
	return nil
}

// RequestRegistration checks that neither the username nor the email is
// taken and emails a registration code. A repeated request replaces the
// pending code.
func (s *AuthService) RequestRegistration(ctx context.Context, in Credentials) error {
	in = in.normalized()
	if err := validateCredentials(in); err != nil {
		return err
	}

	exists, err := s.users.ExistsByUsernameOrEmail(ctx, in.Username, in.Email)
	if err != nil {
		return fmt.Errorf("service/auth: checking existing user: %w", err)
	}
	if exists {
		return apperror.ValidationFailed("username", "Username or email already exists")
	}

	key := otp.Key(otp.IntentRegister, in.Username, in.Email)
	return s.issueAndSend(ctx, key, otp.Challenge{
		Username: in.Username,
		Email:    in.Email,
		Password: in.Password,
	}, AppName+" - Verification Code", "Your verification code is: %s\n\nThis code will expire in %d minutes.")
}

// VerifyRegistration checks the code and the resubmitted password, creates
// the account and consumes the challenge.
//
// A wrong code keeps the challenge so the user can retry; an expired one is
// removed by the otp.Manager.
func (s *AuthService) VerifyRegistration(ctx context.Context, in Credentials, code string) (*AuthResult, error) {
	in = in.normalized()
	key := otp.Key(otp.IntentRegister, in.Username, in.Email)

	ch, err := s.otps.Verify(ctx, key, code)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(ch.Password), []byte(in.Password)) != 1 {
		return nil, apperror.ValidationFailed("password", "Password mismatch")
	}

	hash, err := s.passwords.Hash(ch.Password)
	if err != nil {
		return nil, fmt.Errorf("service/auth: hashing password: %w", err)
	}

	user := &model.User{
		Username:     ch.Username,
		Email:        ch.Email,
		PasswordHash: hash,
	}
	if err := s.users.Create(ctx, user); err != nil {
		// Conflict passes through: someone else registered the name meanwhile.
		return nil, fmt.Errorf("service/auth: creating user: %w", err)
	}
	if err := s.otps.Consume(ctx, key); err != nil {
		s.logger.Error("failed to consume registration challenge",
			slog.String("userID", user.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("user registered",
		slog.String("userID", user.ID),
		slog.String("username", user.Username),
	)
	return s.result(user)
}

// RequestLogin checks the password of the account matching both username and
// email and emails a login code. Unknown accounts and wrong passwords get the
// same Unauthorized error.
func (s *AuthService) RequestLogin(ctx context.Context, in Credentials) error {
	in = in.normalized()
	if in.Username == "" || in.Email == "" || in.Password == "" {
		return apperror.ValidationFailed("credentials", "username, email and password are required")
	}

	user, err := s.users.GetByUsernameAndEmail(ctx, in.Username, in.Email)
	if errors.Is(err, apperror.ErrNotFound) {
		return apperror.Unauthorized("Invalid credentials")
	}
	if err != nil {
		return fmt.Errorf("service/auth: looking up user: %w", err)
	}
	if err := s.passwords.Verify(user.PasswordHash, in.Password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return apperror.Unauthorized("Invalid credentials")
		}
		return fmt.Errorf("service/auth: verifying password: %w", err)
	}

	key := otp.Key(otp.IntentLogin, in.Username, in.Email)
	return s.issueAndSend(ctx, key, otp.Challenge{
		Username: user.Username,
		Email:    user.Email,
		UserID:   user.ID,
	}, AppName+" - Login Verification Code", "Your login verification code is: %s\n\nThis code will expire in %d minutes.")
}

// VerifyLogin checks the code, consumes the challenge and issues a token.
func (s *AuthService) VerifyLogin(ctx context.Context, in Credentials, code string) (*AuthResult, error) {
	in = in.normalized()
	key := otp.Key(otp.IntentLogin, in.Username, in.Email)

	ch, err := s.otps.Verify(ctx, key, code)
	if err != nil {
		return nil, err
	}
	if err := s.otps.Consume(ctx, key); err != nil {
		return nil, fmt.Errorf("service/auth: consuming login challenge: %w", err)
	}

	user, err := s.users.GetByID(ctx, ch.UserID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: loading user %s: %w", ch.UserID, err)
	}

	s.logger.Info("user logged in", slog.String("userID", user.ID))
	return s.result(user)
}

func (s *AuthService) result(user *model.User) (*AuthResult, error) {
	token, err := s.tokens.Generate(user.ID, user.Username)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for user %s: %w", user.ID, err)
	}
	return &AuthResult{User: user, Token: token}, nil
}

// issueAndSend throttles, stores a new challenge and emails its code. A
// challenge whose email failed stays pending until it expires or is replaced
// by the next request.
func (s *AuthService) issueAndSend(ctx context.Context, key string, ch otp.Challenge, subject, bodyFormat string) error {
	if !s.throttle.Allow(key) {
		return apperror.RateLimited("Please wait before requesting another code")
	}

	code, err := s.otps.Issue(ctx, key, ch)
	if err != nil {
		return fmt.Errorf("service/auth: issuing challenge: %w", err)
	}

	body := fmt.Sprintf(bodyFormat, code, int(s.otps.TTL().Minutes()))
	mailCtx, cancel := context.WithTimeout(ctx, mailTimeout)
	defer cancel()
	if err := s.mail.Send(mailCtx, ch.Email, subject, body); err != nil {
		s.logger.Error("failed to send verification email",
			slog.String("email", ch.Email),
			slog.String("error", err.Error()),
		)
		return apperror.Upstream("Failed to send OTP", err)
	}

	s.logger.Info("verification code sent",
		slog.String("email", ch.Email),
		slog.String("subject", subject),
	)
	return nil
}
