package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sakif/promptforge/internal/apperror"
	"github.com/sakif/promptforge/internal/auth"
	"github.com/sakif/promptforge/internal/kvstore"
	"github.com/sakif/promptforge/internal/model"
	"github.com/sakif/promptforge/internal/otp"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

// fakeUserRepo is an in-memory repository.UserRepository. Username and
// email are unique, like the real table.
type fakeUserRepo struct {
	mu     sync.Mutex
	users  map[string]*model.User
	nextID int
	// set to simulate a database failure
	createErr error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*model.User)}
}

func (f *fakeUserRepo) Create(_ context.Context, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	for _, u := range f.users {
		if u.Username == user.Username || strings.EqualFold(u.Email, user.Email) {
			return apperror.ConflictMessage("Username or email already exists")
		}
	}
	f.nextID++
	user.ID = fmt.Sprintf("user-%d", f.nextID)
	user.CreatedAt = time.Now()
	stored := *user
	f.users[user.ID] = &stored
	return nil
}

func (f *fakeUserRepo) GetByID(_ context.Context, id string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	copied := *u
	return &copied, nil
}

func (f *fakeUserRepo) GetByUsernameAndEmail(_ context.Context, username, email string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Username == username && strings.EqualFold(u.Email, email) {
			copied := *u
			return &copied, nil
		}
	}
	return nil, apperror.NotFoundMessage("user not found")
}

func (f *fakeUserRepo) ExistsByUsernameOrEmail(_ context.Context, username, email string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Username == username || strings.EqualFold(u.Email, email) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeUserRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.users)
}

// sentMail is one message captured by fakeMailer.
type sentMail struct {
	to, subject, body string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *fakeMailer) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{to, subject, body})
	return nil
}

func (m *fakeMailer) last(t *testing.T) sentMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatal("no email was sent")
	}
	return m.sent[len(m.sent)-1]
}

// fakeClock is a settable time source shared by the OTP manager and tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type authFixture struct {
	svc    *AuthService
	users  *fakeUserRepo
	mail   *fakeMailer
	clock  *fakeClock
	store  *kvstore.Memory[otp.Challenge]
	tokens *auth.TokenService
}

// newAuthFixture wires an AuthService with fakes. The code generator is
// fixed so tests know the code without reading the email; throttling is off
// unless a test enables it.
func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	clock := &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	store := kvstore.NewMemory[otp.Challenge]()
	manager := otp.NewManager(store, 10*time.Minute,
		otp.WithClock(clock.Now),
		otp.WithCodeGenerator(func() (string, error) { return "123456", nil }),
	)
	tokens, err := auth.NewTokenService("test-secret-at-least-16-chars!!", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	f := &authFixture{
		users:  newFakeUserRepo(),
		mail:   &fakeMailer{},
		clock:  clock,
		store:  store,
		tokens: tokens,
	}
	f.svc = NewAuthService(f.users, manager, nil, f.mail, tokens,
		auth.NewPasswordServiceForTest(4), discardLogger())
	return f
}

var ann = Credentials{Username: "ann", Email: "ann@example.com", Password: "hunter22"}

func (f *authFixture) register(t *testing.T, c Credentials) *AuthResult {
	t.Helper()
	if err := f.svc.RequestRegistration(context.Background(), c); err != nil {
		t.Fatalf("RequestRegistration() error = %v", err)
	}
	res, err := f.svc.VerifyRegistration(context.Background(), c, "123456")
	if err != nil {
		t.Fatalf("VerifyRegistration() error = %v", err)
	}
	return res
}

// =========================================================================
// REGISTRATION
// =========================================================================

func TestRegistration_HappyPath(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	if err := f.svc.RequestRegistration(ctx, ann); err != nil {
		t.Fatalf("RequestRegistration() error = %v", err)
	}
	mail := f.mail.last(t)
	if mail.to != "ann@example.com" {
		t.Errorf("mail to = %q", mail.to)
	}
	if mail.subject != "PromptForge - Verification Code" {
		t.Errorf("subject = %q", mail.subject)
	}
	if !strings.Contains(mail.body, "123456") || !strings.Contains(mail.body, "10 minutes") {
		t.Errorf("body = %q", mail.body)
	}

	res, err := f.svc.VerifyRegistration(ctx, ann, "123456")
	if err != nil {
		t.Fatalf("VerifyRegistration() error = %v", err)
	}
	if res.User.ID == "" || res.User.Username != "ann" {
		t.Errorf("User = %+v", res.User)
	}
	if res.User.PasswordHash == "hunter22" || !strings.HasPrefix(res.User.PasswordHash, "$2") {
		t.Errorf("password not hashed: %q", res.User.PasswordHash)
	}
	id, err := f.tokens.Validate(res.Token)
	if err != nil {
		t.Fatalf("token invalid: %v", err)
	}
	if id.UserID != res.User.ID || id.Username != "ann" {
		t.Errorf("token identity = %+v", id)
	}
	if f.users.count() != 1 {
		t.Errorf("users = %d, want 1", f.users.count())
	}
	if f.store.Len() != 0 {
		t.Errorf("challenge not consumed, store has %d entries", f.store.Len())
	}
}

func TestRegistration_SecondVerifyFails(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t, ann)

	_, err := f.svc.VerifyRegistration(context.Background(), ann, "123456")
	if !errors.Is(err, otp.ErrInvalidOrExpired) {
		t.Fatalf("second VerifyRegistration() error = %v, want ErrInvalidOrExpired", err)
	}
	if f.users.count() != 1 {
		t.Errorf("users = %d, want 1", f.users.count())
	}
}

func TestRegistration_ExpiredAfter601Seconds(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	if err := f.svc.RequestRegistration(ctx, ann); err != nil {
		t.Fatalf("RequestRegistration() error = %v", err)
	}

	f.clock.Advance(601 * time.Second)

	_, err := f.svc.VerifyRegistration(ctx, ann, "123456")
	if !errors.Is(err, otp.ErrExpired) {
		t.Fatalf("VerifyRegistration() error = %v, want ErrExpired", err)
	}
	if f.store.Len() != 0 {
		t.Error("expired challenge should be removed")
	}
	if f.users.count() != 0 {
		t.Error("no account should be created")
	}

	// the challenge is gone now
	_, err = f.svc.VerifyRegistration(ctx, ann, "123456")
	if !errors.Is(err, otp.ErrInvalidOrExpired) {
		t.Fatalf("VerifyRegistration() after expiry error = %v, want ErrInvalidOrExpired", err)
	}
}

func TestRegistration_WrongCodeKeepsChallenge(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	if err := f.svc.RequestRegistration(ctx, ann); err != nil {
		t.Fatalf("RequestRegistration() error = %v", err)
	}

	_, err := f.svc.VerifyRegistration(ctx, ann, "000000")
	if !errors.Is(err, otp.ErrInvalidCode) {
		t.Fatalf("VerifyRegistration() error = %v, want ErrInvalidCode", err)
	}
	if _, err := f.svc.VerifyRegistration(ctx, ann, "123456"); err != nil {
		t.Fatalf("retry with the right code error = %v", err)
	}
}

func TestRegistration_PasswordMismatch(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	if err := f.svc.RequestRegistration(ctx, ann); err != nil {
		t.Fatalf("RequestRegistration() error = %v", err)
	}

	other := ann
	other.Password = "not-the-same"
	_, err := f.svc.VerifyRegistration(ctx, other, "123456")
	if apperror.KindOf(err) != apperror.KindValidation || !strings.Contains(err.Error(), "Password mismatch") {
		t.Fatalf("VerifyRegistration() error = %v, want Password mismatch", err)
	}
	if f.users.count() != 0 {
		t.Error("no account should be created")
	}
}

func TestRegistration_EmailCaseDoesNotMatter(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	if err := f.svc.RequestRegistration(ctx, ann); err != nil {
		t.Fatalf("RequestRegistration() error = %v", err)
	}

	shouty := ann
	shouty.Email = "  ANN@Example.com "
	if _, err := f.svc.VerifyRegistration(ctx, shouty, "123456"); err != nil {
		t.Fatalf("VerifyRegistration() error = %v", err)
	}
}

func TestRequestRegistration_Validation(t *testing.T) {
	tests := []struct {
		name  string
		creds Credentials
		field string
	}{
		{"no username", Credentials{Email: "a@b.co", Password: "p"}, "username"},
		{"no email", Credentials{Username: "a", Password: "p"}, "email"},
		{"bad email", Credentials{Username: "a", Email: "not-an-email", Password: "p"}, "email"},
		{"no password", Credentials{Username: "a", Email: "a@b.co"}, "password"},
		{"long password", Credentials{Username: "a", Email: "a@b.co", Password: strings.Repeat("x", 73)}, "password"},
		{"long username", Credentials{Username: strings.Repeat("u", 51), Email: "a@b.co", Password: "p"}, "username"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAuthFixture(t)
			err := f.svc.RequestRegistration(context.Background(), tt.creds)
			var appErr *apperror.AppError
			if !errors.As(err, &appErr) || appErr.Kind != apperror.KindValidation {
				t.Fatalf("error = %v, want validation error", err)
			}
			if appErr.Field != tt.field {
				t.Errorf("Field = %q, want %q", appErr.Field, tt.field)
			}
			if len(f.mail.sent) != 0 {
				t.Error("no email should be sent")
			}
		})
	}
}

func TestRequestRegistration_Taken(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t, ann)

	sameEmail := Credentials{Username: "anna", Email: "ann@example.com", Password: "x"}
	err := f.svc.RequestRegistration(context.Background(), sameEmail)
	if !errors.Is(err, apperror.ErrValidation) || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("error = %v, want 'Username or email already exists'", err)
	}
}

func TestRequestRegistration_MailFailure(t *testing.T) {
	f := newAuthFixture(t)
	f.mail.err = errors.New("connection refused")

	err := f.svc.RequestRegistration(context.Background(), ann)
	if apperror.KindOf(err) != apperror.KindUpstream {
		t.Fatalf("error = %v, want upstream error", err)
	}
	var appErr *apperror.AppError
	if errors.As(err, &appErr) && appErr.Message != "Failed to send OTP" {
		t.Errorf("Message = %q", appErr.Message)
	}
	if f.store.Len() != 1 {
		t.Errorf("store has %d entries, want the pending challenge", f.store.Len())
	}

	// The next request replaces it and the new code works.
	f.mail.err = nil
	if err := f.svc.RequestRegistration(context.Background(), ann); err != nil {
		t.Fatalf("retry error = %v", err)
	}
	if _, err := f.svc.VerifyRegistration(context.Background(), ann, "123456"); err != nil {
		t.Fatalf("VerifyRegistration() error = %v", err)
	}
}

func TestRequestRegistration_Throttled(t *testing.T) {
	f := newAuthFixture(t)
	f.svc.throttle = otp.NewThrottle(30 * time.Second)

	if err := f.svc.RequestRegistration(context.Background(), ann); err != nil {
		t.Fatalf("first request error = %v", err)
	}
	err := f.svc.RequestRegistration(context.Background(), ann)
	if !errors.Is(err, apperror.ErrRateLimited) {
		t.Fatalf("second request error = %v, want ErrRateLimited", err)
	}

	other := Credentials{Username: "bob", Email: "bob@example.com", Password: "pw"}
	if err := f.svc.RequestRegistration(context.Background(), other); err != nil {
		t.Fatalf("other key should not be throttled: %v", err)
	}
}

func TestRegistration_RaceLoserGetsConflict(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	if err := f.svc.RequestRegistration(ctx, ann); err != nil {
		t.Fatalf("RequestRegistration() error = %v", err)
	}
	// someone else takes the name between request and verify
	if err := f.users.Create(ctx, &model.User{Username: "ann", Email: "x@example.com"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	_, err := f.svc.VerifyRegistration(ctx, ann, "123456")
	if !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("VerifyRegistration() error = %v, want ErrConflict", err)
	}
}

// =========================================================================
// LOGIN
// =========================================================================

func TestLogin_HappyPath(t *testing.T) {
	f := newAuthFixture(t)
	registered := f.register(t, ann)
	ctx := context.Background()

	if err := f.svc.RequestLogin(ctx, ann); err != nil {
		t.Fatalf("RequestLogin() error = %v", err)
	}
	if got := f.mail.last(t).subject; got != "PromptForge - Login Verification Code" {
		t.Errorf("subject = %q", got)
	}

	res, err := f.svc.VerifyLogin(ctx, ann, "123456")
	if err != nil {
		t.Fatalf("VerifyLogin() error = %v", err)
	}
	if res.User.ID != registered.User.ID {
		t.Errorf("logged in as %q, want %q", res.User.ID, registered.User.ID)
	}
	if res.Token == "" {
		t.Error("no token issued")
	}

	_, err = f.svc.VerifyLogin(ctx, ann, "123456")
	if !errors.Is(err, otp.ErrInvalidOrExpired) {
		t.Fatalf("second VerifyLogin() error = %v, want ErrInvalidOrExpired", err)
	}
}

func TestRequestLogin_InvalidCredentials(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t, ann)

	tests := []struct {
		name  string
		creds Credentials
	}{
		{"wrong password", Credentials{Username: "ann", Email: "ann@example.com", Password: "nope"}},
		{"unknown user", Credentials{Username: "zed", Email: "zed@example.com", Password: "hunter22"}},
		{"email of someone else", Credentials{Username: "ann", Email: "bob@example.com", Password: "hunter22"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.svc.RequestLogin(context.Background(), tt.creds)
			if !errors.Is(err, apperror.ErrUnauthorized) {
				t.Fatalf("error = %v, want ErrUnauthorized", err)
			}
		})
	}
}

func TestLogin_RegistrationCodeDoesNotLogIn(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t, ann)
	ctx := context.Background()

	// a pending registration challenge for the same pair must not satisfy login
	_, err := f.svc.VerifyLogin(ctx, ann, "123456")
	if !errors.Is(err, otp.ErrInvalidOrExpired) {
		t.Fatalf("VerifyLogin() without a login challenge error = %v", err)
	}
}
