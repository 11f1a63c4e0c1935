package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/sakif/promptforge/internal/auth"
	"github.com/sakif/promptforge/internal/codegen"
	"github.com/sakif/promptforge/internal/handler"
	"github.com/sakif/promptforge/internal/kvstore"
	"github.com/sakif/promptforge/internal/model"
	"github.com/sakif/promptforge/internal/otp"
	sqliteRepo "github.com/sakif/promptforge/internal/repository/sqlite"
	"github.com/sakif/promptforge/internal/service"
)

// MockGenerator implements llm.Generator with canned replies.
type MockGenerator struct {
	mu        sync.Mutex
	Optimized string
	Generated string
	Err       error
}

func (m *MockGenerator) GenerateText(_ context.Context, system, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	if system == codegen.OptimizerInstructions {
		return m.Optimized, nil
	}
	return m.Generated, nil
}

// MockMailer implements mailer.Sender and records every message.
type MockMailer struct {
	mu   sync.Mutex
	Sent []string
	Err  error
}

func (m *MockMailer) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Sent = append(m.Sent, to+"|"+subject+"|"+body)
	return nil
}

// testAPI is the handler set wired over real services with in-memory
// storage, mounted on the same routes as the server.
type testAPI struct {
	router http.Handler
	gen    *MockGenerator
	mail   *MockMailer
	tokens *auth.TokenService
}

const testCode = "424242"

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	db, err := sqliteRepo.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tokens, err := auth.NewTokenService("handler-test-secret-0123456789", time.Hour)
	require.NoError(t, err)

	api := &testAPI{
		gen:    &MockGenerator{Optimized: "Optimized: todo app", Generated: `{"files":[{"path":"a.txt","content":"A"},{"path":"b/c.txt","content":"C"}]}`},
		mail:   &MockMailer{},
		tokens: tokens,
	}

	otps := otp.NewManager(kvstore.NewMemory[otp.Challenge](), 10*time.Minute,
		otp.WithCodeGenerator(func() (string, error) { return testCode, nil }))
	authSvc := service.NewAuthService(db.Users(), otps, nil, api.mail, tokens,
		auth.NewPasswordServiceForTest(4), logger)
	genSvc := service.NewGenerationService(api.gen, kvstore.NewMemory[model.Session](),
		service.GenerationConfig{}, logger)
	projSvc := service.NewProjectService(db.Projects(), 5, logger)

	authH := handler.NewAuthHandler(authSvc, logger)
	genH := handler.NewGenerationHandler(genSvc, logger)
	projH := handler.NewProjectHandler(projSvc, logger)

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", handler.HandleHealth)
		r.Post("/send-otp", authH.HandleSendOTP)
		r.Post("/verify-otp-register", authH.HandleVerifyRegister)
		r.Post("/send-otp-login", authH.HandleSendLoginOTP)
		r.Post("/verify-otp-login", authH.HandleVerifyLogin)
		r.Post("/register", authH.HandleLegacyRegister)
		r.Post("/login", authH.HandleLegacyLogin)
		r.Post("/optimize-prompt", genH.HandleOptimize)
		r.Post("/generate-code", genH.HandleGenerate)
		r.Get("/download-zip/{session_id}", genH.HandleDownloadZip)
		r.Get("/download-file/{session_id}/{index}", genH.HandleDownloadFile)
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(tokens))
			r.Get("/verify-token", authH.HandleVerifyToken)
			r.Post("/save-project", projH.HandleSave)
			r.Get("/projects", projH.HandleList)
			r.Get("/project/{id}", projH.HandleGet)
			r.Delete("/project/{id}", projH.HandleDelete)
		})
	})
	api.router = r
	return api
}

// do sends a request and returns the recorder. body may be a string or any
// value to JSON-encode; token adds a bearer header when non-empty.
func (a *testAPI) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&v), "body: %s", rr.Body.String())
	return v
}

// registerUser runs the full registration flow and returns the token.
func (a *testAPI) registerUser(t *testing.T, username string) string {
	t.Helper()
	creds := map[string]string{"username": username, "email": username + "@example.com", "password": "s3cret-pw"}
	rr := a.do(t, http.MethodPost, "/api/send-otp", creds, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	creds["otp"] = testCode
	rr = a.do(t, http.MethodPost, "/api/verify-otp-register", creds, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	return decode[handler.AuthResponse](t, rr).Token
}
