package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/promptforge/internal/apperror"
	"github.com/sakif/promptforge/internal/auth"
	"github.com/sakif/promptforge/internal/model"
	"github.com/sakif/promptforge/internal/service"
)

// AuthHandler exposes the emailed-code registration and login flows.
//
// HANDLER RESPONSIBILITIES:
//   - HandleSendOTP          → check the account is new, email a registration code
//   - HandleVerifyRegister   → check the code, create the account, issue a token
//   - HandleSendLoginOTP     → check the password, email a login code
//   - HandleVerifyLogin      → check the code, issue a token
//   - HandleLegacyRegister / HandleLegacyLogin → point old clients at the OTP flow
//   - HandleVerifyToken      → echo the identity of a valid bearer token
//
// DEPENDENCY CHAIN:
//   - auth *service.AuthService → all business rules live there
type AuthHandler struct {
	auth   *service.AuthService
	logger *slog.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(authService *service.AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{auth: authService, logger: logger}
}

// credentialsRequest is the body of every OTP endpoint. OTP is ignored by
// the send endpoints.
type credentialsRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	OTP      string `json:"otp"`
}

func (c credentialsRequest) credentials() service.Credentials {
	return service.Credentials{Username: c.Username, Email: c.Email, Password: c.Password}
}

// OTPSentResponse confirms that a code was emailed.
type OTPSentResponse struct {
	Message string `json:"message"`
	OTPSent bool   `json:"otp_sent"`
}

// UserResponse is the public view of an account.
type UserResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// AuthResponse is returned by both verify endpoints.
type AuthResponse struct {
	Message string       `json:"message"`
	Token   string       `json:"token"`
	User    UserResponse `json:"user"`
}

func newUserResponse(u *model.User) UserResponse {
	return UserResponse{ID: u.ID, Username: u.Username, Email: u.Email}
}

// HandleSendOTP emails a registration code.
//
// HTTP: POST /api/send-otp
// REQUEST BODY: {"username": "...", "email": "...", "password": "..."}
func (h *AuthHandler) HandleSendOTP(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.auth.RequestRegistration(r.Context(), req.credentials()); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, OTPSentResponse{Message: "OTP sent successfully", OTPSent: true})
}

// HandleVerifyRegister completes registration.
//
// HTTP: POST /api/verify-otp-register
// REQUEST BODY: {"username": "...", "email": "...", "password": "...", "otp": "123456"}
func (h *AuthHandler) HandleVerifyRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	res, err := h.auth.VerifyRegistration(r.Context(), req.credentials(), req.OTP)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, AuthResponse{
		Message: "User registered successfully",
		Token:   res.Token,
		User:    newUserResponse(res.User),
	})
}

// HandleSendLoginOTP emails a login code after checking the password.
//
// HTTP: POST /api/send-otp-login
func (h *AuthHandler) HandleSendLoginOTP(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.auth.RequestLogin(r.Context(), req.credentials()); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, OTPSentResponse{Message: "OTP sent successfully", OTPSent: true})
}

// HandleVerifyLogin completes login.
//
// HTTP: POST /api/verify-otp-login
func (h *AuthHandler) HandleVerifyLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	res, err := h.auth.VerifyLogin(r.Context(), req.credentials(), req.OTP)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, AuthResponse{
		Message: "Login successful",
		Token:   res.Token,
		User:    newUserResponse(res.User),
	})
}

// HandleLegacyRegister rejects the old single-step registration.
//
// HTTP: POST /api/register
func (h *AuthHandler) HandleLegacyRegister(w http.ResponseWriter, r *http.Request) {
	writeError(w, h.logger, apperror.ValidationFailed("", "Please use OTP verification for registration"))
}

// HandleLegacyLogin rejects the old single-step login.
//
// HTTP: POST /api/login
func (h *AuthHandler) HandleLegacyLogin(w http.ResponseWriter, r *http.Request) {
	writeError(w, h.logger, apperror.ValidationFailed("", "Please use OTP verification for login"))
}

// TokenInfo is the decoded content of a bearer token.
type TokenInfo struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Exp      int64  `json:"exp"`
}

// VerifyTokenResponse wraps TokenInfo the way the frontend expects.
type VerifyTokenResponse struct {
	User TokenInfo `json:"user"`
}

// HandleVerifyToken returns the caller's identity.
//
// HTTP: GET /api/verify-token (behind auth.RequireAuth)
func (h *AuthHandler) HandleVerifyToken(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, h.logger, apperror.Unauthorized("Not authenticated"))
		return
	}
	writeJSON(w, http.StatusOK, VerifyTokenResponse{User: TokenInfo{
		UserID:   id.UserID,
		Username: id.Username,
		Exp:      id.ExpiresAt.Unix(),
	}})
}
