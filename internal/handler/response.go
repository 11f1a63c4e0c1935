package handler

// RESPONSE HELPERS:
// These functions standardise how we send JSON responses and errors.
//
// With helpers, handlers stay short and consistent:
//   writeJSON(w, http.StatusOK, data)
//   writeError(w, logger, err)
//
// CONSISTENT ERROR FORMAT:
// Every error response from our API has the same shape:
//   {"error": "not_found", "message": "Project not found", "detail": "Project not found"}
//
// "detail" repeats the message because the existing frontend reads that key.

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sakif/promptforge/internal/apperror"
)

// maxBodyBytes caps request bodies. Saved projects carry whole file sets, so
// the limit is generous.
const maxBodyBytes = 8 << 20

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`   // Machine-readable error type (e.g., "not_found")
	Message string `json:"message"` // Human-readable description
	Detail  string `json:"detail"`  // Same text, for older clients
}

// MessageResponse is the body of endpoints that only confirm an action.
type MessageResponse struct {
	Message string `json:"message"`
}

// writeJSON sends a JSON response with the given status code.
//
// HEADER ORDER MATTERS:
// Headers and status must be set BEFORE the body is written. Once Encode
// calls w.Write, later header changes are silently ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// headers are gone already; all we can do is log
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// statusFor maps an error Kind to its HTTP status.
//
// The service layer never knows about HTTP; this switch is the only place
// where a Kind becomes a status code.
func statusFor(kind apperror.Kind) int {
	switch kind {
	case apperror.KindValidation:
		return http.StatusBadRequest // 400
	case apperror.KindUnauthorized:
		return http.StatusUnauthorized // 401
	case apperror.KindForbidden:
		return http.StatusForbidden // 403
	case apperror.KindNotFound:
		return http.StatusNotFound // 404
	case apperror.KindConflict:
		return http.StatusConflict // 409
	case apperror.KindRateLimited:
		return http.StatusTooManyRequests // 429
	case apperror.KindUpstream:
		return http.StatusBadGateway // 502
	case apperror.KindTimeout:
		return http.StatusGatewayTimeout // 504
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps a domain error to the appropriate HTTP status code and
// sends it.
//
// errors.As walks the whole chain, so an AppError wrapped by the service
// ("service/project: saving project: %w") is still found.
//
// Upstream and Timeout errors carry the collaborator's raw error as their
// cause. Only the AppError's own Message reaches the client; the cause is
// logged. Errors with no AppError at all become a generic 500: the raw text
// might contain SQL, file paths or keys.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) && appErr.Kind != apperror.KindInternal {
		status := statusFor(appErr.Kind)
		if status >= http.StatusInternalServerError {
			logger.Error("request failed",
				slog.Int("status", status),
				slog.String("error", err.Error()),
				slog.Any("cause", errors.Unwrap(appErr)),
			)
		}
		if appErr.Kind == apperror.KindUnauthorized {
			w.Header().Set("WWW-Authenticate", "Bearer")
		}
		writeJSON(w, status, ErrorResponse{
			Error:   appErr.Kind.String(),
			Message: appErr.Message,
			Detail:  appErr.Message,
		})
		return
	}

	logger.Error("internal error", slog.String("error", err.Error()))
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   apperror.KindInternal.String(),
		Message: "An internal error occurred",
		Detail:  "An internal error occurred",
	})
}

// decodeJSON reads the request body into dst. A malformed body is a
// validation error.
//
// JSON DECODING:
// json.NewDecoder streams from r.Body; http.MaxBytesReader stops a client
// from sending an unbounded body.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return apperror.ValidationFailed("body",
				fmt.Sprintf("request body must be %d bytes or less", tooBig.Limit))
		}
		return apperror.ValidationFailed("body", "Invalid JSON body")
	}
	return nil
}
