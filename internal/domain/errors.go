package domain

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Sentinel errors forming the failure taxonomy of the gateway. Callers branch
// with errors.Is; adapters wrap these with fmt.Errorf("%w: ...") to attach
// transport detail.
var (
	// Auth failures.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrRefreshRejected    = errors.New("refresh grant rejected by remote")
	ErrProbeAmbiguous     = errors.New("identity probe response is ambiguous")
	// ErrLoginRedirect means the remote answered with a redirect to its login
	// surface: the session is gone even if the transport call "succeeded".
	ErrLoginRedirect    = errors.New("remote redirected to login surface")
	ErrNotAuthenticated = errors.New("no authenticated session")

	// Transport failures.
	ErrTimeout          = errors.New("remote call timed out")
	ErrConnectionFailed = errors.New("remote connection failed")

	// Payload failures.
	ErrMalformedResponse = errors.New("malformed remote response")

	// Cache-tier failures. Disk problems are logged and swallowed by the
	// cache; the memory tier is the source of truth.
	ErrDiskUnavailable = errors.New("persistent cache tier unavailable")
	ErrCacheMiss       = errors.New("entry not found in cache")
)

// ErrorCode represents a specific error condition on the HTTP facade.
type ErrorCode string

const (
	CodeBadRequest        ErrorCode = "BadRequest"
	CodeNotAuthenticated  ErrorCode = "NotAuthenticated"
	CodeRemoteUnavailable ErrorCode = "RemoteUnavailable"
	CodeInternal          ErrorCode = "InternalServerError"
)

// ErrorResponse is the standard error format returned to HTTP callers.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

// NewErrorResponse creates a new ErrorResponse struct.
func NewErrorResponse(code ErrorCode, message string, details string) ErrorResponse {
	return ErrorResponse{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// WriteJSON sends an ErrorResponse as JSON with the given HTTP status code.
func (er ErrorResponse) WriteJSON(w http.ResponseWriter, httpStatusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatusCode)
	json.NewEncoder(w).Encode(er) // Best effort, error from Encode is not typically handled here.
}
