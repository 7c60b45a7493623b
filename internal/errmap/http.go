package errmap

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aelexs/connection-gateway/internal/domain"
)

// HTTPError represents an HTTP error response for a rejected upgrade.
type HTTPError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e HTTPError) Error() string {
	return e.Message
}

type httpMapping struct {
	err        error
	statusCode int
	code       string
}

// httpMappings maps gateway errors to HTTP status codes and error codes.
// Order matters: first match wins (via errors.Is).
var httpMappings = []httpMapping{
	{domain.ErrMethodNotAllowed, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED"},
	{domain.ErrOriginNotAllowed, http.StatusForbidden, "ORIGIN_NOT_ALLOWED"},
	{domain.ErrHandshake, http.StatusBadRequest, "BAD_HANDSHAKE"},
	{domain.ErrInvalidInput, http.StatusBadRequest, "INVALID_ARGUMENT"},
	{domain.ErrEmptyID, http.StatusBadRequest, "INVALID_ARGUMENT"},
	{domain.ErrInvalidID, http.StatusBadRequest, "INVALID_ARGUMENT"},
	{domain.ErrConnectionNotFound, http.StatusNotFound, "NOT_FOUND"},
	{domain.ErrRateLimited, http.StatusTooManyRequests, "RATE_LIMITED"},
	{domain.ErrShuttingDown, http.StatusServiceUnavailable, "SHUTTING_DOWN"},
	{domain.ErrUnavailable, http.StatusServiceUnavailable, "UNAVAILABLE"},
}

// ToHTTPError converts a gateway error to an HTTP error.
func ToHTTPError(err error) HTTPError {
	if err == nil {
		return HTTPError{StatusCode: http.StatusOK}
	}
	for _, m := range httpMappings {
		if errors.Is(err, m.err) {
			return HTTPError{StatusCode: m.statusCode, Code: m.code, Message: err.Error()}
		}
	}
	// Never expose internal error details to clients
	return HTTPError{StatusCode: http.StatusInternalServerError, Code: "INTERNAL", Message: "internal error"}
}

// ToHTTPStatusCode extracts just the HTTP status code for an error.
func ToHTTPStatusCode(err error) int {
	return ToHTTPError(err).StatusCode
}

// WriteHTTPError writes err as a JSON error body with the mapped status.
// Used for upgrade rejections before any WebSocket handshake has happened.
func WriteHTTPError(w http.ResponseWriter, err error) {
	he := ToHTTPError(err)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if errors.Is(err, domain.ErrMethodNotAllowed) {
		w.Header().Set("Allow", http.MethodGet)
	}
	w.WriteHeader(he.StatusCode)
	_ = json.NewEncoder(w).Encode(he)
}
