package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Error codes used in JSON error bodies.
const (
	CodeBadRequest       = "bad_request"
	CodeUnauthorized     = "unauthorized"
	CodeNotFound         = "not_found"
	CodeMethodNotAllowed = "method_not_allowed"
	CodeConflict         = "conflict"
	CodeForbidden        = "forbidden"
	CodeTooLarge         = "request_too_large"
	CodeRateLimited      = "rate_limited"
	CodeUnavailable      = "unavailable"
	CodeInternal         = "internal_error"
)

// HTTPError is a transport-level failure rendered as a JSON body.
type HTTPError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

func newError(status int, code, format string, args ...any) *HTTPError {
	return &HTTPError{Status: status, Code: code, Message: fmt.Sprintf(format, args...)}
}

func badRequest(format string, args ...any) *HTTPError {
	return newError(http.StatusBadRequest, CodeBadRequest, format, args...)
}

func notFound(format string, args ...any) *HTTPError {
	return newError(http.StatusNotFound, CodeNotFound, format, args...)
}

// errorBody is the envelope of every transport error.
type errorBody struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Error   string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// The client may already be gone.
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	var he *HTTPError
	if !errors.As(err, &he) {
		he = newError(http.StatusInternalServerError, CodeInternal, "%v", err)
	}
	writeJSON(w, he.Status, errorBody{Success: false, Code: he.Code, Error: he.Message})
}

// decodeJSON reads a JSON request body into v. Unknown fields are rejected.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return badRequest("request body is required")
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return newError(http.StatusRequestEntityTooLarge, CodeTooLarge,
				"request body exceeds %d bytes", tooLarge.Limit)
		}
		return badRequest("invalid JSON body: %v", err)
	}
	return nil
}
