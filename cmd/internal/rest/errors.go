package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"teamly/cmd/internal/model"
)

// HTTPError is a non-2xx API response.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int

	// Message is the server's error text when the body carried one.
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("rest: %s %s: HTTP %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("rest: %s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// Is makes a 404 match model.ErrNotFound, which the cache treats as a clean miss.
func (e *HTTPError) Is(target error) bool {
	return target == model.ErrNotFound && e.StatusCode == http.StatusNotFound
}

// IsUnauthorized reports whether err is a 401 or 403 API response.
func IsUnauthorized(err error) bool {
	he, ok := asHTTPError(err)
	return ok && (he.StatusCode == http.StatusUnauthorized || he.StatusCode == http.StatusForbidden)
}

// IsRateLimited reports whether err is a 429 API response.
func IsRateLimited(err error) bool {
	he, ok := asHTTPError(err)
	return ok && he.StatusCode == http.StatusTooManyRequests
}

func asHTTPError(err error) (*HTTPError, bool) {
	var he *HTTPError
	ok := errors.As(err, &he)
	return he, ok
}

func newHTTPError(method, path string, status int, body []byte) *HTTPError {
	return &HTTPError{
		Method:     method,
		Path:       path,
		StatusCode: status,
		Message:    errorMessage(body),
	}
}

// errorMessage extracts {"message": ...} or {"error": ...}, falling back to a trimmed body.
func errorMessage(body []byte) string {
	var env struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &env) == nil {
		if env.Message != "" {
			return env.Message
		}
		if env.Error != "" {
			return env.Error
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
