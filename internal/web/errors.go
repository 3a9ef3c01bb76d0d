package web

// errors.go provides unified error responses for the API.
//
// Every error is logged with its technical detail and the request ID, and
// returned to the client as the user message from core.MapError. The
// technical text is echoed in Detail only for 4xx responses, where it
// describes the client's own input.

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/geopublish/internal/core"
	"github.com/JonMunkholm/geopublish/internal/domain"
	"github.com/JonMunkholm/geopublish/internal/logging"
)

// ErrorResponse is the JSON body of every error response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Action    string `json:"action,omitempty"`
	Code      string `json:"code"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

var errNotConfigured = domain.PrerequisiteError("web", "this endpoint is not configured on the server")

// respondError maps err to a user message and writes it. A zero status is
// derived from the error class.
func respondError(w http.ResponseWriter, r *http.Request, err error, status int) {
	if status == 0 {
		status = statusFor(err)
	}
	msg := core.MapError(err)
	requestID := middleware.GetReqID(r.Context())

	logger := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request error", attrs...)
	} else {
		logger.Warn("request error", attrs...)
	}

	if status == http.StatusConflict && errors.Is(err, core.ErrTooManyRuns) {
		w.Header().Set("Retry-After", "5")
	}

	resp := ErrorResponse{
		Error:     msg.Message,
		Message:   msg.Message,
		Action:    msg.Action,
		Code:      msg.Code,
		RequestID: requestID,
	}
	if status < http.StatusInternalServerError {
		resp.Detail = err.Error()
	}
	writeJSONStatus(w, status, resp)
}

// writeErrorMessage writes an error that did not come from a component,
// such as a malformed request body.
func writeErrorMessage(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	logging.FromContext(r.Context()).Warn("request rejected",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"reason", message,
	)
	writeJSONStatus(w, status, ErrorResponse{
		Error:     message,
		Message:   message,
		Code:      code,
		RequestID: middleware.GetReqID(r.Context()),
	})
}

// badRequest rejects malformed input.
func badRequest(w http.ResponseWriter, r *http.Request, message string) {
	writeErrorMessage(w, r, http.StatusBadRequest, "REQ001", message)
}

// statusFor derives the HTTP status from an error class.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrRunNotFound), errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, core.ErrTooManyRuns):
		return http.StatusConflict
	case errors.Is(err, core.ErrNoItems),
		errors.Is(err, domain.ErrName),
		errors.Is(err, domain.ErrNotSupported),
		errors.Is(err, domain.ErrInspection),
		errors.Is(err, errOutsideScanRoot),
		errors.Is(err, errInvalidPattern):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrPrerequisite):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrConnection), errors.Is(err, domain.ErrPublish):
		switch domain.StatusOf(err) {
		case http.StatusNotFound:
			return http.StatusNotFound
		case http.StatusConflict:
			return http.StatusConflict
		}
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrDatabase) && strings.Contains(err.Error(), "does not exist"):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
