package web

// errors.go maps service errors to HTTP responses.
//
// The technical error is logged with the request id; the client receives
// the core.MapError message, as JSON or, for htmx requests, as an HTML
// fragment.

import (
	"context"
	"errors"
	"net/http"

	"github.com/JonMunkholm/activism/internal/batch"
	"github.com/JonMunkholm/activism/internal/core"
	"github.com/JonMunkholm/activism/internal/logging"
	"github.com/JonMunkholm/activism/internal/service"
	"github.com/JonMunkholm/activism/internal/web/templates"
)

// ErrorResponse is the JSON body of an error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// errBadRequest marks malformed requests.
var errBadRequest = errors.New("bad request")

// statusFor picks the HTTP status of an error.
func statusFor(err error) int {
	var ve *service.ValidationError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &ve):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, service.ErrTooManyRuns):
		return http.StatusServiceUnavailable
	case errors.Is(err, batch.ErrBatchNotFound), core.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err and writes its user message.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := core.MapError(err)

	var ve *service.ValidationError
	if errors.As(err, &ve) && ve.Message != "" {
		// Keep the parser's translated message.
		msg.Message = ve.Message
	}

	logger := logging.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error("request error", "path", r.URL.Path, "status", status, "code", msg.Code, "error", err)
	} else {
		logger.Info("request rejected", "path", r.URL.Path, "status", status, "code", msg.Code, "error", err)
	}

	if isHTMX(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		_ = templates.ErrorAlert(msg.Message, msg.Action, msg.Code).Render(r.Context(), w)
		return
	}
	writeJSON(w, status, ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

// writeError writes a plain JSON error for failures outside the service.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}
