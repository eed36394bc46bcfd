package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tOgg1/courier/internal/docstore"
	"github.com/tOgg1/courier/internal/messaging"
	"github.com/tOgg1/courier/internal/notifications"
	"github.com/tOgg1/courier/internal/session"
)

var (
	errNotificationNotFound = errors.New("notification not found")
	errRateLimited          = errors.New("rate limit exceeded")
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, messaging.ErrNotPermitted):
		return http.StatusForbidden
	case messaging.IsRejection(err), errors.Is(err, notifications.ErrNotStarted):
		return http.StatusUnprocessableEntity
	case errors.Is(err, messaging.ErrConversationNotFound),
		errors.Is(err, messaging.ErrUserNotFound),
		errors.Is(err, errNotificationNotFound),
		errors.Is(err, docstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeFailure(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}
