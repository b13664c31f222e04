package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"unicode"
	"unicode/utf8"

	"parley/chat"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// statusFor maps a service error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, chat.ErrValidation), errors.Is(err, chat.ErrConflict):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrAuth), errors.Is(err, chat.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, chat.ErrNotAMember):
		return http.StatusForbidden
	case errors.Is(err, chat.ErrNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// messageFor is the client-facing text for err, with internal failures
// replaced by fallback.
func messageFor(err error, fallback string) string {
	switch {
	case errors.Is(err, chat.ErrConflict):
		return "Username already exists"
	case errors.Is(err, chat.ErrAuth):
		return "Invalid credentials"
	case errors.Is(err, chat.ErrNotAMember):
		return "You are not a member of this group"
	case errors.Is(err, chat.ErrGroupNotFound):
		return "Group not found"
	case errors.Is(err, chat.ErrAlreadyResolved):
		return "Request already resolved"
	case statusFor(err) == http.StatusInternalServerError:
		return fallback
	}
	return capitalize(err.Error())
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

func (s *Server) fail(w http.ResponseWriter, err error, fallback string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.WithError(err).WithField("component", "api").Error(fallback)
	}
	writeError(w, status, messageFor(err, fallback))
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Join(chat.ErrValidation, err)
	}
	return nil
}
