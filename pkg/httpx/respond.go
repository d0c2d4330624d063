// Package httpx holds the JSON response helpers and middleware shared by the
// HTTP surfaces.
package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mahaj/guildchat/pkg/model"
)

func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// StatusFor maps domain errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, model.ErrTransient):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// Message is the client-facing text for err. Internal errors are not echoed.
func Message(err error) string {
	if StatusFor(err) == http.StatusInternalServerError {
		return "internal error"
	}
	return err.Error()
}

// Fail writes err with its mapped status.
func Fail(w http.ResponseWriter, err error) {
	Error(w, StatusFor(err), Message(err))
}

// ErrorForStatus maps a response status back onto the domain errors, for
// HTTP clients of these services.
func ErrorForStatus(status int, message string) error {
	var base error
	switch {
	case status == http.StatusUnauthorized:
		base = model.ErrUnauthorized
	case status == http.StatusForbidden:
		base = model.ErrForbidden
	case status == http.StatusBadRequest:
		base = model.ErrValidation
	case status == http.StatusNotFound:
		base = model.ErrNotFound
	case status == http.StatusConflict:
		base = model.ErrConflict
	case status == http.StatusTooManyRequests, status >= 500:
		base = model.ErrTransient
	default:
		return fmt.Errorf("unexpected status %d: %s", status, message)
	}
	return fmt.Errorf("%s: %w", message, base)
}
