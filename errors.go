package chatsync

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUnauthenticated      = errors.New("unauthenticated")
	ErrNotFound             = errors.New("not found")
	ErrForbidden            = errors.New("forbidden")
	ErrPartialInput         = errors.New("unresolved input")
	ErrNetwork              = errors.New("network error")
	ErrInvalidInput         = errors.New("invalid input")
	ErrNoActiveConversation = errors.New("no active conversation")
	ErrNotConnected         = errors.New("realtime channel not connected")
)

// APIError is a non-2xx response from the chat server.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps the status code onto the package sentinels so callers can use
// errors.Is(err, ErrForbidden) and friends.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return ErrUnauthenticated
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict, http.StatusUnprocessableEntity:
		return ErrPartialInput
	case http.StatusRequestTimeout, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return ErrNetwork
	}
	return nil
}

// UserMessage renders err the way the chat view surfaces it: the server's
// message when there is one, fallback otherwise.
func UserMessage(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return "Please log in again"
	case errors.Is(err, ErrNetwork):
		return fallback + ": server unreachable"
	}
	return fallback
}
