package appwrite

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/atinyakov/HabitKeeper/internal/models"
)

// Error is a structured error response from the gateway. Callers can use
// errors.As to extract it, or rely on models.Normalize which reads its
// kind and display message.
type Error struct {
	// StatusCode is the HTTP status code of the response.
	StatusCode int `json:"code"`
	// Type is the gateway error type, e.g. "user_invalid_credentials".
	Type string `json:"type"`
	// Message is the human-readable description from the gateway.
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("appwrite: %s (%d): %s", e.Type, e.StatusCode, e.Message)
}

// Gateway error types the client inspects.
const (
	TypeUserInvalidCredentials = "user_invalid_credentials"
	TypeUserAlreadyExists      = "user_already_exists"
	TypeSessionAlreadyExists   = "user_session_already_exists"
	TypeRowNotFound            = "row_not_found"
	TypeGeneralUnauthorized    = "general_unauthorized_scope"
	TypeUserUnauthorized       = "user_unauthorized"
)

// ErrorKind maps the HTTP status onto the client error taxonomy. The
// gateway answers permission failures on rows with 401 and an
// authorization type, which counts as forbidden like a 403.
func (e *Error) ErrorKind() models.ErrorKind {
	switch {
	case e.StatusCode == http.StatusNotFound:
		return models.KindNotFound
	case e.StatusCode == http.StatusForbidden:
		return models.KindForbidden
	case e.StatusCode == http.StatusUnauthorized &&
		(e.Type == TypeUserUnauthorized || e.Type == TypeGeneralUnauthorized):
		return models.KindForbidden
	case e.StatusCode >= 500:
		return models.KindTransport
	case e.StatusCode >= 400:
		return models.KindRejected
	default:
		return models.KindUnknown
	}
}

// DisplayMessage is the text shown to the user. Server failures get the
// generic transport text instead of internal details.
func (e *Error) DisplayMessage() string {
	if e.StatusCode >= 500 {
		return models.TransportMessage
	}
	return e.Message
}

// IsType reports whether err is an *Error of the given gateway type.
func IsType(err error, typ string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Type == typ
	}
	return false
}

// IsStatus reports whether err is an *Error with the given HTTP status.
func IsStatus(err error, status int) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == status
	}
	return false
}
