// Package core provides the error taxonomy shared by the submission client,
// the relay server and the CLI.
package core

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the type of error that occurred
type ErrorType string

const (
	// ErrorTypeConnection indicates the connection to the target could not be
	// established (DNS, refused, TLS negotiation).
	ErrorTypeConnection ErrorType = "connection_error"
	// ErrorTypeTransport indicates the connection was lost after it was
	// established, before the full response was read.
	ErrorTypeTransport ErrorType = "transport_error"
	// ErrorTypeInvalidRequest indicates the request could not be built.
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	// ErrorTypeAuthentication indicates a rejected relay credential.
	ErrorTypeAuthentication ErrorType = "authentication_error"
	// ErrorTypeNotFound indicates a missing resource on the relay.
	ErrorTypeNotFound ErrorType = "not_found_error"
)

// SubmitError is the error type returned by every failed submission.
// Non-2xx upstream replies are not errors.
type SubmitError struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	// Host is the target authority, when known.
	Host string `json:"host,omitempty"`
	// Original error for debugging (not exposed to relay clients)
	Err error `json:"-"`
}

// Error implements the error interface
func (e *SubmitError) Error() string {
	if e.Host != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Host, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the error unwrapping interface
func (e *SubmitError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the status the relay answers with for this error.
func (e *SubmitError) HTTPStatusCode() int {
	switch e.Type {
	case ErrorTypeConnection, ErrorTypeTransport:
		return http.StatusBadGateway
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON converts the error to a JSON-compatible map
func (e *SubmitError) ToJSON() map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{
			"type":    e.Type,
			"message": e.Message,
		},
	}
}

// NewConnectionError creates an error for a connection that was never established.
func NewConnectionError(host string, message string, err error) *SubmitError {
	return &SubmitError{
		Type:    ErrorTypeConnection,
		Message: message,
		Host:    host,
		Err:     err,
	}
}

// NewTransportError creates an error for a connection lost mid-exchange.
func NewTransportError(host string, message string, err error) *SubmitError {
	return &SubmitError{
		Type:    ErrorTypeTransport,
		Message: message,
		Host:    host,
		Err:     err,
	}
}

// NewInvalidRequestError creates a new invalid request error (400)
func NewInvalidRequestError(message string, err error) *SubmitError {
	return &SubmitError{
		Type:    ErrorTypeInvalidRequest,
		Message: message,
		Err:     err,
	}
}

// NewAuthenticationError creates a new authentication error (401)
func NewAuthenticationError(message string) *SubmitError {
	return &SubmitError{
		Type:    ErrorTypeAuthentication,
		Message: message,
	}
}

// NewNotFoundError creates a new not found error (404)
func NewNotFoundError(message string) *SubmitError {
	return &SubmitError{
		Type:    ErrorTypeNotFound,
		Message: message,
	}
}

// IsConnectionError reports whether err is a connection failure.
func IsConnectionError(err error) bool {
	return hasType(err, ErrorTypeConnection)
}

// IsTransportError reports whether err is a mid-exchange failure.
func IsTransportError(err error) bool {
	return hasType(err, ErrorTypeTransport)
}

// TypeOf returns the ErrorType of err, or "" when err is not a SubmitError.
func TypeOf(err error) ErrorType {
	var se *SubmitError
	if errors.As(err, &se) {
		return se.Type
	}
	return ""
}

func hasType(err error, typ ErrorType) bool {
	return TypeOf(err) == typ
}
