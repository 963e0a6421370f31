// Package protocol defines the request/response envelope shared by every
// transport (HTTP execute endpoints, the realtime session endpoint and the
// MCP aggregator) together with the error taxonomy surfaced to callers.
package protocol

import (
	"fmt"
	"net/http"
)

// Request is the routed request envelope. Service is the transport-routing
// field: the router resolves it and strips it before the request reaches a
// provider.
type Request struct {
	ID      string                 `json:"id"`
	Service string                 `json:"service,omitempty"`
	Method  string                 `json:"method"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// Response correlates back to the originating request by ID and carries
// either a result or an error, never both.
type Response struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  *Error      `json:"error,omitempty"`
}

// NewResponse builds a success response correlated to req.
func NewResponse(id string, result interface{}) *Response {
	return &Response{ID: id, Result: result}
}

// NewErrorResponse builds an error response correlated to req.
func NewErrorResponse(id string, err *Error) *Response {
	return &Response{ID: id, Error: err}
}

// ErrorCode identifies a class of failure. Codes are stable wire values.
type ErrorCode string

const (
	CodeServiceNotFound      ErrorCode = "SERVICE_NOT_FOUND"
	CodeServiceNotRunning    ErrorCode = "SERVICE_NOT_RUNNING"
	CodeUnsupportedTransport ErrorCode = "UNSUPPORTED_TRANSPORT"
	CodeMethodNotFound       ErrorCode = "METHOD_NOT_FOUND"
	CodeInvalidParams        ErrorCode = "INVALID_PARAMS"
	CodeAuthFailed           ErrorCode = "AUTH_FAILED"
	CodeScopeViolation       ErrorCode = "SCOPE_VIOLATION"
	CodeRateLimited          ErrorCode = "RATE_LIMITED"
	CodeResourceNotFound     ErrorCode = "RESOURCE_NOT_FOUND"
	CodeTimeout              ErrorCode = "TIMEOUT"
	CodeInternal             ErrorCode = "INTERNAL_ERROR"
)

// Error is the uniform caller-visible error shape across all transports.
type Error struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError creates a typed error without attached data.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates a typed error with a formatted message.
func Errorf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsError converts an arbitrary error into a *Error. Typed errors pass
// through unchanged so provider errors keep their code end to end; anything
// else becomes INTERNAL_ERROR.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	if pe, ok := err.(*Error); ok {
		return pe
	}
	return &Error{Code: CodeInternal, Message: err.Error()}
}

// HTTPStatus maps an error code to the HTTP status the gateway responds with.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeServiceNotFound, CodeResourceNotFound, CodeMethodNotFound:
		return http.StatusNotFound
	case CodeServiceNotRunning, CodeUnsupportedTransport:
		return http.StatusConflict
	case CodeInvalidParams:
		return http.StatusBadRequest
	case CodeAuthFailed:
		return http.StatusUnauthorized
	case CodeScopeViolation:
		return http.StatusForbidden
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
