package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a specific error condition reported by the messaging backend
// or by this client.
type ErrorCode string

const (
	ErrCodeNoAuthToken      ErrorCode = "NoAuthToken"      // precondition, never retried
	ErrCodeNotConnected     ErrorCode = "NotConnected"     // precondition, never retried
	ErrCodeConnectFailed    ErrorCode = "ConnectFailed"    // transport, retried under backoff
	ErrCodeAuthFailed       ErrorCode = "AuthFailed"       // protocol, fatal to the connection
	ErrCodeSendRejected     ErrorCode = "SendRejected"     // server refused a send
	ErrCodeConnectionClosed ErrorCode = "ConnectionClosed" // client disconnected while waiting
	ErrCodeBadRequest       ErrorCode = "BadRequest"
	ErrCodeMethodNotAllowed ErrorCode = "MethodNotAllowed"
	ErrCodeInvalidAPIKey    ErrorCode = "InvalidAPIKey"
	ErrCodeUnavailable      ErrorCode = "ServiceUnavailable"
	ErrCodeInternal         ErrorCode = "InternalServerError"
)

var (
	// ErrNoAuthToken is returned by Connect when the AuthProvider has no token.
	ErrNoAuthToken = errors.New("no authentication token")

	// ErrNotConnected is returned by commands that need a live socket.
	ErrNotConnected = errors.New("socket not connected")

	// ErrConnectionClosed is returned to a pending Connect when Disconnect is called first.
	ErrConnectionClosed = errors.New("connection closed by client")

	// ErrAuthRejected marks a dial that the server refused because of the credentials.
	// Dialers wrap it so the transport can tell auth failures from network failures.
	ErrAuthRejected = errors.New("authentication rejected by server")
)

// ErrorResponse is the error shape exchanged with the messaging backend. It is the
// payload of "auth-error" and "error" events and of HTTP error bodies served by the daemon.
type ErrorResponse struct {
	Code    ErrorCode `json:"code,omitempty"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

// NewErrorResponse creates a new ErrorResponse struct.
func NewErrorResponse(code ErrorCode, message string, details string) ErrorResponse {
	return ErrorResponse{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// ParseErrorResponse decodes an error payload. Servers send either an object or a bare string.
func ParseErrorResponse(raw json.RawMessage) ErrorResponse {
	var resp ErrorResponse
	if err := json.Unmarshal(raw, &resp); err == nil && resp.Message != "" {
		return resp
	}
	var msg string
	if err := json.Unmarshal(raw, &msg); err == nil {
		return ErrorResponse{Message: msg}
	}
	return ErrorResponse{Message: string(raw)}
}

// WriteJSON sends an ErrorResponse as JSON with the given HTTP status code.
func (er ErrorResponse) WriteJSON(w http.ResponseWriter, httpStatusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatusCode)
	json.NewEncoder(w).Encode(er)
}

// ConnectError is returned by Connect once the reconnect budget is exhausted.
// It unwraps to the last transport error.
type ConnectError struct {
	Attempts int
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect failed after %d reconnect attempts: %v", e.Attempts, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// AuthError is a server-signalled authentication failure. It is fatal to the current
// connection; recovery needs a fresh token and a new Connect.
type AuthError struct {
	Response ErrorResponse
	Err      error
}

func (e *AuthError) Error() string {
	if e.Response.Message != "" {
		return "authentication error: " + e.Response.Message
	}
	if e.Err != nil {
		return "authentication error: " + e.Err.Error()
	}
	return "authentication error"
}

func (e *AuthError) Unwrap() error { return e.Err }

// AckError is returned when the server acknowledges a send with success=false.
type AckError struct {
	Event   string
	Message string
}

func (e *AckError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Event, e.Message)
}
